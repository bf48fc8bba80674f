// Package bridge implements component C: the per-mapping state
// machine that owns one tcpsrv.Server and one localstream.Client and
// routes bytes between them. Every exported method is safe for
// concurrent use; a single mutex guards the two state fields and the
// attached-peer reference, per spec.md §5.
package bridge

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/syc2012/nptpd/internal/localstream"
	"github.com/syc2012/nptpd/internal/logging"
	"github.com/syc2012/nptpd/internal/mapping"
	"github.com/syc2012/nptpd/internal/tcpsrv"
)

// Bridge is one mapping's forwarding state machine. Instances never
// share state with each other.
type Bridge struct {
	cfg mapping.Config
	log *logrus.Entry

	srv *tcpsrv.Server

	// connMu serializes reconnectLocal so that two triggers never run
	// the open + connect sequence at the same time.
	connMu sync.Mutex

	mu    sync.Mutex
	state mapping.Mapping
	cli   *localstream.Client
	peer  net.Conn
}

// New constructs a Bridge in state S0 (nothing bound yet). Call Start
// to bring up the TCP listener and attempt the local-stream connect.
func New(cfg mapping.Config, log *logrus.Entry) *Bridge {
	return &Bridge{
		cfg:   cfg,
		log:   log,
		state: *mapping.NewMapping(cfg),
	}
}

// Config returns this bridge's immutable mapping configuration.
func (b *Bridge) Config() mapping.Config {
	return b.cfg
}

// Snapshot returns a consistent copy of the mapping's current state,
// safe to read concurrently with forwarding.
func (b *Bridge) Snapshot() mapping.Mapping {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Start brings the TCP listener up (entering LISTENING), then attempts
// the local-stream open+connect. A failure to bind the TCP port is
// fatal for this mapping only and is returned to the caller; a failure
// to connect the local-stream side is normal (the peer may not exist
// yet) and is recovered later by the filesystem watcher.
func (b *Bridge) Start(ctx context.Context) error {
	b.srv = tcpsrv.New(b.cfg.TCPPort, tcpsrv.Handlers{
		OnAccept:     b.onTCPAccept,
		OnBytes:      b.onTCPBytes,
		OnDisconnect: b.onTCPDisconnect,
		OnRefuse:     b.onTCPRefuse,
	})
	if err := b.srv.Listen(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.state.TCPState = mapping.TCPListening
	b.mu.Unlock()

	b.reconnectLocal(ctx)

	if b.cfg.RetryIdle.Time() > 0 {
		go b.retryTicker(ctx)
	}
	return nil
}

// retryTicker is the optional connect-retry ceiling from SPEC_FULL.md
// §5: on mappings configured with a non-zero retry_idle, it attempts a
// reconnect on that interval too, in addition to the filesystem
// watcher. reconnectLocal is idempotent, so an interleaved watcher
// fire and tick never race into a double-open.
func (b *Bridge) retryTicker(ctx context.Context) {
	t := time.NewTicker(b.cfg.RetryIdle.Time())
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			b.reconnectLocal(ctx)
		}
	}
}

// onAppear is the watcher's idempotent reconnect trigger: it is a
// no-op unless the mapping's local side is currently disconnected.
func (b *Bridge) onAppear(ctx context.Context) {
	b.mu.Lock()
	alreadyConnected := b.state.LocalState == mapping.LocalConnected
	b.mu.Unlock()

	if alreadyConnected {
		return
	}
	b.reconnectLocal(ctx)
}

// reconnectLocal performs the open + connect sequence of spec.md
// §4.C's construct/name-appears transitions. The local-stream client
// is only ever replaced here, and only while no reader holds the
// previous handle (enforced by onLocalDisconnect clearing b.cli before
// this can run again), resolving the Open Question in spec.md §9.
func (b *Bridge) reconnectLocal(ctx context.Context) {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	b.mu.Lock()
	if b.state.LocalState == mapping.LocalConnected {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	cli, err := localstream.Open(b.cfg.LocalAddr(), localstream.Handlers{
		OnBytes:      b.onLocalBytes,
		OnDisconnect: b.onLocalDisconnect,
	})
	if err != nil {
		b.log.WithError(err).Warn("local-stream open failed")
		return
	}

	b.mu.Lock()
	b.cli = cli
	b.state.LocalState = mapping.LocalBoundDisconnected
	b.mu.Unlock()

	if err := cli.Connect(ctx, b.cfg.PeerAddr()); err != nil {
		if logging.DumpEnabled() {
			b.log.WithError(err).Debug("local-stream connect deferred")
		}
		return
	}

	b.mu.Lock()
	b.state.LocalState = mapping.LocalConnected
	b.mu.Unlock()
	b.log.Info("local-stream connected")
}

func (b *Bridge) onTCPAccept(peer net.Conn) {
	b.mu.Lock()
	b.peer = peer
	b.state.TCPState = mapping.TCPAttached
	b.mu.Unlock()
	b.log.Info("tcp client attached")
}

// onTCPRefuse logs a connection the listener turned away, either
// because the single attachment slot is already held or because
// shutdown is in progress.
func (b *Bridge) onTCPRefuse(err error) {
	b.log.WithError(err).Warn("tcp connection refused")
}

func (b *Bridge) onTCPDisconnect(peer net.Conn) {
	b.mu.Lock()
	if b.peer == peer {
		b.peer = nil
	}
	b.state.TCPState = mapping.TCPListening
	b.mu.Unlock()
	b.log.Info("tcp client detached")
}

func (b *Bridge) onTCPBytes(peer net.Conn, chunk []byte) {
	b.mu.Lock()
	cli := b.cli
	forward := b.state.CanForward()
	b.mu.Unlock()

	if !forward || cli == nil {
		return // S3: no local attachment to forward to, drop silently
	}

	if _, err := cli.Send(chunk); err != nil && logging.DumpEnabled() {
		b.log.WithError(err).Debug("dropped tcp->local chunk")
	}
}

func (b *Bridge) onLocalBytes(chunk []byte) {
	b.mu.Lock()
	peer := b.peer
	forward := b.state.CanForward()
	b.mu.Unlock()

	if !forward || peer == nil {
		return // S2: no attached TCP peer to forward to, drop silently
	}

	if _, err := b.srv.Send(peer, chunk); err != nil && logging.DumpEnabled() {
		b.log.WithError(err).Debug("dropped local->tcp chunk")
	}
}

func (b *Bridge) onLocalDisconnect() {
	b.mu.Lock()
	b.cli = nil
	b.state.LocalState = mapping.LocalBoundDisconnected
	b.mu.Unlock()
	b.log.Info("local-stream disconnected")
}

// WatchCallback returns the function to register with the filesystem
// watcher for this mapping's (pipe_dir, pipe_name) tuple.
func (b *Bridge) WatchCallback(ctx context.Context) func() {
	return func() { b.onAppear(ctx) }
}

// Shutdown tears down the local-stream client, then the TCP listener,
// in that order, regardless of the mapping's current state.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	cli := b.cli
	b.cli = nil
	b.mu.Unlock()

	if cli != nil {
		_ = cli.Close()
	}

	if b.srv != nil {
		return b.srv.Shutdown(ctx)
	}
	return nil
}
