// Package supervisor implements component F: it loads the mapping set,
// constructs one bridge.Bridge per mapping, fans out filesystem-watch
// subscriptions, opens the control plane, and drives the engine until
// "exit" is received or ctx is cancelled. Teardown always runs in the
// reverse order of startup: control plane, watcher, then every bridge.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/syc2012/nptpd/internal/bridge"
	"github.com/syc2012/nptpd/internal/config"
	"github.com/syc2012/nptpd/internal/control"
	"github.com/syc2012/nptpd/internal/logging"
	"github.com/syc2012/nptpd/internal/mapping"
	"github.com/syc2012/nptpd/internal/watcher"
)

// Engine owns every running component for one daemon instance.
type Engine struct {
	log *logrus.Logger

	mu       sync.Mutex
	bridges  []*bridge.Bridge
	watcher  *watcher.Watcher
	control  *control.Plane
	exitOnce sync.Once
	exitCh   chan struct{}
}

// New constructs an Engine from configPath and controlAddr. It loads
// and validates the mapping set, creates the filesystem watcher and
// binds the control-plane socket; no TCP listener or local-stream
// socket is opened until Run.
func New(configPath, controlAddr string, log *logrus.Logger) (*Engine, error) {
	if log == nil {
		log = logging.New()
	}

	rows, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:    log,
		exitCh: make(chan struct{}),
	}

	w, err := watcher.New()
	if err != nil {
		return nil, err
	}
	e.watcher = w

	p, err := control.New(controlAddr, log.WithField("component", "control"))
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	e.control = p

	for _, cfg := range rows {
		entry := log.WithFields(logging.MappingFields(cfg.Index, cfg.TCPPort, cfg.PipeName))
		e.bridges = append(e.bridges, bridge.New(cfg, entry))
	}

	return e, nil
}

// Run brings up every bridge's TCP listener and local-stream attempt,
// registers one watch subscription per started mapping, then blocks on
// the control plane's read loop until "exit" arrives or ctx is
// cancelled. A mapping whose Start fails is logged and skipped; Run
// fails only when no mapping could be started. It returns once every
// component has been torn down.
func (e *Engine) Run(ctx context.Context) error {
	var (
		started  int
		startErr error
	)
	for _, b := range e.bridges {
		if err := b.Start(ctx); err != nil {
			startErr = fmt.Errorf("starting mapping %d: %w", b.Config().Index, err)
			e.log.WithError(startErr).Error("mapping disabled")
			continue
		}
		started++

		cfg := b.Config()
		if _, err := e.watcher.Subscribe(cfg.PipeDir, cfg.PipeName, b.WatchCallback(ctx)); err != nil {
			_ = e.Shutdown(ctx)
			return err
		}
	}
	if started == 0 {
		_ = e.Shutdown(ctx)
		return startErr
	}

	go func() {
		if err := e.watcher.Run(ctx); err != nil && e.log != nil {
			e.log.WithError(err).Warn("watcher loop stopped")
		}
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- e.control.Run(control.Handlers{List: e.list, Exit: e.requestExit}) }()

	select {
	case <-ctx.Done():
	case <-e.exitCh:
	case <-runErr:
	}

	return e.Shutdown(ctx)
}

// list writes one line per live mapping to the daemon's standard
// output, in configured order, matching the §6 "list" command's
// exact output shape. It never goes through the logger: "list" output
// must stay on stdout, undecorated by logrus's text formatter.
func (e *Engine) list() {
	e.mu.Lock()
	lines := make([]string, 0, len(e.bridges))
	for _, b := range e.bridges {
		m := b.Snapshot()
		lines = append(lines, m.ListLine())
	}
	e.mu.Unlock()

	for _, line := range lines {
		fmt.Fprintln(os.Stdout, line)
	}
}

// requestExit signals Run's select loop to begin shutdown. Safe to
// call more than once or concurrently.
func (e *Engine) requestExit() {
	e.exitOnce.Do(func() { close(e.exitCh) })
}

// Shutdown tears the engine down in the reverse order of Run's
// startup: control plane first, then the watcher, then every bridge.
// Safe to call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if e.control != nil {
		record(e.control.Close())
	}
	if e.watcher != nil {
		record(e.watcher.Close())
	}
	for _, b := range e.bridges {
		record(b.Shutdown(ctx))
	}

	return firstErr
}

// Mappings returns a snapshot of every bridge's current mapping state,
// in configured order.
func (e *Engine) Mappings() []mapping.Mapping {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]mapping.Mapping, 0, len(e.bridges))
	for _, b := range e.bridges {
		out = append(out, b.Snapshot())
	}
	return out
}
