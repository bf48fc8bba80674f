// Package mapping holds the engine-level data model shared by every
// bridging component: one Mapping per configured TCP-port/local-path
// pair, its reachable state combinations, and the deterministic
// derivation of its outbound local-stream bind address.
package mapping

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	libdur "github.com/nabbar/golib/duration"
)

// MaxMappings bounds the configured mapping set, matching the
// original MAX_MAPPING_NUM fixed-size table.
const MaxMappings = 64

// IPCStreamRoot is the site-configurable base path each mapping's
// outbound local-stream socket is derived from: "<IPCStreamRoot><index>".
var IPCStreamRoot = "./nptpd_stream_"

// TCPState is the TCP side of a mapping's reachable state.
type TCPState int

const (
	TCPIdle TCPState = iota
	TCPListening
	TCPAttached
)

func (s TCPState) String() string {
	switch s {
	case TCPIdle:
		return "IDLE"
	case TCPListening:
		return "LISTENING"
	case TCPAttached:
		return "ATTACHED"
	default:
		return "UNKNOWN"
	}
}

// LocalState is the local-stream side of a mapping's reachable state.
type LocalState int

const (
	LocalUnbound LocalState = iota
	LocalBoundDisconnected
	LocalConnected
)

func (s LocalState) String() string {
	switch s {
	case LocalUnbound:
		return "UNBOUND"
	case LocalBoundDisconnected:
		return "BOUND_DISCONNECTED"
	case LocalConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Config is the post-validation, in-memory view of one configured row,
// handed by the loader to the supervisor.
type Config struct {
	Index       int
	TCPPort     uint16
	PipeDir     string
	PipeName    string
	Description string

	// RetryIdle is an optional connect-retry ceiling: when non-zero,
	// the bridge also attempts a local-stream reconnect on this
	// interval, independent of the filesystem watcher. Zero disables
	// the ticker and leaves reconnection entirely watcher-driven, the
	// base specification's behavior.
	RetryIdle libdur.Duration
}

// LocalAddr derives this mapping's outbound local-stream bind address
// deterministically from its index, so that distinct mappings never
// collide.
func (c Config) LocalAddr() string {
	return fmt.Sprintf("%s%d", IPCStreamRoot, c.Index)
}

// PeerAddr is the filesystem path of the peer local-stream endpoint
// this mapping connects to.
func (c Config) PeerAddr() string {
	return filepath.Join(c.PipeDir, c.PipeName)
}

// Mapping is the live, engine-owned runtime record for one Config.
// WatchToken and HasWatch hold an opaque correlation id for the
// filesystem-watch subscription; they carry no behavior. The engine
// does not set them: the supervisor discards the token returned by
// watcher.Subscribe, so both stay at their zero values.
type Mapping struct {
	Config

	TCPState    TCPState
	LocalState  LocalState
	WatchToken  uuid.UUID
	HasWatch    bool
}

// NewMapping returns a freshly constructed Mapping in state S0
// (LISTENING is set by the TCP listener once bound; callers start
// from TCPIdle/LocalUnbound and drive transitions explicitly).
func NewMapping(cfg Config) *Mapping {
	return &Mapping{
		Config:     cfg,
		TCPState:   TCPIdle,
		LocalState: LocalUnbound,
	}
}

// Attached reports whether the mapping's TCP side has a peer attached.
func (m Mapping) Attached() bool {
	return m.TCPState == TCPAttached
}

// Connected reports whether the mapping's local-stream side has
// completed a connect.
func (m Mapping) Connected() bool {
	return m.LocalState == LocalConnected
}

// CanForward reports whether both sides are in the S4 combination
// where bytes may flow in either direction.
func (m Mapping) CanForward() bool {
	return m.Attached() && m.Connected()
}

// ListLine renders this mapping in the §6 "list" output format:
// "<tcp_port>:<'*'|'-'> <pipe_dir>/<pipe_name>:<'*'|'-'> "<description>"".
func (m Mapping) ListLine() string {
	tcpMark := '-'
	if m.Attached() {
		tcpMark = '*'
	}
	localMark := '-'
	if m.Connected() {
		localMark = '*'
	}
	return fmt.Sprintf("%d:%c %s:%c %q", m.TCPPort, tcpMark, m.PeerAddr(), localMark, m.Description)
}
