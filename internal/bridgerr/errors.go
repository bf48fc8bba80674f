// Package bridgerr defines the fixed error taxonomy shared by every
// component of the bridging engine. Each sentinel is meant to be
// wrapped with fmt.Errorf("%w: ...") at the call site so that callers
// can keep using errors.Is/errors.As across package boundaries.
package bridgerr

import "errors"

var (
	// ErrConfigInvalid is returned by the config loader on a malformed
	// or duplicate mapping set. Fatal at startup.
	ErrConfigInvalid = errors.New("bridgerr: invalid configuration")

	// ErrBindFailed is returned when a listener or a local endpoint
	// cannot be bound. Fatal for the affected mapping only.
	ErrBindFailed = errors.New("bridgerr: bind failed")

	// ErrSocketFailed is returned on transient socket-creation failures.
	// Fatal for the affected mapping only.
	ErrSocketFailed = errors.New("bridgerr: socket failed")

	// ErrNoSuchEndpoint is returned when the peer local-stream file is
	// absent at connect time. Recovered by the watcher.
	ErrNoSuchEndpoint = errors.New("bridgerr: no such endpoint")

	// ErrPeerGone is returned when a send is attempted after the
	// opposite side has already transitioned away. Never surfaced
	// upward past the bridge: the chunk is dropped silently.
	ErrPeerGone = errors.New("bridgerr: peer gone")

	// ErrRefused is returned on a transient peer refusal at connect
	// time. Treated identically to ErrNoSuchEndpoint by the bridge.
	ErrRefused = errors.New("bridgerr: connection refused")

	// ErrWatcherFailed is returned when the filesystem watcher cannot
	// be initialized. Fatal for the daemon.
	ErrWatcherFailed = errors.New("bridgerr: watcher failed")

	// ErrInvalidAddress is returned by a listener or client given an
	// empty or unparsable address.
	ErrInvalidAddress = errors.New("bridgerr: invalid address")

	// ErrInvalidHandler is returned when a server is started without a
	// registered connection handler.
	ErrInvalidHandler = errors.New("bridgerr: invalid handler")

	// ErrAlreadyAttached is returned internally when a second TCP peer
	// attempts to attach while one is already attached; the caller
	// closes the extra connection instead of propagating the error.
	ErrAlreadyAttached = errors.New("bridgerr: peer already attached")

	// ErrNotConnected is returned by the local-stream client when send
	// is attempted before connect has succeeded.
	ErrNotConnected = errors.New("bridgerr: not connected")

	// ErrShuttingDown is returned by components that reject new work
	// once shutdown has been requested.
	ErrShuttingDown = errors.New("bridgerr: shutting down")
)
