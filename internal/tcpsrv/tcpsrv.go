// Package tcpsrv implements component A of the bridging engine: a TCP
// listener enforcing a single concurrent client per mapping. Every
// blocking call (Accept, Read) runs on its own goroutine, and shutdown
// unblocks each of them by closing the file descriptor it is blocked
// on, per the cancellation model in spec.md §5.
package tcpsrv

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/syc2012/nptpd/internal/bridgerr"
)

// ChunkSize is the maximum number of bytes delivered per read, per
// spec.md §4.A.
const ChunkSize = 4095

// backlogFactor is the listen-backlog to client-ceiling ratio of
// spec.md §4.A. It is not passed to the listener: net.ListenConfig
// takes no backlog argument, so the OS default backlog applies.
const backlogFactor = 2

// Handlers are the upcalls a Server drives. For a given peer that is
// accepted, OnAccept fires, then zero or more OnBytes, then exactly
// one OnDisconnect. OnRefuse fires instead of OnAccept for any
// connection arriving while the single attachment slot is already
// held, or while shutdown is in progress; it never blocks the accept
// loop.
type Handlers struct {
	OnAccept     func(peer net.Conn)
	OnBytes      func(peer net.Conn, chunk []byte)
	OnDisconnect func(peer net.Conn)
	OnRefuse     func(err error)
}

// Server is one mapping's TCP listener.
type Server struct {
	port uint16
	h    Handlers

	mu     sync.Mutex
	ln     *net.TCPListener
	peer   net.Conn
	peerMu sync.Mutex

	running      atomic.Bool
	shuttingDown atomic.Bool
	done         chan struct{}
}

// New returns a Server for the given port. The server does not bind
// until Listen is called.
func New(port uint16, h Handlers) *Server {
	return &Server{
		port: port,
		h:    h,
		done: make(chan struct{}),
	}
}

// Listen binds the listening socket (reuse-address enabled) and
// starts the accept loop on its own goroutine. It returns once the
// socket is bound; ctx bounds only the bind, and the accept loop runs
// until Shutdown closes the listener.
func (s *Server) Listen(ctx context.Context) error {
	if s.port == 0 {
		return fmt.Errorf("%w: tcp port is zero", bridgerr.ErrInvalidAddress)
	}
	if s.h.OnBytes == nil {
		return fmt.Errorf("%w: no byte handler registered", bridgerr.ErrInvalidHandler)
	}

	addr := &net.TCPAddr{Port: int(s.port)}
	lc := net.ListenConfig{Control: reuseAddrControl}
	pln, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return fmt.Errorf("%w: listen :%d: %v", bridgerr.ErrBindFailed, s.port, err)
	}

	ln, ok := pln.(*net.TCPListener)
	if !ok {
		_ = pln.Close()
		return fmt.Errorf("%w: unexpected listener type", bridgerr.ErrSocketFailed)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.running.Store(true)

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer func() {
		s.running.Store(false)
		close(s.done)
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		if tcp, ok := conn.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
			_ = tcp.SetWriteBuffer(ChunkSize)
		}

		if s.shuttingDown.Load() {
			_ = conn.Close()
			if s.h.OnRefuse != nil {
				s.h.OnRefuse(bridgerr.ErrShuttingDown)
			}
			continue
		}

		s.peerMu.Lock()
		if s.peer != nil {
			// Concurrent-client ceiling is 1: refuse by immediate close,
			// no queueing, the attached peer is left undisturbed.
			s.peerMu.Unlock()
			_ = conn.Close()
			if s.h.OnRefuse != nil {
				s.h.OnRefuse(bridgerr.ErrAlreadyAttached)
			}
			continue
		}
		s.peer = conn
		s.peerMu.Unlock()

		if s.h.OnAccept != nil {
			s.h.OnAccept(conn)
		}

		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	buf := make([]byte, ChunkSize)

	defer func() {
		s.peerMu.Lock()
		if s.peer == conn {
			s.peer = nil
		}
		s.peerMu.Unlock()

		_ = conn.Close()
		if s.h.OnDisconnect != nil {
			s.h.OnDisconnect(conn)
		}
	}()

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.h.OnBytes(conn, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

// Send writes bytes to peer. It fails with bridgerr.ErrPeerGone if
// peer is no longer the attached connection.
func (s *Server) Send(peer net.Conn, b []byte) (int, error) {
	s.peerMu.Lock()
	attached := s.peer == peer
	s.peerMu.Unlock()

	if !attached {
		return 0, bridgerr.ErrPeerGone
	}

	n, err := peer.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w: %v", bridgerr.ErrPeerGone, err)
	}
	return n, nil
}

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// IsAttached reports whether a TCP peer currently holds this mapping's
// single attachment slot.
func (s *Server) IsAttached() bool {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	return s.peer != nil
}

// Done returns a channel closed once the accept loop has returned.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Shutdown closes the listener (unblocking Accept) and any currently
// attached peer, then waits for the accept loop to exit. If Listen
// never got as far as starting the accept loop (e.g. the bind
// failed), there is nothing to wait for and Shutdown returns
// immediately rather than blocking on a done channel no goroutine will
// ever close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shuttingDown.Store(true)

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	_ = ln.Close()

	s.peerMu.Lock()
	if s.peer != nil {
		_ = s.peer.Close()
	}
	s.peerMu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
