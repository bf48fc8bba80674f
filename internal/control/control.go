// Package control implements component E: a Unix datagram endpoint
// that accepts single-packet ASCII commands from the sibling nptpctl
// CLI. Each datagram is one command; there are no sequence numbers and
// no acknowledgements, matching spec.md §4.E exactly.
package control

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/syc2012/nptpd/internal/bridgerr"
	"github.com/syc2012/nptpd/internal/logging"
)

// MaxPayload bounds a single datagram read; longer payloads are
// truncated by the receive buffer, per spec.md §4.E.
const MaxPayload = 4095

// Handlers are the effects a command triggers. List and Exit are
// mandatory; a nil Handlers.Exit would leave "exit" silently ignored.
type Handlers struct {
	List func()
	Exit func()
}

// Plane is the running control-plane endpoint.
type Plane struct {
	addr string
	conn *net.UnixConn
	log  *logrus.Entry

	running atomic.Bool
}

// New binds addr as a Unix datagram socket, unlinking any stale file
// first to recover from a prior crash. A nil log defaults to an entry
// on a fresh logging.New() logger (stderr, warn level), so New can be
// called without a logger in tests.
func New(addr string, log *logrus.Entry) (*Plane, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty control address", bridgerr.ErrInvalidAddress)
	}
	if log == nil {
		log = logrus.NewEntry(logging.New())
	}

	_ = os.Remove(addr)

	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: addr, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("%w: bind %s: %v", bridgerr.ErrBindFailed, addr, err)
	}

	return &Plane{addr: addr, conn: conn, log: log}, nil
}

// Run blocks reading datagrams and dispatching commands until the
// socket is closed (by Close, which Shutdown calls to unblock this
// read the same way every other blocking call in the engine is
// cancelled).
func (p *Plane) Run(h Handlers) error {
	p.running.Store(true)
	defer p.running.Store(false)

	buf := make([]byte, MaxPayload)

	for {
		n, _, err := p.conn.ReadFromUnix(buf)
		if err != nil {
			return nil
		}
		p.dispatch(string(buf[:n]), h)
	}
}

func (p *Plane) dispatch(cmd string, h Handlers) {
	switch cmd {
	case "help":
		p.log.Info("nptpd control plane ready: 0-7, dump, list, exit, help")
	case "list":
		if h.List != nil {
			h.List()
		}
	case "exit":
		if h.Exit != nil {
			h.Exit()
		}
	case "dump":
		logging.ToggleDump()
	case "0", "1", "2", "3", "4", "5", "6", "7":
		mask, _ := strconv.ParseUint(cmd, 10, 32)
		logging.SetVerbosity(uint32(mask))
	default:
		// Unknown payloads are ignored; no multi-command parsing.
	}
}

// IsRunning reports whether Run's read loop is active.
func (p *Plane) IsRunning() bool {
	return p.running.Load()
}

// Close unblocks Run and unlinks the bound address.
func (p *Plane) Close() error {
	err := p.conn.Close()
	_ = os.Remove(p.addr)
	return err
}
