// Package localstream implements component B: the client side of the
// OS's local-domain (Unix-domain) stream transport, addressed by
// filesystem path. It binds a local address unlinking any stale file
// first, then connects to a peer path served by an external process.
package localstream

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/syc2012/nptpd/internal/bridgerr"
)

// ChunkSize is the maximum number of bytes delivered per read, per
// spec.md §4.B.
const ChunkSize = 4095

// Handlers are the upcalls driven once Connect succeeds.
type Handlers struct {
	OnBytes      func(chunk []byte)
	OnDisconnect func()
}

// Client is one mapping's outbound local-stream socket. A Client is
// single-use: after OnDisconnect has fired, reopen requires a fresh
// Open + Connect, matching the Open Question resolution in spec.md §9.
type Client struct {
	localAddr string
	h         Handlers

	conn *net.UnixConn
}

// Open unlinks any stale file at localAddr (recovering from a prior
// crash) and records it as the address Connect binds before dialing.
// It creates no socket and does not connect.
func Open(localAddr string, h Handlers) (*Client, error) {
	if localAddr == "" {
		return nil, fmt.Errorf("%w: empty local address", bridgerr.ErrInvalidAddress)
	}

	_ = os.Remove(localAddr)

	return &Client{localAddr: localAddr, h: h}, nil
}

// Connect dials remoteAddr from the bound localAddr. It fails with
// bridgerr.ErrNoSuchEndpoint if the peer file is absent, or
// bridgerr.ErrRefused on a transient refusal; both are recovered by
// the filesystem watcher.
func (c *Client) Connect(ctx context.Context, remoteAddr string) error {
	if _, err := os.Stat(remoteAddr); err != nil {
		return fmt.Errorf("%w: %s: %v", bridgerr.ErrNoSuchEndpoint, remoteAddr, err)
	}

	var d net.Dialer
	d.LocalAddr = &net.UnixAddr{Name: c.localAddr, Net: "unix"}

	conn, err := d.DialContext(ctx, "unix", remoteAddr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", bridgerr.ErrRefused, remoteAddr, err)
	}

	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return fmt.Errorf("%w: unexpected conn type", bridgerr.ErrSocketFailed)
	}

	c.conn = uc
	go c.readLoop()
	return nil
}

func (c *Client) readLoop() {
	buf := make([]byte, ChunkSize)

	defer func() {
		if c.h.OnDisconnect != nil {
			c.h.OnDisconnect()
		}
	}()

	for {
		n, err := c.conn.Read(buf)
		if n > 0 && c.h.OnBytes != nil {
			c.h.OnBytes(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

// Send writes bytes to the connected peer. It fails with
// bridgerr.ErrNotConnected if Connect has not yet succeeded.
func (c *Client) Send(b []byte) (int, error) {
	if c.conn == nil {
		return 0, bridgerr.ErrNotConnected
	}
	n, err := c.conn.Write(b)
	if err != nil {
		return n, fmt.Errorf("%w: %v", bridgerr.ErrPeerGone, err)
	}
	return n, nil
}

// Close closes the connection (if any) and unlinks the local address.
func (c *Client) Close() error {
	var err error
	if c.conn != nil {
		err = c.conn.Close()
	}
	_ = os.Remove(c.localAddr)
	return err
}
