package supervisor_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/syc2012/nptpd/internal/mapping"
	"github.com/syc2012/nptpd/internal/supervisor"
)

func freeTCPPort() uint16 {
	ln, err := net.Listen("tcp", ":0")
	Expect(err).ToNot(HaveOccurred())
	defer func() { _ = ln.Close() }()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func echoPeer(addr string) func() {
	_ = os.Remove(addr)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: addr, Net: "unix"})
	Expect(err).ToNot(HaveOccurred())

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				_, _ = conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	return func() { _ = ln.Close() }
}

// captureStdout redirects os.Stdout for the duration of fn and returns
// whatever was written to it, so the "list" command's stdout contract
// can be asserted directly.
func captureStdout(fn func()) string {
	r, w, err := os.Pipe()
	Expect(err).ToNot(HaveOccurred())

	orig := os.Stdout
	os.Stdout = w
	fn()
	os.Stdout = orig
	Expect(w.Close()).To(Succeed())

	out, err := io.ReadAll(r)
	Expect(err).ToNot(HaveOccurred())
	return string(out)
}

func sendDatagram(payload, addr string) {
	c, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: addr, Net: "unixgram"})
	Expect(err).ToNot(HaveOccurred())
	defer func() { _ = c.Close() }()
	_, err = c.Write([]byte(payload))
	Expect(err).ToNot(HaveOccurred())
}

var _ = Describe("Engine", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "nptpd-engine")
		Expect(err).ToNot(HaveOccurred())
		mapping.IPCStreamRoot = filepath.Join(dir, "stream_")
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("bridges a single mapping end to end and exits on command", func() {
		port := freeTCPPort()
		closePeer := echoPeer(filepath.Join(dir, "p0"))
		defer closePeer()

		cfgPath := filepath.Join(dir, "nptpd.yaml")
		Expect(os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
mappings:
  - enable: true
    tcp_port: %d
    pipe_dir: %q
    pipe_name: p0
    description: test mapping
`, port, dir)), 0o644)).To(Succeed())

		ctrlAddr := filepath.Join(dir, "ctl.sock")

		eng, err := supervisor.New(cfgPath, ctrlAddr, nil)
		Expect(err).ToNot(HaveOccurred())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- eng.Run(ctx) }()

		Eventually(func() bool {
			for _, m := range eng.Mappings() {
				if m.Connected() {
					return true
				}
			}
			return false
		}, 2*time.Second).Should(BeTrue())

		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = conn.Close() }()

		Eventually(func() bool {
			for _, m := range eng.Mappings() {
				if m.CanForward() {
					return true
				}
			}
			return false
		}, 2*time.Second).Should(BeTrue())

		_, err = conn.Write([]byte("ping"))
		Expect(err).ToNot(HaveOccurred())

		buf := make([]byte, 16)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("ping"))

		Expect(captureStdout(func() {
			sendDatagram("list", ctrlAddr)
			time.Sleep(200 * time.Millisecond)
		})).To(Equal(fmt.Sprintf("%d:* %s:* %q\n", port, filepath.Join(dir, "p0"), "test mapping")))

		sendDatagram("exit", ctrlAddr)

		Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	})

	It("rejects a config with no enabled mappings", func() {
		cfgPath := filepath.Join(dir, "empty.yaml")
		Expect(os.WriteFile(cfgPath, []byte("mappings: []\n"), 0o644)).To(Succeed())

		_, err := supervisor.New(cfgPath, filepath.Join(dir, "ctl.sock"), nil)
		Expect(err).To(HaveOccurred())
	})
})
