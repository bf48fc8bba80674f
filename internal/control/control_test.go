package control_test

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/syc2012/nptpd/internal/bridgerr"
	"github.com/syc2012/nptpd/internal/control"
	"github.com/syc2012/nptpd/internal/logging"
)

func tmpDgramPath(name string) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.sock", name, os.Getpid()))
}

func send(t string, addr string) {
	c, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: addr, Net: "unixgram"})
	Expect(err).ToNot(HaveOccurred())
	defer func() { _ = c.Close() }()
	_, err = c.Write([]byte(t))
	Expect(err).ToNot(HaveOccurred())
}

var _ = Describe("Plane", func() {
	It("rejects an empty address", func() {
		_, err := control.New("", nil)
		Expect(err).To(MatchError(bridgerr.ErrInvalidAddress))
	})

	It("dispatches list and exit", func() {
		addr := tmpDgramPath("ctl")
		p, err := control.New(addr, nil)
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = os.Remove(addr) }()

		var listed, exited atomic.Int32
		done := make(chan struct{})
		go func() {
			_ = p.Run(control.Handlers{
				List: func() { listed.Add(1) },
				Exit: func() { exited.Add(1); close(done) },
			})
		}()

		Eventually(p.IsRunning, time.Second).Should(BeTrue())

		send("list", addr)
		Eventually(func() int32 { return listed.Load() }, time.Second).Should(Equal(int32(1)))

		send("exit", addr)
		Eventually(func() int32 { return exited.Load() }, time.Second).Should(Equal(int32(1)))

		_ = p.Close()
	})

	It("returns the dump flag to its original value after two toggles", func() {
		addr := tmpDgramPath("ctl-dump")
		p, err := control.New(addr, nil)
		Expect(err).ToNot(HaveOccurred())
		defer func() {
			_ = p.Close()
		}()

		go func() { _ = p.Run(control.Handlers{}) }()
		Eventually(p.IsRunning, time.Second).Should(BeTrue())

		before := logging.DumpEnabled()
		send("dump", addr)
		Eventually(func() bool { return logging.DumpEnabled() == !before }, time.Second).Should(BeTrue())

		send("dump", addr)
		Eventually(func() bool { return logging.DumpEnabled() == before }, time.Second).Should(BeTrue())
	})

	It("sets verbosity from a digit and leaves it unchanged on repeat", func() {
		addr := tmpDgramPath("ctl-verbosity")
		p, err := control.New(addr, nil)
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = p.Close() }()

		go func() { _ = p.Run(control.Handlers{}) }()
		Eventually(p.IsRunning, time.Second).Should(BeTrue())

		send("5", addr)
		Eventually(func() uint32 { return logging.Verbosity() }, time.Second).Should(Equal(uint32(5)))

		send("5", addr)
		Consistently(func() uint32 { return logging.Verbosity() }, 200*time.Millisecond).Should(Equal(uint32(5)))
	})

	It("logs a readiness banner for help", func() {
		addr := tmpDgramPath("ctl-help")

		var buf bytes.Buffer
		l := logrus.New()
		l.SetOutput(&buf)
		l.SetLevel(logrus.InfoLevel)

		p, err := control.New(addr, logrus.NewEntry(l))
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = p.Close() }()

		go func() { _ = p.Run(control.Handlers{}) }()
		Eventually(p.IsRunning, time.Second).Should(BeTrue())

		send("help", addr)
		Eventually(buf.String, time.Second).Should(ContainSubstring("ready"))
	})

	It("ignores unknown payloads", func() {
		addr := tmpDgramPath("ctl-unknown")
		p, err := control.New(addr, nil)
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = p.Close() }()

		var listed atomic.Int32
		go func() { _ = p.Run(control.Handlers{List: func() { listed.Add(1) }}) }()
		Eventually(p.IsRunning, time.Second).Should(BeTrue())

		send("not-a-command", addr)
		Consistently(func() int32 { return listed.Load() }, 200*time.Millisecond).Should(Equal(int32(0)))
	})
})
