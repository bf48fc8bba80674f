package watcher_test

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/syc2012/nptpd/internal/watcher"
)

var _ = Describe("Watcher", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "nptpd-watch")
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(dir)
	})

	It("fires the subscriber when its expected file is created", func() {
		w, err := watcher.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = w.Close() }()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var fired atomic.Int32
		_, err = w.Subscribe(dir, "p0", func() { fired.Add(1) })
		Expect(err).ToNot(HaveOccurred())

		go func() { _ = w.Run(ctx) }()

		time.Sleep(50 * time.Millisecond) // allow Run to reach the select
		Expect(os.WriteFile(dir+"/p0", []byte("x"), 0o644)).To(Succeed())

		Eventually(func() int32 { return fired.Load() }, 2*time.Second).Should(BeNumerically(">=", 1))
	})

	It("does not fire a subscriber for an unrelated filename", func() {
		w, err := watcher.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = w.Close() }()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var fired atomic.Int32
		_, err = w.Subscribe(dir, "expected", func() { fired.Add(1) })
		Expect(err).ToNot(HaveOccurred())

		go func() { _ = w.Run(ctx) }()

		time.Sleep(50 * time.Millisecond)
		Expect(os.WriteFile(dir+"/other", []byte("x"), 0o644)).To(Succeed())

		Consistently(func() int32 { return fired.Load() }, 300*time.Millisecond).Should(Equal(int32(0)))
	})

	It("fires each subscriber of the same directory for its own filename", func() {
		w, err := watcher.New()
		Expect(err).ToNot(HaveOccurred())
		defer func() { _ = w.Close() }()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var a, b atomic.Int32
		_, err = w.Subscribe(dir, "a", func() { a.Add(1) })
		Expect(err).ToNot(HaveOccurred())
		_, err = w.Subscribe(dir, "b", func() { b.Add(1) })
		Expect(err).ToNot(HaveOccurred())

		go func() { _ = w.Run(ctx) }()

		time.Sleep(50 * time.Millisecond)
		Expect(os.WriteFile(dir+"/a", []byte("x"), 0o644)).To(Succeed())
		Expect(os.WriteFile(dir+"/b", []byte("x"), 0o644)).To(Succeed())

		Eventually(func() int32 { return a.Load() }, 2*time.Second).Should(BeNumerically(">=", 1))
		Eventually(func() int32 { return b.Load() }, 2*time.Second).Should(BeNumerically(">=", 1))
	})
})
