// Package logging owns the two pieces of process-wide state the
// control plane mutates at runtime: the log verbosity bitmask and the
// hex-dump flag. Both are written only by the control plane and read
// by every worker goroutine, so both are held in
// github.com/nabbar/golib/atomic.Value, the teacher's generic
// lock-free wrapper over sync/atomic.Value, rather than behind a
// mutex.
package logging

import (
	"os"

	libatm "github.com/nabbar/golib/atomic"
	"github.com/sirupsen/logrus"
)

// Verbosity bits, matching §4.E of the specification.
const (
	MaskNone  uint32 = 0
	MaskInfo  uint32 = 1 << 0
	MaskTrace uint32 = 1 << 1
	MaskDebug uint32 = 1 << 2
	MaskAll   uint32 = MaskInfo | MaskTrace | MaskDebug
)

var (
	verbosity = libatm.NewValue[uint32]()
	dump      = libatm.NewValue[bool]()
)

func init() {
	verbosity.Store(MaskNone)
}

// SetVerbosity stores the verbosity bitmask. Values outside 0..7 are
// rejected by the control plane before reaching here.
func SetVerbosity(mask uint32) {
	verbosity.Store(mask)
	applyLevel(mask)
}

// Verbosity returns the current verbosity bitmask.
func Verbosity() uint32 {
	return verbosity.Load()
}

// ToggleDump flips the global hex-dump flag and returns its new value.
func ToggleDump() bool {
	v := !dump.Load()
	dump.Store(v)
	return v
}

// DumpEnabled reports the current hex-dump flag value.
func DumpEnabled() bool {
	return dump.Load()
}

// applyLevel maps the verbosity bitmask onto the level of logrus's
// package-level standard logger: any bit set raises it at least to
// Info, DEBUG additionally raises it to Debug. Loggers returned by New
// are separate instances and are not affected: they keep their own
// level (WarnLevel unless the caller changes it).
func applyLevel(mask uint32) {
	switch {
	case mask&MaskDebug != 0:
		logrus.SetLevel(logrus.DebugLevel)
	case mask != MaskNone:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
}

// New returns a logrus.Logger configured the way the daemon expects:
// text formatter, full timestamps, writing to stderr so that the
// control plane's "list" output (stdout) is never interleaved with log
// lines.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// MappingFields returns the structured field set every bridge log line
// carries: index, tcp_port and pipe_name, so that a single mapping's
// log lines can be filtered without string matching.
func MappingFields(index int, tcpPort uint16, pipeName string) logrus.Fields {
	return logrus.Fields{
		"index":     index,
		"tcp_port":  tcpPort,
		"pipe_name": pipeName,
	}
}
