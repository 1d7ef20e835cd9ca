package krt

import (
	"time"

	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"
)

// logger wraps a logrus entry with the structured fields this core tags
// every line with, plus the per-class rate limiter that throttles the
// decode-level and transport-level warnings that recur on every resync
// of a misbehaving kernel object.
type logger struct {
	entry *logrus.Entry
	limit *warnLimiter
}

// newLogger builds a logger from a caller-supplied logrus.FieldLogger,
// falling back to logrus's standard logger when out is nil so the core
// is usable without explicit wiring in tests.
func newLogger(out logrus.FieldLogger) *logger {
	if out == nil {
		out = logrus.StandardLogger()
	}
	return &logger{
		entry: out.WithField("component", "krt"),
		limit: newWarnLimiter(warnPeriod, warnBurst),
	}
}

// warnPeriod throttles a warning class to at most one log line every this
// often, after an initial burst.
const (
	warnPeriod = 10 * time.Second
	warnBurst  = 5
)

func (l *logger) debugSkip(reason string, fields logrus.Fields) {
	l.entry.WithFields(fields).Debug(reason)
}

func (l *logger) decodeRejected(class warnClass, reason string, fields logrus.Fields) {
	if !l.limit.allow(class) {
		return
	}
	l.entry.WithFields(fields).Warn(reason)
}

// nonKernelSource records a reply that did not come from the kernel.
// Other processes can address our socket, so this stays at debug.
func (l *logger) nonKernelSource(endpoint string, pid uint32) {
	l.entry.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"pid":      pid,
	}).Debug("discarding message from non-kernel sender")
}

func (l *logger) outOfSequence(endpoint string, got, want uint32) {
	if !l.limit.allow(warnSequenceMismatch) {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"seq":      got,
		"want":     want,
	}).Warn("ignoring out of sequence message")
}

func (l *logger) unexpectedReply(endpoint string, got netlink.HeaderType) {
	if !l.limit.allow(warnUnexpectedReply) {
		return
	}
	l.entry.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"type":     got,
	}).Warn("unexpected reply before ack")
}

func (l *logger) overrun() {
	if !l.limit.allow(warnOverrun) {
		return
	}
	l.entry.Warn("async endpoint receive buffer overrun, notifications dropped")
}
