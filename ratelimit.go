package krt

import (
	"time"

	"golang.org/x/time/rate"
)

// Warning classes a rate limiter can be keyed on. Each class gets its own bucket so a storm of one kind of
// malformed message cannot silence logging for another.
type warnClass int

const (
	warnOverrun warnClass = iota
	warnBroadcastMismatch
	warnUnknownTable
	warnMalformedAttr
	warnSequenceMismatch
	warnUnexpectedReply
	numWarnClasses
)

// warnLimiter throttles repeated log lines, one token bucket per warning
// class, so recurring kernel errors cannot flood the log.
type warnLimiter struct {
	buckets [numWarnClasses]*rate.Limiter
}

// newWarnLimiter builds a limiter allowing burst messages immediately and
// then at most one every period thereafter, per class.
func newWarnLimiter(period time.Duration, burst int) *warnLimiter {
	wl := &warnLimiter{}
	for i := range wl.buckets {
		wl.buckets[i] = rate.NewLimiter(rate.Every(period), burst)
	}
	return wl
}

// allow reports whether a log line of the given class should be emitted
// now. It never blocks, since the scan path must never block on logging.
func (wl *warnLimiter) allow(class warnClass) bool {
	return wl.buckets[class].Allow()
}
