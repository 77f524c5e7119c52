// Package globaltime is the process clock. Tests pin it with SetMockTime so
// embedded_at stamps, lookback windows and durations are reproducible.
package globaltime

import (
	"sync/atomic"
	"time"
)

type clockFunc func() time.Time

var clock atomic.Pointer[clockFunc]

func init() {
	ResetTime()
}

func Now() time.Time {
	return (*clock.Load())()
}

func UTC() time.Time {
	return Now().UTC()
}

// Since measures against the mockable clock.
func Since(t time.Time) time.Duration {
	return UTC().Sub(t)
}

// StartOfUTCDay truncates the current time to midnight UTC.
func StartOfUTCDay() time.Time {
	return UTC().Truncate(24 * time.Hour)
}

// SetMockTime freezes the clock at t until ResetTime.
func SetMockTime(t time.Time) {
	fixed := clockFunc(func() time.Time { return t })
	clock.Store(&fixed)
}

func ResetTime() {
	live := clockFunc(time.Now)
	clock.Store(&live)
}
