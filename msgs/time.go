// Package msgs defines the message types exchanged on the simulation
// transport bus.
package msgs

import (
	"fmt"
	"time"
)

const nanosPerSec = int64(time.Second)

// Time is a simulation timestamp, measured from world start. Nsec is always
// normalized to [0, 1e9).
type Time struct {
	Sec  int64 `json:"sec" bson:"sec"`
	Nsec int32 `json:"nsec" bson:"nsec"`
}

// NewTime converts a duration since world start into a Time.
func NewTime(d time.Duration) Time {
	sec := int64(d) / nanosPerSec
	nsec := int64(d) % nanosPerSec
	if nsec < 0 {
		nsec += nanosPerSec
		sec--
	}
	return Time{Sec: sec, Nsec: int32(nsec)}
}

// Duration returns the time as a duration since world start.
func (t Time) Duration() time.Duration {
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Nsec)
}

// Seconds returns the time as a float64 second count.
func (t Time) Seconds() float64 {
	return float64(t.Sec) + float64(t.Nsec)/1e9
}

// Add returns the time advanced by d.
func (t Time) Add(d time.Duration) Time {
	return NewTime(t.Duration() + d)
}

// Sub returns the duration t-o.
func (t Time) Sub(o Time) time.Duration {
	return t.Duration() - o.Duration()
}

// Before reports whether t is earlier than o.
func (t Time) Before(o Time) bool {
	if t.Sec != o.Sec {
		return t.Sec < o.Sec
	}
	return t.Nsec < o.Nsec
}

// IsZero reports whether t is the zero timestamp.
func (t Time) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

func (t Time) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}
