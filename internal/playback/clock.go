package playback

import "time"

// Clock abstracts the playback context's time base so the scheduler can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled callback. Stop on an already-fired timer
// is a no-op.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// NewClock returns the wall-clock implementation used outside tests.
func NewClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
