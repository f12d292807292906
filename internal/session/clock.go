package session

import "time"

// Timer is the part of *time.Timer the session needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so debounce and delivery timeouts can be driven by
// tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
