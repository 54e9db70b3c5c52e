package core

import "time"

// Clock abstracts "current time" reads so that session expiry checks and
// check-in status resolution stay deterministic under test.
type Clock interface {
	Now() time.Time // UTC
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func NewClock() Clock { return realClock{} }

// FixedClock always returns the same instant. Test helper.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T.UTC() }
