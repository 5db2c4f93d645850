package eventstore

import "time"

// Clock abstracts time.Now so debounce timing is testable without real
// sleeps in unit tests; runtime code uses realClock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// RealClock is the Clock used outside of tests.
var RealClock Clock = realClock{}
