package utils

import "time"

// Clock abstracts the two time operations the pipeline's polling loops
// need, so tests can drive heartbeat timing deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }
