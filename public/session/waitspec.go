package session

import "time"

// WaitSpec is the polymorphic wait condition Run blocks on: boolean
// (forever), numeric seconds, or predicate — realized here as a small
// sum-typed value since Go has no dynamic bool|number|predicate argument.
type WaitSpec struct {
	forever   bool
	duration  time.Duration
	predicate func() bool
}

// Forever blocks Run until Close is called; an OS interrupt does not end
// the wait.
func Forever() WaitSpec { return WaitSpec{forever: true} }

// Seconds blocks Run for the given duration; zero means forever.
func Seconds(n float64) WaitSpec {
	if n <= 0 {
		return Forever()
	}
	return WaitSpec{duration: time.Duration(n * float64(time.Second))}
}

// Until blocks Run, polling predicate every 100ms, until it returns false.
func Until(predicate func() bool) WaitSpec { return WaitSpec{predicate: predicate} }
