package common

import (
	"errors"
	"sync/atomic"
)

// ErrReentrantCall is returned when a guarded entry point is entered again
// before the outer call returned.
var ErrReentrantCall = errors.New("reentrant call")

// ReentrancyGuard rejects nested entry into any of the entry points sharing
// the guard, including entry through collaborator callbacks.
type ReentrancyGuard struct {
	entered atomic.Bool
}

// Enter marks the guard as held. Callers must invoke the returned release
// function exactly once, typically via defer.
func (g *ReentrancyGuard) Enter() (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if !g.entered.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.entered.Store(false) }, nil
}
