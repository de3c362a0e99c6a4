package mcpmgr

import (
	"context"
	"sync"
)

// signal is a one-shot, level-triggered event: once fired, every current and
// future waiter observes it.
type signal struct {
	once sync.Once
	ch   chan struct{}
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func firedSignal() *signal {
	s := newSignal()
	s.fire()
	return s
}

func (s *signal) fire() {
	s.once.Do(func() { close(s.ch) })
}

func (s *signal) done() <-chan struct{} { return s.ch }

func (s *signal) fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ch:
		return nil
	}
}
