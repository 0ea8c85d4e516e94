package syncx

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("serial executor stopped")

// Serial runs submitted functions one at a time on a single goroutine, making
// whatever state those functions touch single-writer.
type Serial struct {
	ops      chan func()
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewSerial starts the executor goroutine.
func NewSerial() *Serial {
	s := &Serial{
		ops:    make(chan func()),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Serial) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case fn := <-s.ops:
			fn()
		}
	}
}

// Do runs fn on the executor and waits for it to finish. If ctx ends before fn
// is picked up, fn never runs. Once running, fn is waited for regardless of ctx.
func (s *Serial) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.ops <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrStopped
	}
	<-done
	return nil
}

// Stop ends the executor after the running function, if any, returns.
func (s *Serial) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
