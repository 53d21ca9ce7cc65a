package store

import (
	"context"
	"sync"
)

// Subscription delivers full document-set snapshots. Only the latest
// snapshot is buffered; a slow reader skips intermediate states.
type Subscription struct {
	C <-chan []Document

	ch      chan []Document
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	err     error
	onClose func()
}

func newSubscription(onClose func()) *Subscription {
	ch := make(chan []Document, 1)
	return &Subscription{C: ch, ch: ch, done: make(chan struct{}), onClose: onClose}
}

// closeWith closes the subscription once ctx is done.
func (s *Subscription) closeWith(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

func (s *Subscription) publish(docs []Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- docs
}

// fail ends the feed with err. Err reports it once C is drained.
func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.Close()
}

// Close stops delivery and releases backend resources. Safe to call twice.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

// Err returns the error that ended the feed, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
