package store

import (
	"context"
	"sync"

	"anonchat/internal/logger"
)

// Subscription delivers snapshots of a collection. Only the latest
// snapshot is kept for a slow consumer; intermediate ones are dropped.
type Subscription struct {
	path   string
	ctx    context.Context
	cancel context.CancelFunc
	load   func(context.Context) (Snapshot, error)
	remove func(*Subscription)

	updates chan Snapshot
	dirty   chan struct{}
	done    chan struct{}

	errMu sync.Mutex
	err   error
	once  sync.Once
}

func newSubscription(ctx context.Context, path string, load func(context.Context) (Snapshot, error), remove func(*Subscription)) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		path:    path,
		ctx:     ctx,
		cancel:  cancel,
		load:    load,
		remove:  remove,
		updates: make(chan Snapshot, 1),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Updates returns the snapshot channel. It is closed when the
// subscription ends.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.updates
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) signal() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer func() {
		s.once.Do(func() { s.remove(s) })
		close(s.updates)
		close(s.done)
	}()

	if !s.refresh() {
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.dirty:
			if !s.refresh() {
				return
			}
		}
	}
}

func (s *Subscription) refresh() bool {
	snap, err := s.load(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			logger.Warnf("store: subscription to %s failed: %v", s.path, err)
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
		return false
	}

	// Latest wins: replace an undelivered snapshot.
	select {
	case s.updates <- snap:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- snap
	}
	return true
}
