// Package lock provides per-client run locks that serialize snapshot
// creation.
package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/go-beacon/internal/ports"
)

var _ ports.RunLock = (*Local)(nil)

// Local is an in-process RunLock. Each client id maps to a one-slot
// semaphore so Acquire can give up when ctx is done. Entries are dropped
// once no holder or waiter remains.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty lock table.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire blocks until the lock for clientID is held or ctx is done, in
// which case the error matches both ports.ErrLockNotAcquired and ctx.Err().
func (l *Local) Acquire(ctx context.Context, clientID string) (func(), error) {
	s := l.ref(clientID)

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(clientID)
		return nil, errors.Join(ports.ErrLockNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(clientID)
		})
	}, nil
}

func (l *Local) ref(clientID string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[clientID]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[clientID] = s
	}
	s.refs++
	return s
}

func (l *Local) unref(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[clientID]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, clientID)
	}
}

// size reports how many client entries are live.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
