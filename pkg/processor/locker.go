package processor

import (
	"context"
	"sync"
)

// Locker serializes runs for the same dispensary. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, dispensaryID string) (func(context.Context) error, error)
}

// LocalLocker is an in-process Locker
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch      chan struct{}
	waiters int
}

// NewLocalLocker creates a LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

// Lock blocks until the dispensary is free or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, dispensaryID string) (func(context.Context) error, error) {
	l.mu.Lock()
	lock, ok := l.locks[dispensaryID]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[dispensaryID] = lock
	}
	lock.waiters++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.done(dispensaryID, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-lock.ch
			l.done(dispensaryID, lock)
		})
		return nil
	}, nil
}

func (l *LocalLocker) done(dispensaryID string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.waiters--
	if lock.waiters == 0 {
		delete(l.locks, dispensaryID)
	}
}
