package scheduling

import (
	"context"
	"fmt"
	"sync"
)

// Locker serializes engine operations that share a key (one branch, one client).
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// BranchLockKey is the lock key for branch-wide operations.
func BranchLockKey(branchID uint) string { return fmt.Sprintf("schedule:branch:%d", branchID) }

// ClientLockKey is the lock key for operations on one client's sessions.
func ClientLockKey(clientID uint) string { return fmt.Sprintf("schedule:client:%d", clientID) }

// KeyedMutex is an in-process Locker. Entries are dropped once nobody holds
// or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			k.release(key, e)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, e *keyedEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}
