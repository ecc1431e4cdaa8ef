package keylock

import (
	"context"
	"sync"
	"time"
)

// KeyLock provides per-key locking so concurrent refreshes of the same key set
// collapse into one upstream call. Waiting honours context cancellation.
type KeyLock struct {
	locks    map[string]*lockEntry
	mapMutex sync.Mutex
	idleTTL  time.Duration
}

// lockEntry holds a one-slot semaphore and its last access time for cleanup
type lockEntry struct {
	sem        chan struct{}
	lastAccess time.Time
	waiters    int
}

// New creates a KeyLock whose idle entries become eligible for Cleanup after idleTTL
func New(idleTTL time.Duration) *KeyLock {
	return &KeyLock{
		locks:   make(map[string]*lockEntry),
		idleTTL: idleTTL,
	}
}

// Lock acquires the lock for key, returning a release function.
// It returns ctx.Err() if the context ends first.
func (kl *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	entry := kl.acquireEntry(key)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		kl.releaseEntry(entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.sem
			kl.releaseEntry(entry)
		})
	}, nil
}

// Size returns the number of lock entries currently stored
func (kl *KeyLock) Size() int {
	kl.mapMutex.Lock()
	defer kl.mapMutex.Unlock()
	return len(kl.locks)
}

// Cleanup removes entries that nobody holds or waits on and that were idle longer than idleTTL
func (kl *KeyLock) Cleanup() int {
	kl.mapMutex.Lock()
	defer kl.mapMutex.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range kl.locks {
		if entry.waiters == 0 && now.Sub(entry.lastAccess) > kl.idleTTL {
			delete(kl.locks, key)
			removed++
		}
	}
	return removed
}

func (kl *KeyLock) acquireEntry(key string) *lockEntry {
	kl.mapMutex.Lock()
	defer kl.mapMutex.Unlock()

	entry, exists := kl.locks[key]
	if !exists {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		kl.locks[key] = entry
	}
	entry.waiters++
	entry.lastAccess = time.Now()
	return entry
}

func (kl *KeyLock) releaseEntry(entry *lockEntry) {
	kl.mapMutex.Lock()
	defer kl.mapMutex.Unlock()

	entry.waiters--
	entry.lastAccess = time.Now()
}
