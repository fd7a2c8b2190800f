package engine

import (
	"fmt"

	"github.com/sasha-s/go-deadlock"

	"github.com/roach88/hubd/internal/message"
)

// keyLocks hands out one mutex per conflict key. Entries are reference
// counted and dropped once nobody holds or waits on them.
type keyLocks struct {
	mu    deadlock.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   deadlock.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyLocks) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of live entries. Used by tests.
func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func fidLockKey(fid message.Fid) string { return fmt.Sprintf("fid:%d", fid) }

func fnameLockKey(fname string) string { return "fname:" + fname }
