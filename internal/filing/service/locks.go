package service

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// filingLocks serializes workflow operations per filing within this
// process. Row locks still guard cross-process writers; this keeps a
// submit and a concurrent settle from interleaving their gateway calls.
type filingLocks struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*lockEntry
}

type lockEntry struct {
	mu      sync.Mutex
	waiters int
}

func newFilingLocks() *filingLocks {
	return &filingLocks{locks: map[snowflake.ID]*lockEntry{}}
}

// Lock acquires the per-filing lock and returns its release func.
func (l *filingLocks) Lock(id snowflake.ID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.waiters++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.waiters--
		if entry.waiters == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
