package ingest

import "sync"

// keyedLocks serializes lifecycle operations per record, so RemoveFile and
// CreatePdf cannot race on the same record's slots. Locks are never reaped;
// the footprint is one mutex per touched record for the process lifetime.
type keyedLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

// lock acquires the lock for id and returns the release func.
func (l *keyedLocks) lock(id int64) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[int64]*sync.Mutex)
	}
	mu, ok := l.m[id]
	if !ok {
		mu = &sync.Mutex{}
		l.m[id] = mu
	}
	l.mu.Unlock()

	mu.Lock()
	return mu.Unlock
}
