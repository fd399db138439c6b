package order

import "sync"

// ownerLocks serializes checkout per owner. Entries are created lazily and
// kept for the life of the process; owner cardinality is bounded by the user
// base, so the map stays small.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*sync.Mutex)}
}

func (o *ownerLocks) lock(ownerID string) func() {
	o.mu.Lock()
	l, ok := o.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[ownerID] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}
