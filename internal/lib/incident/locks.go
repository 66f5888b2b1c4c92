package incident

import "sync"

// bucketLocks serialises find-or-create and confirm sequences per incident
// type. Two reports can only merge when their types match, so a per-type
// critical section is enough to rule out duplicate creates.
type bucketLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newBucketLocks() *bucketLocks {
	return &bucketLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the bucket for key and returns its release function
func (b *bucketLocks) lock(key string) func() {
	b.mu.Lock()
	l, ok := b.locks[key]
	if !ok {
		l = &sync.Mutex{}
		b.locks[key] = l
	}
	b.mu.Unlock()

	l.Lock()
	return l.Unlock
}
