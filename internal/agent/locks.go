package agent

import "sync"

// leadLocks serializes turns per lead. Entries are reference counted and
// removed once no turn holds or waits on them.
type leadLocks struct {
	mu    sync.Mutex
	locks map[int64]*leadLock
}

type leadLock struct {
	mu   sync.Mutex
	refs int
}

func newLeadLocks() *leadLocks {
	return &leadLocks{locks: make(map[int64]*leadLock)}
}

// lock blocks until the lead is free and returns the unlock func.
func (l *leadLocks) lock(leadID int64) func() {
	l.mu.Lock()
	ll, ok := l.locks[leadID]
	if !ok {
		ll = &leadLock{}
		l.locks[leadID] = ll
	}
	ll.refs++
	l.mu.Unlock()

	ll.mu.Lock()
	return func() {
		ll.mu.Unlock()
		l.mu.Lock()
		ll.refs--
		if ll.refs == 0 {
			delete(l.locks, leadID)
		}
		l.mu.Unlock()
	}
}

func (l *leadLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
