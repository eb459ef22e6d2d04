package lifecycle

import "sync"

// cardLocks serializes transitions per card id. Entries are
// refcounted so the map does not grow with every card ever touched.
type cardLocks struct {
	mu    sync.Mutex
	locks map[string]*cardLock
}

type cardLock struct {
	mu   sync.Mutex
	refs int
}

func newCardLocks() *cardLocks {
	return &cardLocks{locks: make(map[string]*cardLock)}
}

// acquire blocks until the lock for id is held and returns the
// release function.
func (c *cardLocks) acquire(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &cardLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}
