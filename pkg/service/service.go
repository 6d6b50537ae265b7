package service

import "sync"

// Logger defines the logging interface for the workflow services
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// entityLocks hands out one mutex per entity id, serializing transitions
// on the same instance or approval request while leaving unrelated
// entities fully parallel. Entries are reference-counted and removed
// once the last holder releases, so the map stays bounded by the number
// of in-flight transitions rather than growing with every entity seen.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*entityLock)}
}

// acquire locks the entity's mutex and returns its release function.
// The release function must be called exactly once.
func (l *entityLocks) acquire(id string) func() {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &entityLock{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
