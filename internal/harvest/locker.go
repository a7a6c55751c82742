package harvest

import "sync"

// Locker hands out one mutex per collection id. Entries are reference
// counted and dropped when nobody holds or waits on them.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the collection's mutex is held and returns its release
// func.
func (l *Locker) Lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}

func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// runGuard tracks which collections have a run in flight.
type runGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func (g *runGuard) acquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, busy := g.running[id]; busy {
		return false
	}
	g.running[id] = struct{}{}
	return true
}

func (g *runGuard) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, id)
}

func (g *runGuard) isRunning(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.running[id]
	return busy
}
