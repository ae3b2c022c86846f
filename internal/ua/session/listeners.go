package session

import "sync"

// listeners is a set of application callbacks. Callbacks are invoked outside
// the lock so they may subscribe or unsubscribe re-entrantly.
type listeners[E any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(E)
}

func (l *listeners[E]) add(fn func(E)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(E))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

func (l *listeners[E]) emit(ev E) {
	l.mu.Lock()
	fns := make([]func(E), 0, len(l.fns))
	// subscription order
	for i := 0; i < l.nextID; i++ {
		if fn, ok := l.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (l *listeners[E]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
}
