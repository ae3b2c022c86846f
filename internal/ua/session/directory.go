package session

import "sync"

// Directory maps engine call ids to live call sessions. Entries are added
// when a call id becomes known and removed on the terminal transition.
type Directory struct {
	mu    sync.RWMutex
	calls map[string]*CallSession
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{calls: make(map[string]*CallSession)}
}

// Register adds a session under id, replacing a stale entry if present.
func (d *Directory) Register(id string, s *CallSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[id] = s
}

// Lookup returns the session for id.
func (d *Directory) Lookup(id string) (*CallSession, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.calls[id]
	return s, ok
}

// Remove deletes the entry for id.
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.calls, id)
}

// release deletes the entry for id only if it still points at s, so a
// terminated session never evicts a newer session that reused its id.
func (d *Directory) release(id string, s *CallSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.calls[id]; ok && cur == s {
		delete(d.calls, id)
	}
}

// Len returns the number of live sessions.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.calls)
}

// List returns a snapshot of the live sessions.
func (d *Directory) List() []*CallSession {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*CallSession, 0, len(d.calls))
	for _, s := range d.calls {
		out = append(out, s)
	}
	return out
}
