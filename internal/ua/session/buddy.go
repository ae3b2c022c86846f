package session

import (
	"fmt"
	"sync"

	"github.com/sebas/softphone/internal/ua/engine"
)

// BuddySession tracks presence of one buddy and carries instant messages to it.
type BuddySession struct {
	buddy engine.Buddy

	mu    sync.Mutex
	state string

	events listeners[engine.BuddyState]
}

func newBuddySession(b engine.Buddy) *BuddySession {
	s := &BuddySession{buddy: b, state: "offline"}
	b.SetStateHandler(s.onState)
	return s
}

// URI returns the buddy URI.
func (s *BuddySession) URI() string { return s.buddy.URI() }

// State returns the last presence text, "offline" until one arrives.
func (s *BuddySession) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnState registers a presence listener. Returns an unsubscribe func.
func (s *BuddySession) OnState(fn func(engine.BuddyState)) func() {
	return s.events.add(fn)
}

// SubscribePresence starts or stops the presence subscription.
func (s *BuddySession) SubscribePresence(subscribe bool) error {
	return engineErr("subscribe presence", s.buddy.SubscribePresence(subscribe))
}

// SendInstantMessage sends an out-of-dialog MESSAGE to the buddy.
func (s *BuddySession) SendInstantMessage(text string) error {
	return engineErr("send instant message", s.buddy.SendInstantMessage(text))
}

func (s *BuddySession) onState(st engine.BuddyState) {
	s.mu.Lock()
	s.state = st.StateText
	s.mu.Unlock()
	s.events.emit(st)
}

func (s *BuddySession) release() {
	s.buddy.SetStateHandler(nil)
	s.events.clear()
}

// AddBuddy adds uri to the account's buddy list, optionally subscribing to
// its presence.
func (s *RegistrationSession) AddBuddy(uri string, subscribe bool) (*BuddySession, error) {
	s.mu.Lock()
	acct := s.account
	_, exists := s.buddies[uri]
	s.mu.Unlock()
	if acct == nil {
		return nil, ErrNoAccount
	}
	if exists {
		return nil, fmt.Errorf("buddy %s: %w", uri, ErrBuddyExists)
	}

	b, err := acct.AddBuddy(uri, subscribe)
	if err != nil {
		return nil, engineErr("add buddy", err)
	}
	bs := newBuddySession(b)

	s.mu.Lock()
	s.buddies[uri] = bs
	s.mu.Unlock()

	s.log.Debug("[Registration] Buddy added", "account", s.ID(), "buddy", uri, "subscribe", subscribe)
	return bs, nil
}

// Buddy returns the buddy session for uri.
func (s *RegistrationSession) Buddy(uri string) (*BuddySession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buddies[uri]
	return b, ok
}

// DelBuddy removes uri from the buddy list.
func (s *RegistrationSession) DelBuddy(uri string) error {
	s.mu.Lock()
	acct := s.account
	b, ok := s.buddies[uri]
	delete(s.buddies, uri)
	s.mu.Unlock()
	if acct == nil {
		return ErrNoAccount
	}
	if ok {
		b.release()
	}
	return engineErr("delete buddy", acct.DelBuddy(uri))
}
