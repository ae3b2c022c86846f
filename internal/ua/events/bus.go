package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sebas/softphone/internal/ua/phone"
	"github.com/sebas/softphone/internal/ua/session"
)

// DefaultHistory is the number of recent events a Bus keeps.
const DefaultHistory = 256

// Bus fans events out to subscribers. Each subscriber has a buffered
// channel; events are dropped for a subscriber whose buffer is full.
type Bus struct {
	log *slog.Logger

	mu      sync.RWMutex
	nextID  int
	subs    map[int]*subscription
	history []*Event
	histLen int
	closed  bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

type subscription struct {
	pattern string
	ch      chan *Event
}

// NewBus creates a bus keeping the last history events (DefaultHistory if
// history <= 0).
func NewBus(history int, log *slog.Logger) *Bus {
	if history <= 0 {
		history = DefaultHistory
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:     log,
		subs:    make(map[int]*subscription),
		histLen: history,
	}
}

// Publish delivers e to every subscriber whose pattern matches its subject.
// Sends never block.
func (b *Bus) Publish(e *Event) {
	subject := e.Subject()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, e)
	if len(b.history) > b.histLen {
		b.history = b.history[len(b.history)-b.histLen:]
	}

	b.published.Add(1)
	for _, s := range b.subs {
		if !Match(s.pattern, subject) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			b.log.Warn("[Events] Subscriber buffer full, event dropped", "subject", subject)
		}
	}
	b.log.Debug("[Events] Published", "subject", subject, "event_id", e.EventID)
}

// Subscribe returns a channel of events whose subject matches pattern and a
// func that cancels the subscription and closes the channel.
func (b *Bus) Subscribe(pattern string, buffer int) (<-chan *Event, func()) {
	_, ch, cancel := b.SubscribeReplay(pattern, buffer, 0)
	return ch, cancel
}

// SubscribeReplay is Subscribe that also returns up to replay matching
// events from history. No event is both replayed and delivered.
func (b *Bus) SubscribeReplay(pattern string, buffer, replay int) ([]*Event, <-chan *Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscription{pattern: pattern, ch: make(chan *Event, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return nil, s.ch, func() {}
	}
	var past []*Event
	if replay > 0 {
		past = b.recentLocked(pattern, replay)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return past, s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
			b.mu.Unlock()
		})
	}
}

// Recent returns up to n of the latest events whose subject matches
// pattern, oldest first. n <= 0 returns all of them.
func (b *Bus) Recent(pattern string, n int) []*Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.recentLocked(pattern, n)
}

func (b *Bus) recentLocked(pattern string, n int) []*Event {
	var out []*Event
	for i := len(b.history) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if Match(pattern, b.history[i].Subject()) {
			out = append(out, b.history[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Stats returns the number of events published and dropped.
func (b *Bus) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}

// Close closes every subscription channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, s := range b.subs {
		close(s.ch)
		delete(b.subs, id)
	}
	return nil
}

// Attach publishes the account and call events of p until the returned func
// is called.
func (b *Bus) Attach(p *phone.Phone, builder *Builder) func() {
	return b.attach(p, builder).detach
}

// attachment holds the phone subscriptions of one Attach. Per-call
// subscriptions are released when the call ends.
type attachment struct {
	mu       sync.Mutex
	detached bool
	phone    []func()
	perCall  map[*session.CallSession]func()
}

func (b *Bus) attach(p *phone.Phone, builder *Builder) *attachment {
	a := &attachment{perCall: make(map[*session.CallSession]func())}

	unsubAccount := p.OnAccountEvent(func(ev session.AccountEvent) {
		b.Publish(builder.FromAccount(ev))
	})
	unsubCalls := p.OnCall(func(cs *session.CallSession) {
		account := cs.Account().ID()
		if !cs.Incoming() {
			b.Publish(builder.CallPlaced(cs))
		}
		unsub := cs.OnEvent(func(ev session.CallEvent) {
			b.Publish(builder.FromCall(account, ev))
			if ev.Type == session.CallEventDisconnected {
				a.release(cs)
			}
		})
		a.track(cs, unsub)
	})

	a.mu.Lock()
	a.phone = []func(){unsubAccount, unsubCalls}
	a.mu.Unlock()
	return a
}

func (a *attachment) track(cs *session.CallSession, unsub func()) {
	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		unsub()
		return
	}
	a.perCall[cs] = unsub
	a.mu.Unlock()

	// the call may have ended before it was tracked
	select {
	case <-cs.Done():
		a.release(cs)
	default:
	}
}

func (a *attachment) release(cs *session.CallSession) {
	a.mu.Lock()
	unsub, ok := a.perCall[cs]
	delete(a.perCall, cs)
	a.mu.Unlock()
	if ok {
		unsub()
	}
}

func (a *attachment) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.perCall)
}

func (a *attachment) detach() {
	a.mu.Lock()
	a.detached = true
	fns := a.phone
	a.phone = nil
	for cs, fn := range a.perCall {
		fns = append(fns, fn)
		delete(a.perCall, cs)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
