package sipengine

import "sync"

// notifier delivers notifications for one engine object serially, on its own
// goroutine, to the handler installed with setHandler. Notifications posted
// before the first handler is installed are buffered; once the handler has
// been released with a nil value, further notifications are dropped.
// Callbacks run without the lock held, so a handler may release itself.
type notifier[H any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	handler  H
	set      bool
	released bool
	closed   bool
	pending  []func(H)
}

func newNotifier[H any]() *notifier[H] {
	n := &notifier[H]{}
	n.cond = sync.NewCond(&n.mu)
	go n.loop()
	return n
}

func (n *notifier[H]) setHandler(h H) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if any(h) == nil {
		var zero H
		n.handler = zero
		n.set = false
		n.released = true
		n.pending = nil
	} else {
		n.handler = h
		n.set = true
		n.released = false
	}
	n.cond.Broadcast()
}

func (n *notifier[H]) post(fn func(H)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.released || n.closed {
		return
	}
	n.pending = append(n.pending, fn)
	n.cond.Broadcast()
}

// close stops the loop once the notifications already posted have been
// delivered. Pending notifications still wait for a handler; releasing the
// handler drops them.
func (n *notifier[H]) close() {
	n.mu.Lock()
	n.closed = true
	n.cond.Broadcast()
	n.mu.Unlock()
}

func (n *notifier[H]) loop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		for len(n.pending) == 0 || !n.set {
			if n.closed && len(n.pending) == 0 {
				return
			}
			n.cond.Wait()
		}
		fn := n.pending[0]
		n.pending[0] = nil
		n.pending = n.pending[1:]
		h := n.handler

		n.mu.Unlock()
		fn(h)
		n.mu.Lock()
	}
}
