package sipengine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type noteSink interface {
	note(s string)
}

type noteLog struct {
	mu    sync.Mutex
	notes []string
}

func (l *noteLog) note(s string) {
	l.mu.Lock()
	l.notes = append(l.notes, s)
	l.mu.Unlock()
}

func (l *noteLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.notes...)
}

func post(n *notifier[noteSink], s string) {
	n.post(func(h noteSink) { h.note(s) })
}

func TestNotifierBuffersUntilHandlerSet(t *testing.T) {
	n := newNotifier[noteSink]()
	defer n.close()

	post(n, "a")
	post(n, "b")

	log := &noteLog{}
	n.setHandler(log)
	post(n, "c")

	assert.Eventually(t, func() bool { return len(log.get()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, log.get())
}

func TestNotifierReleaseDropsNotifications(t *testing.T) {
	n := newNotifier[noteSink]()
	defer n.close()

	post(n, "pending")
	n.setHandler(nil)
	post(n, "late")

	log := &noteLog{}
	n.setHandler(log)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, log.get())
}

type releasingSink struct {
	n   *notifier[noteSink]
	log *noteLog
}

func (r *releasingSink) note(s string) {
	r.log.note(s)
	r.n.setHandler(nil)
}

func TestNotifierHandlerMayReleaseItself(t *testing.T) {
	n := newNotifier[noteSink]()
	defer n.close()

	log := &noteLog{}
	n.setHandler(&releasingSink{n: n, log: log})
	post(n, "first")

	assert.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)
	post(n, "second")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"first"}, log.get())
}

func TestNotifierCloseDeliversPending(t *testing.T) {
	n := newNotifier[noteSink]()
	post(n, "x")
	n.close()
	post(n, "after close")

	log := &noteLog{}
	n.setHandler(log)
	assert.Eventually(t, func() bool { return len(log.get()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"x"}, log.get())
}
