package session

import (
	"context"
	"sync"
)

// Completion is the one-shot outcome of an asynchronous operation. It is
// settled exactly once, either resolved (nil error) or rejected.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// resolved returns an already settled, successful completion.
func resolved() *Completion {
	c := newCompletion()
	c.resolve()
	return c
}

// settle records err and wakes waiters. Returns false if already settled.
func (c *Completion) settle(err error) bool {
	settled := false
	c.once.Do(func() {
		c.err = err
		close(c.done)
		settled = true
	})
	return settled
}

func (c *Completion) resolve() bool {
	return c.settle(nil)
}

func (c *Completion) reject(err error) bool {
	return c.settle(err)
}

// Done is closed once the completion is settled.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the outcome once settled, nil before that.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Settled reports whether the completion has been resolved or rejected.
func (c *Completion) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the completion settles or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
