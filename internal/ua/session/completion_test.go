package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionSettlesOnce(t *testing.T) {
	c := newCompletion()
	assert.False(t, c.Settled())
	assert.NoError(t, c.Err())

	boom := errors.New("boom")
	assert.True(t, c.reject(boom))
	assert.False(t, c.resolve())
	assert.False(t, c.reject(errors.New("late")))

	assert.True(t, c.Settled())
	assert.Same(t, boom, c.Err())
}

func TestCompletionConcurrentSettle(t *testing.T) {
	c := newCompletion()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var won bool
			if i%2 == 0 {
				won = c.resolve()
			} else {
				won = c.reject(errors.New("x"))
			}
			if won {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCompletionWait(t *testing.T) {
	c := newCompletion()
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.resolve()
	}()
	require.NoError(t, c.Wait(testContext(t)))

	pending := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pending.Wait(ctx), context.DeadlineExceeded)
	assert.False(t, pending.Settled())
}

func TestResolvedCompletion(t *testing.T) {
	c := resolved()
	assert.True(t, c.Settled())
	assert.NoError(t, c.Wait(context.Background()))
}

func TestListenersUnsubscribeDuringEmit(t *testing.T) {
	var l listeners[int]
	var got []string

	var unsubB func()
	l.add(func(int) {
		got = append(got, "a")
		unsubB()
	})
	unsubB = l.add(func(int) { got = append(got, "b") })
	l.add(func(int) { got = append(got, "c") })

	l.emit(1)
	l.emit(2)
	assert.Equal(t, []string{"a", "b", "c", "a", "c"}, got)

	unsubB()
	l.clear()
	l.emit(3)
	assert.Len(t, got, 5)
}
