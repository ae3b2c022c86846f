package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectoryReleaseKeepsNewerEntry(t *testing.T) {
	d := NewDirectory()
	old, cur := &CallSession{}, &CallSession{}

	d.Register("c1", old)
	d.Register("c1", cur)
	d.release("c1", old)

	got, ok := d.Lookup("c1")
	assert.True(t, ok)
	assert.Same(t, cur, got)

	d.Remove("c1")
	_, ok = d.Lookup("c1")
	assert.False(t, ok)
}

func TestDirectoryConcurrentAccess(t *testing.T) {
	d := NewDirectory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("call-%d", i)
			s := &CallSession{}
			d.Register(id, s)
			_, _ = d.Lookup(id)
			_ = d.List()
			if i%2 == 0 {
				d.release(id, s)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, d.Len())
	assert.Len(t, d.List(), 25)
}
