package locker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocker(t *testing.T) {
	t.Run("serializes the same key", func(t *testing.T) {
		l := New()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := l.Lock("bat1")
				defer unlock()

				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, maxSeen)
		assert.Equal(t, 0, l.Len(), "entries should be released")
	})

	t.Run("different keys do not block", func(t *testing.T) {
		l := New()
		unlock1 := l.Lock("bat1")
		defer unlock1()

		done := make(chan struct{})
		go func() {
			unlock2 := l.Lock("bat2")
			unlock2()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("lock on a different key blocked")
		}
		assert.Equal(t, 1, l.Len())
	})
}
