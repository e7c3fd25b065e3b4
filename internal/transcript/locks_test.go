package transcript

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionLocks_SerializesSameKey(t *testing.T) {
	l := newSessionLocks()
	var (
		wg      sync.WaitGroup
		counter int
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := l.lock("s")
			defer release()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			counter++
			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, counter)
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.held(), "entries are dropped once released")
}

func TestSessionLocks_IndependentKeys(t *testing.T) {
	l := newSessionLocks()
	releaseA := l.lock("a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release := l.lock("b")
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on another session blocked")
	}
	assert.Equal(t, 1, l.held())
}
