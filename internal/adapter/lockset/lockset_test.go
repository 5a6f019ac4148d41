package lockset

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSet_SharedReaders(t *testing.T) {
	t.Parallel()

	l := New()

	releaseA := l.Acquire([]string{"projects", "tasks"}, false)
	releaseB := l.Acquire([]string{"tasks"}, false)

	releaseA()
	releaseA()
	releaseB()
}

func TestLockSet_WritersSerialize(t *testing.T) {
	t.Parallel()

	var (
		l       = New()
		wg      sync.WaitGroup
		active  int32
		overlap int32
	)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			// Opposite orders would deadlock without sorting.
			tables := []string{"a", "b"}
			if i%2 == 0 {
				tables = []string{"b", "a", "b"}
			}
			release := l.Acquire(tables, true)
			defer release()

			if atomic.AddInt32(&active, 1) > 1 {
				atomic.StoreInt32(&overlap, 1)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
}

func TestLockSet_CatalogExcludesTransactions(t *testing.T) {
	t.Parallel()

	l := New()
	release := l.Acquire([]string{"projects"}, false)

	acquired := make(chan struct{})
	go func() {
		releaseCatalog := l.AcquireCatalog()
		close(acquired)
		releaseCatalog()
	}()

	select {
	case <-acquired:
		t.Fatal("catalog lock acquired while a transaction is open")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	<-acquired
}
