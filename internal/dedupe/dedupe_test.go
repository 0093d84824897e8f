// ABOUTME: Tests for the request-id replay guard
// ABOUTME: Covers TTL expiry, capacity eviction, and concurrent admission

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenAdmitsOnce(t *testing.T) {
	g := New(time.Minute, 100)
	defer g.Close()

	assert.False(t, g.Seen("req-1"), "first sighting should be admitted")
	assert.True(t, g.Seen("req-1"), "replay should be rejected")
	assert.False(t, g.Seen("req-2"), "distinct id should be admitted")
}

func TestSeenExpires(t *testing.T) {
	g := New(30*time.Millisecond, 100)
	defer g.Close()

	assert.False(t, g.Seen("req-1"))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, g.Seen("req-1"), "expired id should be admitted again")
}

func TestCapacityEvictsOldest(t *testing.T) {
	g := New(time.Minute, 3)
	defer g.Close()

	g.Seen("a")
	g.Seen("b")
	g.Seen("c")
	g.Seen("d") // evicts a

	assert.False(t, g.Seen("a"), "evicted id should be admitted again")
	assert.True(t, g.Seen("b"))
	assert.True(t, g.Seen("c"))
	assert.True(t, g.Seen("d"))
}

func TestConcurrentRetriesAdmitExactlyOne(t *testing.T) {
	g := New(time.Minute, 100)
	defer g.Close()

	const workers = 16
	admitted := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !g.Seen("same-id") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
}

func TestManyDistinctIDs(t *testing.T) {
	g := New(time.Minute, 1000)
	defer g.Close()

	for i := 0; i < 500; i++ {
		assert.False(t, g.Seen(fmt.Sprintf("req-%d", i)))
	}
	for i := 0; i < 500; i++ {
		assert.True(t, g.Seen(fmt.Sprintf("req-%d", i)))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	g := New(time.Minute, 10)
	g.Close()
	g.Close()
}
