package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock(t *testing.T) {
	c := MustParseClock("2026-01-01T00:00:00Z")
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, c.Now().Equal(want))
	assert.True(t, c.Now().Equal(want), "fixed clock never advances")
	assert.Panics(t, func() { MustParseClock("yesterday") })
}

func TestSteppingClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSteppingClock(start, time.Second)

	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Now())

	c.Reset(start)
	assert.Equal(t, start, c.Now())
}

func TestSteppingClock_Concurrent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSteppingClock(start, time.Millisecond)

	const n = 100
	seen := make(chan time.Time, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[time.Time]bool)
	for ts := range seen {
		unique[ts] = true
	}
	assert.Len(t, unique, n, "every call gets a distinct instant")
}
