package clock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockTick(t *testing.T) {
	c := New(nil)
	require.Equal(t, int64(1), c.Current(), "initialization counts as an event")

	assert.Equal(t, int64(2), c.Tick("first"))
	assert.Equal(t, int64(3), c.Tick("second"))
	assert.Equal(t, int64(3), c.Current())
}

func TestClockObserve(t *testing.T) {
	tests := []struct {
		name     string
		start    int
		incoming int64
		want     int64
	}{
		{name: "incoming ahead", start: 0, incoming: 10, want: 11},
		{name: "incoming equal", start: 4, incoming: 5, want: 6},
		{name: "incoming behind", start: 9, incoming: 3, want: 10},
		{name: "incoming one behind", start: 4, incoming: 4, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			for i := 0; i < tt.start; i++ {
				c.Tick("setup")
			}
			got := c.Observe(tt.incoming, "message")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, c.Current())
			assert.GreaterOrEqual(t, c.Current(), tt.incoming+1)
		})
	}
}

func TestClockMonotonicUnderConcurrency(t *testing.T) {
	c := New(nil)
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			last := c.Current()
			for i := 0; i < 500; i++ {
				var v int64
				if i%3 == 0 {
					v = c.Observe(int64(g*i), "peer")
				} else {
					v = c.Tick("local")
				}
				if v < last {
					t.Errorf("clock went backwards: %d < %d", v, last)
					return
				}
				last = v
			}
		}(g)
	}
	wg.Wait()

	// 8 goroutines * ~333 ticks each, plus the initial tick
	assert.GreaterOrEqual(t, c.Current(), int64(8*333+1))
}
