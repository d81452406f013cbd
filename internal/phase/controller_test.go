package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(Config{
		SortIndex:      200,
		MinSpikes:      100,
		ForegroundSize: 20,
		BackgroundSize: 180,
		BaselineEnd:    700,
	})
	if err != nil {
		t.Fatalf("NewController failed with valid config: %v", err)
	}
	return c
}

// runController drives c the way a subject run does and returns the phase of
// every buffer. spikes(idx) is the cumulative spike count after buffer idx.
func runController(c *Controller, n int, spikes func(idx int) int) []Phase {
	phases := make([]Phase, n)
	for idx := 0; idx < n; idx++ {
		if due, ok := c.ShouldCurate(idx, spikes(idx)); due && ok {
			c.CompleteCuration(idx)
		}
		phases[idx] = c.Advance(idx)
	}
	return phases
}

func TestNewController_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"negative sort", Config{SortIndex: -1, ForegroundSize: 1, BackgroundSize: 1, BaselineEnd: 5}, ErrInvalidSortIndex},
		{"zero foreground", Config{SortIndex: 1, ForegroundSize: 0, BackgroundSize: 1, BaselineEnd: 5}, ErrInvalidWindowSize},
		{"zero background", Config{SortIndex: 1, ForegroundSize: 1, BackgroundSize: 0, BaselineEnd: 5}, ErrInvalidWindowSize},
		{"baseline before sort", Config{SortIndex: 5, ForegroundSize: 1, BackgroundSize: 1, BaselineEnd: 5}, ErrInvalidBaselineEnd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewController(tt.cfg)
			if err != tt.want {
				t.Errorf("expected %v, got: %v", tt.want, err)
			}
		})
	}
}

func TestController_PhaseSequence(t *testing.T) {
	c := createTestController(t)
	phases := runController(c, 1000, func(idx int) int { return idx * 2 })

	for idx, p := range phases {
		var want Phase
		switch {
		case idx <= 200:
			want = Learning
		case idx < 401:
			want = Filling
		case idx <= 700:
			want = Baseline
		default:
			want = Tracking
		}
		if p != want {
			t.Fatalf("buffer %d: phase = %v, want %v", idx, p, want)
		}
	}
	assert.Equal(t, 201, c.Start())
	assert.Equal(t, 401, c.WindowsFull())
}

func TestController_DeferredCuration(t *testing.T) {
	c := createTestController(t)

	// Spikes only exceed the floor from buffer 250
	spikes := func(idx int) int {
		if idx < 250 {
			return 50
		}
		return 150
	}

	var deferred []int
	for idx := 0; idx < 260; idx++ {
		due, ok := c.ShouldCurate(idx, spikes(idx))
		if due && !ok {
			deferred = append(deferred, idx)
		}
		if due && ok {
			c.CompleteCuration(idx)
		}
		c.Advance(idx)
	}

	assert.Len(t, deferred, 50)
	assert.Equal(t, 200, deferred[0])
	assert.Equal(t, 251, c.Start())
	assert.Equal(t, Filling, c.Phase())
}

func TestController_FloorIsStrict(t *testing.T) {
	c := createTestController(t)
	due, ok := c.ShouldCurate(200, 100)
	assert.True(t, due)
	assert.False(t, ok)
}

func TestController_NeverRegresses(t *testing.T) {
	c := createTestController(t)
	phases := runController(c, 1500, func(idx int) int { return 1000 })

	for i := 1; i < len(phases); i++ {
		if phases[i] < phases[i-1] {
			t.Fatalf("phase regressed at buffer %d: %v -> %v", i, phases[i-1], phases[i])
		}
	}

	// Calling Advance with an older index does not move backwards
	assert.Equal(t, Tracking, c.Advance(0))
}

func TestController_LateWindowsSkipBaseline(t *testing.T) {
	c, err := NewController(Config{SortIndex: 5, MinSpikes: 0, ForegroundSize: 2, BackgroundSize: 3, BaselineEnd: 8})
	require.NoError(t, err)

	phases := runController(c, 20, func(idx int) int { return 1 })
	// start 6, windows full at 11 which is after the baseline cutoff
	assert.Equal(t, Filling, phases[10])
	assert.Equal(t, Baseline, phases[11])
	assert.Equal(t, Tracking, phases[12])
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "learning", Learning.String())
	assert.Equal(t, "tracking", Tracking.String())
	assert.Equal(t, "phase(9)", Phase(9).String())
}
