package units

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		intervalMS uint32
	}{
		{name: "1ms", intervalMS: 1},
		{name: "2ms", intervalMS: 2},
		{name: "5ms", intervalMS: 5},
		{name: "10ms", intervalMS: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConv(tt.intervalMS, CacheLineBytes)
			for mb := int64(1); mb <= 30000; mb += 137 {
				events := c.Events(mb)
				got := c.MB(events)
				diff := got - mb
				require.LessOrEqualf(t, diff, int64(1), "mb=%d events=%d got=%d", mb, events, got)
				require.GreaterOrEqualf(t, diff, int64(-1), "mb=%d events=%d got=%d", mb, events, got)
			}
		})
	}
}

func TestConvMonotonic(t *testing.T) {
	c := NewConv(1, CacheLineBytes)
	prev := c.Events(0)
	for mb := int64(1); mb <= 30000; mb++ {
		events := c.Events(mb)
		require.GreaterOrEqual(t, events, prev)
		prev = events
	}
}

func TestConvZero(t *testing.T) {
	c := NewConv(1, CacheLineBytes)
	require.Equal(t, int64(0), c.Events(0))
	require.Equal(t, int64(0), c.MB(0))
}

func TestNewConvPanics(t *testing.T) {
	require.Panics(t, func() { NewConv(0, CacheLineBytes) })
	require.Panics(t, func() { NewConv(1, 0) })
}
