package clockskew

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestCheckPhases(t *testing.T) {
	now := time.Date(2024, 3, 1, 13, 4, 5, 0, time.UTC)
	tests := []struct {
		name   string
		offset time.Duration
		err    error
		want   Phase
	}{
		{name: "small offset", offset: 20 * time.Millisecond, want: Healthy},
		{name: "negative small offset", offset: -499 * time.Millisecond, want: Healthy},
		{name: "at threshold", offset: 500 * time.Millisecond, want: UnhealthyOffset},
		{name: "negative large offset", offset: -2 * time.Second, want: UnhealthyOffset},
		{name: "query failure", err: errors.New("i/o timeout"), want: Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("pool.ntp.org", 0, 0,
				WithClock(fixedClock{t: now}),
				WithQuery(func(string) (time.Duration, error) { return tt.offset, tt.err }),
			)
			assert.Equal(t, Unchecked, c.Status().Phase)

			c.check()

			st := c.Status()
			assert.Equal(t, tt.want, st.Phase)
			assert.Equal(t, now, st.CheckedAt)
			if tt.err != nil {
				assert.Equal(t, "i/o timeout", st.Error)
				assert.Zero(t, st.Offset)
			} else {
				assert.Equal(t, tt.offset, st.Offset)
			}
		})
	}
}

func TestRunChecksImmediatelyThenPeriodically(t *testing.T) {
	var calls atomic.Int32
	var server atomic.Value
	c := NewChecker("time.example.org", 20*time.Millisecond, time.Second,
		WithQuery(func(s string) (time.Duration, error) {
			server.Store(s)
			calls.Add(1)
			return 0, nil
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	assert.GreaterOrEqual(t, calls.Load(), int32(3))
	assert.Equal(t, "time.example.org", server.Load())
	assert.Equal(t, Healthy, c.Status().Phase)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "unhealthy_offset", UnhealthyOffset.String())
	assert.Equal(t, "unknown", Phase(0).String())
}
