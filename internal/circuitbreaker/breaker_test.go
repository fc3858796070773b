package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(threshold, time.Minute).WithClock(clk.Now), clk
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3)

	b.RecordFailure("code")
	b.RecordFailure("code")
	assert.True(t, b.Allow("code"))

	b.RecordFailure("code")
	assert.False(t, b.Allow("code"))
	assert.Equal(t, StateOpen, b.State("code"))
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	b, clk := newTestBreaker(1)
	b.RecordFailure("code")
	require.Equal(t, StateOpen, b.State("code"))

	clk.Advance(59 * time.Second)
	assert.False(t, b.Allow("code"))

	clk.Advance(time.Second)
	assert.True(t, b.Allow("code"), "probe admitted")
	assert.Equal(t, StateHalfOpen, b.State("code"))
	assert.False(t, b.Allow("code"), "second caller rejected while probing")
}

func TestBreaker_ProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, clk := newTestBreaker(1)
		b.RecordFailure("k")
		clk.Advance(time.Minute)
		require.True(t, b.Allow("k"))
		b.RecordSuccess("k")
		assert.Equal(t, StateClosed, b.State("k"))
		assert.True(t, b.Allow("k"))
	})
	t.Run("failure reopens", func(t *testing.T) {
		b, clk := newTestBreaker(3)
		b.RecordFailure("k")
		b.RecordFailure("k")
		b.RecordFailure("k")
		clk.Advance(time.Minute)
		require.True(t, b.Allow("k"))
		b.RecordFailure("k")
		assert.Equal(t, StateOpen, b.State("k"))
		assert.False(t, b.Allow("k"))
	})
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3)
	b.RecordFailure("k")
	b.RecordFailure("k")
	b.RecordSuccess("k")
	b.RecordFailure("k")
	b.RecordFailure("k")
	assert.Equal(t, StateClosed, b.State("k"))
}

func TestBreaker_IndependentKeys(t *testing.T) {
	b, _ := newTestBreaker(1)
	b.RecordFailure("code")
	assert.False(t, b.Allow("code"))
	assert.True(t, b.Allow("tx_count"))
	assert.Equal(t, StateClosed, b.State("unknown-key"))
}

func TestBreaker_Call(t *testing.T) {
	b, _ := newTestBreaker(2)
	boom := errors.New("rpc down")

	calls := 0
	fail := func() error { calls++; return boom }

	assert.ErrorIs(t, b.Call("k", fail), boom)
	assert.ErrorIs(t, b.Call("k", fail), boom)
	assert.ErrorIs(t, b.Call("k", fail), ErrOpen)
	assert.Equal(t, 2, calls, "open circuit does not invoke fn")

	assert.NoError(t, b.Call("other", func() error { return nil }))
}

func TestBreaker_OnTransition(t *testing.T) {
	b, clk := newTestBreaker(1)

	var got []string
	b.OnTransition(func(key string, from, to State) {
		got = append(got, key+":"+from.String()+"->"+to.String())
	})

	b.RecordFailure("k")
	clk.Advance(time.Minute)
	b.Allow("k")
	b.RecordSuccess("k")

	assert.Equal(t, []string{
		"k:closed->open",
		"k:open->half_open",
		"k:half_open->closed",
	}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}
