package chatsync

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebounceBurstYieldsOneSignal(t *testing.T) {
	var emissions atomic.Int32
	d := NewTypingDebouncer(90*time.Millisecond, func() { emissions.Add(1) })
	defer d.Stop()

	// Five changes inside the quiet window collapse into one signal.
	for i := 0; i < 5; i++ {
		d.Touch()
		time.Sleep(20 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return emissions.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// Stays at one: nothing else is pending.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), emissions.Load())
}

func TestDebounceSeparatedChangesYieldTwoSignals(t *testing.T) {
	var emissions atomic.Int32
	d := NewTypingDebouncer(60*time.Millisecond, func() { emissions.Add(1) })
	defer d.Stop()

	d.Touch()
	time.Sleep(150 * time.Millisecond)
	d.Touch()
	require.Eventually(t, func() bool {
		return emissions.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDebounceStopCancelsPending(t *testing.T) {
	var emissions atomic.Int32
	d := NewTypingDebouncer(50*time.Millisecond, func() { emissions.Add(1) })

	d.Touch()
	d.Stop()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), emissions.Load())

	// Touches after Stop are ignored.
	d.Touch()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), emissions.Load())
}

func TestIndicatorResetsInsteadOfStacking(t *testing.T) {
	var activations, expiries atomic.Int32
	s := NewIndicatorSet(100*time.Millisecond, func(_ string, active bool) {
		if active {
			activations.Add(1)
		} else {
			expiries.Add(1)
		}
	})
	defer s.Stop()

	s.Set(EventTyping)
	time.Sleep(60 * time.Millisecond)
	s.Set(EventTyping) // fresh event resets the timeout

	time.Sleep(60 * time.Millisecond)
	assert.True(t, s.Active(EventTyping), "reset must extend the indicator past the original expiry")

	require.Eventually(t, func() bool {
		return !s.Active(EventTyping)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), activations.Load(), "one activation edge, not one per event")
	assert.Equal(t, int32(1), expiries.Load())
}

func TestIndicatorKindsAreIndependent(t *testing.T) {
	s := NewIndicatorSet(200*time.Millisecond, nil)
	defer s.Stop()

	s.Set(EventTyping)
	assert.True(t, s.Active(EventTyping))
	assert.False(t, s.Active(EventSpeaking))
}

func TestPresenceLastWriteWins(t *testing.T) {
	p := NewPresenceMap()
	p.Set("bob", PresenceOnline)
	p.Set("bob", PresenceAway)
	p.Set("bob", PresenceDND)

	status, ok := p.Get("bob")
	require.True(t, ok)
	assert.Equal(t, PresenceDND, status)

	_, ok = p.Get("carol")
	assert.False(t, ok)

	snap := p.Snapshot()
	assert.Equal(t, map[string]PresenceStatus{"bob": PresenceDND}, snap)
}
