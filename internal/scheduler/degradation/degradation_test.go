package degradation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseThresholds() Thresholds {
	return Thresholds{
		DegradedEnter: Metrics{CPUPercent: 70},
		DegradedExit:  Metrics{CPUPercent: 50},
		CriticalEnter: Metrics{CPUPercent: 90},
		CriticalExit:  Metrics{CPUPercent: 80},
	}
}

func TestEvaluateClimbsToDegraded(t *testing.T) {
	c := New(Config{Thresholds: baseThresholds(), DebounceInterval: time.Nanosecond}, nil)
	c.evaluate(Metrics{CPUPercent: 75})
	assert.Equal(t, Degraded, c.State())
}

func TestEvaluateClimbsToCriticalDirectly(t *testing.T) {
	c := New(Config{Thresholds: baseThresholds(), DebounceInterval: time.Nanosecond}, nil)
	c.evaluate(Metrics{CPUPercent: 95})
	assert.Equal(t, Critical, c.State())
}

func TestEvaluateHysteresisHoldsDegradedUntilExitThreshold(t *testing.T) {
	c := New(Config{Thresholds: baseThresholds(), DebounceInterval: time.Nanosecond}, nil)
	c.evaluate(Metrics{CPUPercent: 75})
	require := assert.New(t)
	require.Equal(Degraded, c.State())

	// Dips below the enter threshold but stays above the exit threshold:
	// should NOT return to normal yet (hysteresis).
	c.evaluate(Metrics{CPUPercent: 60})
	require.Equal(Degraded, c.State())

	c.evaluate(Metrics{CPUPercent: 40})
	require.Equal(Normal, c.State())
}

func TestEvaluateDebounceBlocksRapidTransitions(t *testing.T) {
	c := New(Config{Thresholds: baseThresholds(), DebounceInterval: time.Hour}, nil)
	c.evaluate(Metrics{CPUPercent: 95})
	assert.Equal(t, Critical, c.State())

	// Within the debounce window: stays Critical even though metrics say
	// it should drop all the way back to normal.
	c.evaluate(Metrics{CPUPercent: 10})
	assert.Equal(t, Critical, c.State())
}

func TestDelayByState(t *testing.T) {
	c := New(Config{
		Thresholds:    baseThresholds(),
		DebounceInterval: time.Nanosecond,
		DegradedDelay: 2 * time.Second,
		CriticalDelay: 7 * time.Second,
	}, nil)

	d, reject := c.Delay()
	assert.False(t, reject)
	assert.Zero(t, d)

	c.evaluate(Metrics{CPUPercent: 75})
	d, reject = c.Delay()
	assert.False(t, reject)
	assert.Equal(t, 2*time.Second, d)

	c.evaluate(Metrics{CPUPercent: 95})
	d, reject = c.Delay()
	assert.False(t, reject)
	assert.Equal(t, 7*time.Second, d)
}

func TestDelayRejectsInCriticalWhenConfigured(t *testing.T) {
	c := New(Config{
		Thresholds:       baseThresholds(),
		DebounceInterval: time.Nanosecond,
		RejectInCritical: true,
	}, nil)
	c.evaluate(Metrics{CPUPercent: 95})

	_, reject := c.Delay()
	assert.True(t, reject)
}

func TestOnTransitionNotifiesListeners(t *testing.T) {
	c := New(Config{Thresholds: baseThresholds(), DebounceInterval: time.Nanosecond}, nil)
	done := make(chan struct{}, 1)
	var gotFrom, gotTo State
	c.OnTransition(func(from, to State, m Metrics) {
		gotFrom, gotTo = from, to
		done <- struct{}{}
	})

	c.evaluate(Metrics{CPUPercent: 75})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener was not called")
	}
	assert.Equal(t, Normal, gotFrom)
	assert.Equal(t, Degraded, gotTo)
}
