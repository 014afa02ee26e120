package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingletonsAreNonNilAndStable(t *testing.T) {
	p1, p2 := PoolMetrics(), PoolMetrics()
	assert.NotNil(t, p1)
	assert.Same(t, p1, p2)

	b1, b2 := BrokerMetrics(), BrokerMetrics()
	assert.NotNil(t, b1)
	assert.Same(t, b1, b2)

	d1, d2 := DegradationMetrics(), DegradationMetrics()
	assert.NotNil(t, d1)
	assert.Same(t, d1, d2)
}

func TestCollectorsAreUsable(t *testing.T) {
	assert.NotPanics(t, func() {
		PoolMetrics().Acquired.Inc()
		PoolMetrics().ActiveWorkers.Set(3)
		PoolMetrics().ExecuteDuration.Observe(0.5)

		BrokerMetrics().Submitted.WithLabelValues("accepted").Inc()
		BrokerMetrics().JobsCompleted.WithLabelValues("succeeded").Inc()
		BrokerMetrics().JobDuration.Observe(1.2)

		DegradationMetrics().State.Set(1)
		DegradationMetrics().Transitions.WithLabelValues("normal", "degraded").Inc()
	})
}
