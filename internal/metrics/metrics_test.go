package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(orders.WithLabelValues("tp", "failed"))
	IncOrder("tp", false)
	assert.Equal(t, before+1, testutil.ToFloat64(orders.WithLabelValues("tp", "failed")))

	before = testutil.ToFloat64(gateRequests.WithLabelValues("POST", "400"))
	ObserveGateRequest("POST", 400)
	assert.Equal(t, before+1, testutil.ToFloat64(gateRequests.WithLabelValues("POST", "400")))

	IncSignal("duplicate")
	assert.GreaterOrEqual(t, testutil.ToFloat64(signals.WithLabelValues("duplicate")), 1.0)
}

func TestOpenPositionsGauge(t *testing.T) {
	SetOpenPositions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(openPositions))
	SetOpenPositions(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(openPositions))
}
