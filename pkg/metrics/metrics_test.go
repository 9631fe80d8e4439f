package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTimerObservesVectorChildrenAndPlainHistograms(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)

	// Vector children are Observers, plain histograms implement Observer
	timer.ObserveDuration(TaskProcessingDuration.WithLabelValues("noop"))
	timer.ObserveDuration(HealthCheckDuration)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(TaskProcessingDuration), 1)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(HealthCheckDuration), 1)
}
