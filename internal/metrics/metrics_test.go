package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/diffeo/cogrunner/internal/runtime"
)

func TestObserveRequestRecordsOneSample(t *testing.T) {
	before := testutil.CollectAndCount(requestDuration)
	ObserveRequest("/predictions", 5*time.Millisecond)
	after := testutil.CollectAndCount(requestDuration)
	assert.Equal(t, before+1, after)
}

func TestObserveHealthSetsExactlyOneGaugeToOne(t *testing.T) {
	ObserveHealth(runtime.HealthReady)

	assert.Equal(t, 1.0, testutil.ToFloat64(workerHealth.WithLabelValues(string(runtime.HealthReady))))
	assert.Equal(t, 0.0, testutil.ToFloat64(workerHealth.WithLabelValues(string(runtime.HealthBusy))))

	ObserveHealth(runtime.HealthBusy)

	assert.Equal(t, 0.0, testutil.ToFloat64(workerHealth.WithLabelValues(string(runtime.HealthReady))))
	assert.Equal(t, 1.0, testutil.ToFloat64(workerHealth.WithLabelValues(string(runtime.HealthBusy))))
}
