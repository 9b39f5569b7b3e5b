package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTPRequestIncrementsCounterAndHistogram(t *testing.T) {
	ObserveHTTPRequest("/metrics_test_route", "200", 25*time.Millisecond)
	ObserveHTTPRequest("/metrics_test_route", "200", 25*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(HTTPRequests.WithLabelValues("/metrics_test_route", "200")))
	require.Equal(t, 1, testutil.CollectAndCount(HTTPLatency, "taco_http_request_duration_seconds"))
}

func TestObserveDecryptionSuccessIncrementsSuccessCounter(t *testing.T) {
	before := testutil.ToFloat64(ThresholdDecryptionSuccesses)

	ObserveDecryption("", 10*time.Millisecond)

	require.Equal(t, before+1, testutil.ToFloat64(ThresholdDecryptionSuccesses))
}

func TestObserveDecryptionFailureIncrementsFailureCounterByCode(t *testing.T) {
	ObserveDecryption("ConditionFalse", 5*time.Millisecond)
	ObserveDecryption("ConditionFalse", 5*time.Millisecond)

	require.Equal(t, float64(2), testutil.ToFloat64(ThresholdDecryptionFailures.WithLabelValues("ConditionFalse")))
}

func TestReencryptionCFragsReturnedTracksGrantedAndDenied(t *testing.T) {
	ReencryptionCFragsReturned.WithLabelValues("granted").Add(3)
	ReencryptionCFragsReturned.WithLabelValues("condition_denied").Add(1)

	require.Equal(t, float64(3), testutil.ToFloat64(ReencryptionCFragsReturned.WithLabelValues("granted")))
	require.Equal(t, float64(1), testutil.ToFloat64(ReencryptionCFragsReturned.WithLabelValues("condition_denied")))
}
