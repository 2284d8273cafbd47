package remoteadapter

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInitMetricsRegistryTwice(t *testing.T) {
	registry := prometheus.NewRegistry()
	m1, err := initMetricsRegistry(registry, "test")
	require.NoError(t, err)
	m2, err := initMetricsRegistry(registry, "test")
	require.NoError(t, err)

	m1.incRequestsReceived("data", "SUB")
	m2.incRequestsReceived("data", "SUB")
	require.Equal(t, float64(2), testutil.ToFloat64(m1.requestsReceivedCount.WithLabelValues("data", "SUB")))

	m1.addActiveSubscriptions(1)
	m2.addActiveSubscriptions(2)
	m1.addActiveSubscriptions(-1)
	require.Equal(t, float64(2), testutil.ToFloat64(m2.activeSubscriptions))
}

func TestMetricsNil(t *testing.T) {
	var m *metrics
	m.incRequestsReceived("data", "SUB")
	m.incMalformedRequests("data")
	m.incLinesSent("replies")
	m.incKeepalivesSent("replies")
	m.observeAdapterCall("data", "SUB", time.Millisecond)
	m.addActiveSubscriptions(1)
	m.incLateSubscribes()
	m.incDroppedEvents()
	m.addPendingControlRequests(1)
	m.incFatalErrors("data", "io")
}

func TestMetricsGather(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := initMetricsRegistry(registry, "")
	require.NoError(t, err)
	m.incLinesSent("notifications")
	m.observeAdapterCall("metadata", "NUS", 10*time.Millisecond)
	families, err := registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["lightstreamer_remote_adapter_lines_sent_count"])
	require.True(t, names["lightstreamer_remote_adapter_adapter_call_duration_seconds"])
}
