package remoteadapter

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// default namespace for prometheus metrics. Can be changed over Config.
var defaultMetricsNamespace = "lightstreamer"

var registryMu sync.Mutex

const metricsSubsystem = "remote_adapter"

type metrics struct {
	requestsReceivedCount  *prometheus.CounterVec
	malformedRequestCount  *prometheus.CounterVec
	linesSentCount         *prometheus.CounterVec
	keepalivesSentCount    *prometheus.CounterVec
	adapterCallDuration    *prometheus.HistogramVec
	activeSubscriptions    prometheus.Gauge
	lateSubscribeCount     prometheus.Counter
	droppedUpdateCount     prometheus.Counter
	pendingControlRequests prometheus.Gauge
	fatalErrorCount        *prometheus.CounterVec
}

// register registers the collector, an already registered equal collector
// is reused so that several servers may share one registry.
func register[T prometheus.Collector](registry prometheus.Registerer, c T) (T, error) {
	if err := registry.Register(c); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			if existing, ok := alreadyRegistered.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func initMetricsRegistry(registry prometheus.Registerer, metricsNamespace string) (*metrics, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if metricsNamespace == "" {
		metricsNamespace = defaultMetricsNamespace
	}
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &metrics{}
	var err error

	if m.requestsReceivedCount, err = register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "requests_received_count",
		Help:      "Number of requests received from the Proxy Adapter.",
	}, []string{"adapter", "method"})); err != nil {
		return nil, err
	}

	if m.malformedRequestCount, err = register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "malformed_requests_count",
		Help:      "Number of request lines discarded because malformed.",
	}, []string{"adapter"})); err != nil {
		return nil, err
	}

	if m.linesSentCount, err = register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "lines_sent_count",
		Help:      "Number of lines written to the Proxy Adapter.",
	}, []string{"channel"})); err != nil {
		return nil, err
	}

	if m.keepalivesSentCount, err = register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "keepalives_sent_count",
		Help:      "Number of keepalive lines written to the Proxy Adapter.",
	}, []string{"channel"})); err != nil {
		return nil, err
	}

	if m.adapterCallDuration, err = register(registry, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "adapter_call_duration_seconds",
		Help:      "Duration of calls to the wrapped adapter.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"adapter", "method"})); err != nil {
		return nil, err
	}

	if m.activeSubscriptions, err = register(registry, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "active_subscriptions",
		Help:      "Number of items with an active subscription.",
	})); err != nil {
		return nil, err
	}

	if m.lateSubscribeCount, err = register(registry, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "late_subscribes_count",
		Help:      "Number of subscribe requests answered without calling the adapter because already overtaken by an unsubscribe.",
	})); err != nil {
		return nil, err
	}

	if m.droppedUpdateCount, err = register(registry, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "dropped_events_count",
		Help:      "Number of events pushed by the adapter for items not subscribed.",
	})); err != nil {
		return nil, err
	}

	if m.pendingControlRequests, err = register(registry, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "pending_control_requests",
		Help:      "Number of control requests waiting for a response.",
	})); err != nil {
		return nil, err
	}

	if m.fatalErrorCount, err = register(registry, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "fatal_errors_count",
		Help:      "Number of fatal errors by kind.",
	}, []string{"adapter", "kind"})); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metrics) incRequestsReceived(adapter, method string) {
	if m == nil {
		return
	}
	m.requestsReceivedCount.WithLabelValues(adapter, method).Inc()
}

func (m *metrics) incMalformedRequests(adapter string) {
	if m == nil {
		return
	}
	m.malformedRequestCount.WithLabelValues(adapter).Inc()
}

func (m *metrics) incLinesSent(channel string) {
	if m == nil {
		return
	}
	m.linesSentCount.WithLabelValues(channel).Inc()
}

func (m *metrics) incKeepalivesSent(channel string) {
	if m == nil {
		return
	}
	m.keepalivesSentCount.WithLabelValues(channel).Inc()
}

func (m *metrics) observeAdapterCall(adapter, method string, d time.Duration) {
	if m == nil {
		return
	}
	m.adapterCallDuration.WithLabelValues(adapter, method).Observe(d.Seconds())
}

func (m *metrics) addActiveSubscriptions(delta int) {
	if m == nil {
		return
	}
	m.activeSubscriptions.Add(float64(delta))
}

func (m *metrics) incLateSubscribes() {
	if m == nil {
		return
	}
	m.lateSubscribeCount.Inc()
}

func (m *metrics) incDroppedEvents() {
	if m == nil {
		return
	}
	m.droppedUpdateCount.Inc()
}

func (m *metrics) addPendingControlRequests(delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.pendingControlRequests.Add(float64(delta))
}

func (m *metrics) incFatalErrors(adapter, kind string) {
	if m == nil {
		return
	}
	m.fatalErrorCount.WithLabelValues(adapter, kind).Inc()
}
