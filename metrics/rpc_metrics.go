package metrics

import (
	"context"
	"time"

	"github.com/chinmay1088/rethx/reth"
	"github.com/ethereum/go-ethereum"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Subsystem = "rpc"

// RPCMethodDurationBucketsMicroseconds covers local nodes answering in
// microseconds up to block re-execution taking seconds.
var RPCMethodDurationBucketsMicroseconds = []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000, 1000000, 5000000, 10000000}

type Metrics interface {
	RecordRPCMethodCall(method string, start time.Time, err error)
	RecordSubscription(method string)
}

type RPCMetrics struct {
	// Count and duration of each RPC method call.
	MethodCalls *prometheus.HistogramVec
	// Calls that returned an error, by method.
	MethodErrors *prometheus.CounterVec
	// Subscriptions opened, by method.
	Subscriptions *prometheus.CounterVec
}

func NewRPCMetrics(reg prometheus.Registerer, namespace string) *RPCMetrics {
	factory := promauto.With(reg)
	return &RPCMetrics{
		MethodCalls: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "method_call",
			Help:      "Duration of each RPC method call in microseconds",
			Buckets:   RPCMethodDurationBucketsMicroseconds,
		}, []string{"method"}),
		MethodErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "method_errors_total",
			Help:      "Number of RPC method calls that returned an error",
		}, []string{"method"}),
		Subscriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: Subsystem,
			Name:      "subscriptions_total",
			Help:      "Number of subscriptions opened",
		}, []string{"method"}),
	}
}

func (m *RPCMetrics) RecordRPCMethodCall(method string, start time.Time, err error) {
	m.MethodCalls.WithLabelValues(method).Observe(float64(time.Since(start).Microseconds()))
	if err != nil {
		m.MethodErrors.WithLabelValues(method).Inc()
	}
}

func (m *RPCMetrics) RecordSubscription(method string) {
	m.Subscriptions.WithLabelValues(method).Inc()
}

type noopMetrics struct{}

func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) RecordRPCMethodCall(string, time.Time, error) {}

func (noopMetrics) RecordSubscription(string) {}

type provider struct {
	next    reth.Provider
	metrics Metrics
}

// Instrument records every call made through p.
func Instrument(p reth.Provider, m Metrics) reth.Provider {
	return &provider{next: p, metrics: m}
}

func (p *provider) CallContext(ctx context.Context, result any, method string, args ...any) error {
	start := time.Now()
	err := p.next.CallContext(ctx, result, method, args...)
	p.metrics.RecordRPCMethodCall(method, start, err)
	return err
}

type pubSubProvider struct {
	provider
	next reth.PubSubProvider
}

// InstrumentPubSub records every call and subscription made through p.
func InstrumentPubSub(p reth.PubSubProvider, m Metrics) reth.PubSubProvider {
	return &pubSubProvider{provider: provider{next: p, metrics: m}, next: p}
}

func (p *pubSubProvider) Subscribe(ctx context.Context, method string, channel any, args ...any) (ethereum.Subscription, error) {
	start := time.Now()
	sub, err := p.next.Subscribe(ctx, method, channel, args...)
	p.metrics.RecordRPCMethodCall(method, start, err)
	if err == nil {
		p.metrics.RecordSubscription(method)
	}
	return sub, err
}
