// (c) 2023, Fluence Labs Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package service

import (
	"time"

	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluencelabs/aquavm-sub004/execution"
)

const namespace = "aquavm"

type metrics struct {
	invocations *prometheus.CounterVec
	duration    prometheus.Histogram
	anomalies   prometheus.Counter
	nextPeers   prometheus.Histogram
}

func newMetrics(registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Number of invocations by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Time spent executing a particle",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Number of invocations recorded as anomalies",
		}),
		nextPeers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "next_peers",
			Help:      "Number of next peers per invocation",
			Buckets:   prometheus.LinearBuckets(0, 2, 8),
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.invocations),
		registerer.Register(m.duration),
		registerer.Register(m.anomalies),
		registerer.Register(m.nextPeers),
	)
	return m, errs.Err
}

func (m *metrics) observe(retCode int64, elapsed time.Duration, nextPeers int, anomaly bool) {
	m.invocations.WithLabelValues(outcomeLabel(retCode)).Inc()
	m.duration.Observe(elapsed.Seconds())
	m.nextPeers.Observe(float64(nextPeers))
	if anomaly {
		m.anomalies.Inc()
	}
}

func outcomeLabel(retCode int64) string {
	switch {
	case retCode == 0:
		return "success"
	case execution.IsCatchableCode(retCode):
		return "catchable"
	default:
		return "failure"
	}
}
