package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts pending-content traffic.
type Metrics struct {
	Queued    prometheus.Counter
	Delivered prometheus.Counter
	Dropped   *prometheus.CounterVec
	Desync    prometheus.Counter
	Ports     prometheus.Gauge
	Pending   prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, pending func() float64) *Metrics {
	m := &Metrics{
		Queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cognito", Subsystem: "relay", Name: "queued_total",
			Help: "Clip payloads queued for a side panel.",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cognito", Subsystem: "relay", Name: "delivered_total",
			Help: "Clip payloads delivered to a ready side panel.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cognito", Subsystem: "relay", Name: "dropped_total",
			Help: "Clip payloads that were never delivered, by reason.",
		}, []string{"reason"}),
		Desync: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cognito", Subsystem: "relay", Name: "desync_total",
			Help: "Ignored port messages and connections.",
		}),
		Ports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cognito", Subsystem: "relay", Name: "ports_connected",
			Help: "Side panel ports currently connected.",
		}),
		Pending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "cognito", Subsystem: "relay", Name: "pending",
			Help: "Clip payloads waiting for a side panel.",
		}, pending),
	}
	if reg != nil {
		reg.MustRegister(m.Queued, m.Delivered, m.Dropped, m.Desync, m.Ports, m.Pending)
	}
	return m
}
