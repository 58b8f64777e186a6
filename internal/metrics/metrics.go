// Package metrics owns the prometheus collectors of the server process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry *prometheus.Registry

	GrantsIssued *prometheus.CounterVec
	SignalJoins  *prometheus.CounterVec
	RoomMembers  *prometheus.GaugeVec
	Anomalies    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, plus the Go and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		GrantsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "grants_issued_total",
			Help:      "Grant issuance attempts by result.",
		}, []string{"result"}),
		SignalJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "signal_joins_total",
			Help:      "Room join attempts on the signalling endpoint by result.",
		}, []string{"result"}),
		RoomMembers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voice",
			Name:      "room_members",
			Help:      "Current members per room.",
		}, []string{"room"}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voice",
			Name:      "protocol_anomalies_total",
			Help:      "Dropped signalling frames by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.GrantsIssued,
		m.SignalJoins,
		m.RoomMembers,
		m.Anomalies,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
