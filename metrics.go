// Copyright 2025 Kirill Scherba <kirill@scherba.ru>. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wt3core

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the Connection, Session, and
// CertRing engines update on their hot paths. A nil *Metrics is valid
// everywhere below: every method no-ops, so metrics stay an optional
// ambient concern rather than a hard dependency of the protocol logic.
type Metrics struct {
	sessionsAccepted  prometheus.Counter
	sessionsRejected  prometheus.Counter
	streamsAccepted   prometheus.Counter
	datagramsRouted   prometheus.Counter
	datagramsDropped  prometheus.Counter
	certRotations     prometheus.Counter
	certRingSize      prometheus.Gauge
}

// NewMetrics constructs a Metrics and registers its collectors with reg. If
// reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		sessionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webtransport_sessions_accepted_total",
			Help: "Number of WebTransport sessions accepted.",
		}),
		sessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webtransport_sessions_rejected_total",
			Help: "Number of WebTransport sessions rejected.",
		}),
		streamsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webtransport_streams_accepted_total",
			Help: "Number of peer-initiated WebTransport streams accepted.",
		}),
		datagramsRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webtransport_datagrams_routed_total",
			Help: "Number of datagrams routed to a known session.",
		}),
		datagramsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webtransport_datagrams_dropped_total",
			Help: "Number of datagrams dropped for lacking a matching session.",
		}),
		certRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webtransport_cert_rotations_total",
			Help: "Number of certificates generated by the CertRing.",
		}),
		certRingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webtransport_cert_ring_size",
			Help: "Number of certificates currently held by the CertRing.",
		}),
	}
	reg.MustRegister(m.sessionsAccepted, m.sessionsRejected, m.streamsAccepted,
		m.datagramsRouted, m.datagramsDropped, m.certRotations, m.certRingSize)
	return m
}

func (m *Metrics) sessionAccepted() {
	if m != nil {
		m.sessionsAccepted.Inc()
	}
}

func (m *Metrics) sessionRejected() {
	if m != nil {
		m.sessionsRejected.Inc()
	}
}

func (m *Metrics) streamAccepted() {
	if m != nil {
		m.streamsAccepted.Inc()
	}
}

func (m *Metrics) datagramRouted() {
	if m != nil {
		m.datagramsRouted.Inc()
	}
}

func (m *Metrics) datagramDropped() {
	if m != nil {
		m.datagramsDropped.Inc()
	}
}

func (m *Metrics) certRotated(ringSize int) {
	if m != nil {
		m.certRotations.Inc()
		m.certRingSize.Set(float64(ringSize))
	}
}
