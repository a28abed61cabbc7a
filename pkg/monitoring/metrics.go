package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session and transport counters. Labels: transport is p2p|relay.
var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assist",
		Name:      "sessions_started_total",
		Help:      "Number of assist sessions created or joined.",
	})
	SessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assist",
		Name:      "sessions_closed_total",
		Help:      "Number of assist sessions terminated.",
	})
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assist",
		Name:      "messages_sent_total",
		Help:      "Outbound messages per transport.",
	}, []string{"transport"})
	TransportFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "assist",
		Name:      "transport_fallbacks_total",
		Help:      "P2P to relay demotions.",
	})
	P2PActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "assist",
		Name:      "p2p_active",
		Help:      "1 while the peer data channel is the preferred transport.",
	})
)
