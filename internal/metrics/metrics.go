package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amlwatch_stream_frames_total",
		Help: "Inbound stream frames, labelled by result (decoded, dropped).",
	}, []string{"result"})

	StreamConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amlwatch_stream_connects_total",
		Help: "Stream connection attempts, labelled by result (ok, rejected, error).",
	}, []string{"result"})

	StreamOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "amlwatch_stream_open",
		Help: "1 while a stream handle is open.",
	})

	AlertsSurfaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amlwatch_alerts_surfaced_total",
		Help: "Suspicious events promoted to the current alert.",
	})

	AlertsCleared = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amlwatch_alerts_cleared_total",
		Help: "Current alerts removed, labelled by reason (superseded, expired, dismissed, reset).",
	}, []string{"reason"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amlwatch_gateway_requests_total",
		Help: "Outbound gateway calls, labelled by method and status code (0 on transport error).",
	}, []string{"method", "status"})

	GatewayRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amlwatch_gateway_rejections_total",
		Help: "Authorization rejections observed by the gateway or stream.",
	})

	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "amlwatch_session_transitions_total",
		Help: "Session state transitions, labelled by target state.",
	}, []string{"to"})
)
