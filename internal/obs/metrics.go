package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction label values.
const (
	ToUpstream = "client_to_upstream"
	ToClient   = "upstream_to_client"
)

var (
	ActiveSessions        = promauto.NewGauge(prometheus.GaugeOpts{Name: "portrelay_active_sessions", Help: "Sessions currently relaying"})
	SessionsTotal         = promauto.NewCounter(prometheus.CounterOpts{Name: "portrelay_sessions_total", Help: "Sessions accepted"})
	BytesTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portrelay_bytes_total", Help: "Bytes relayed by direction"}, []string{"direction"})
	ResetsTotal           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portrelay_resets_total", Help: "Peer resets treated as end of stream"}, []string{"direction"})
	ErrorsTotal           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "portrelay_errors_total", Help: "Errors by type"}, []string{"type"})
	SessionDurationSecond = promauto.NewHistogram(prometheus.HistogramOpts{Name: "portrelay_session_duration_seconds", Help: "Session lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
