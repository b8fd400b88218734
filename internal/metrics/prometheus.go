package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frame kinds and rejection reasons used as label values.
const (
	KindIdentity = "identity"
	KindMetadata = "metadata"

	ReasonBackpressure = "backpressure"
	ReasonRateLimit    = "rate_limit"
	ReasonBadPayload   = "bad_payload"
	ReasonClosed       = "closed"
)

// Metrics contains all Prometheus metrics for the volume indicator service
type Metrics struct {
	// Frame metrics
	FramesProcessed *prometheus.CounterVec
	FramesRejected  *prometheus.CounterVec
	FrameDuration   *prometheus.HistogramVec

	// Notification metrics
	IndicatorEvents prometheus.Counter
	PresenceEvents  *prometheus.CounterVec
	EventsDropped   prometheus.Counter

	// Session metrics
	ActiveConferences prometheus.Gauge
	ActiveConnections prometheus.Gauge
	MediaTracks       prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceindicator_frames_processed_total",
			Help: "Total number of signaling frames processed, by kind",
		}, []string{"kind"}),
		FramesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceindicator_frames_rejected_total",
			Help: "Total number of signaling frames rejected before processing, by reason",
		}, []string{"reason"}),
		FrameDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voiceindicator_frame_duration_seconds",
			Help:    "Time spent processing one frame",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}, []string{"kind"}),

		IndicatorEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "voiceindicator_indicator_events_total",
			Help: "Total number of indicator notifications emitted",
		}),
		PresenceEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voiceindicator_presence_events_total",
			Help: "Total number of presence notifications emitted",
		}, []string{"present"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "voiceindicator_events_dropped_total",
			Help: "Total number of events not delivered to a slow subscriber",
		}),

		ActiveConferences: f.NewGauge(prometheus.GaugeOpts{
			Name: "voiceindicator_active_conferences",
			Help: "Current number of conferences",
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "voiceindicator_active_connections",
			Help: "Current number of signal websocket connections",
		}),
		MediaTracks: f.NewGauge(prometheus.GaugeOpts{
			Name: "voiceindicator_media_tracks",
			Help: "Current number of inbound audio tracks tapped for levels",
		}),
	}
}
