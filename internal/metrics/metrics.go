package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesReceived  atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesDropped   atomic.Uint64

	// Detection outcomes
	DetectErrors  atomic.Uint64
	EmptyFrames   atomic.Uint64
	FacesDetected atomic.Uint64
	FramePanics   atomic.Uint64

	// Latency tracking
	DetectLatencyMs  atomic.Uint64 // Last provider round-trip in ms
	PresentLatencyMs atomic.Uint64 // Last sink fan-out in ms

	// Subscribers
	StreamClients atomic.Int64
	WebRTCClients atomic.Int64
	WebRTCDropped atomic.Uint64

	// Recording state
	RecordingActive  atomic.Uint64 // 0 = inactive, 1 = active
	RecordingReports atomic.Uint64
	RecordingBytes   atomic.Uint64
	RecordingDropped atomic.Uint64

	statusTags *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		statusTags: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "facestatus_status_tags_total",
				Help: "Status tags emitted, by tag",
			},
			[]string{"tag"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		value,
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.statusTags)

	// Frame metrics
	m.gauge("facestatus_frames_received_total", "Total frames submitted to the pipeline",
		func() float64 { return float64(m.FramesReceived.Load()) })
	m.gauge("facestatus_frames_processed_total", "Total frames run through detection",
		func() float64 { return float64(m.FramesProcessed.Load()) })
	m.gauge("facestatus_frames_dropped_total", "Total frames dropped because the queue was full",
		func() float64 { return float64(m.FramesDropped.Load()) })

	// Detection metrics
	m.gauge("facestatus_detect_errors_total", "Total frames where the pose provider failed",
		func() float64 { return float64(m.DetectErrors.Load()) })
	m.gauge("facestatus_empty_frames_total", "Total frames with no face",
		func() float64 { return float64(m.EmptyFrames.Load()) })
	m.gauge("facestatus_faces_detected_total", "Total faces classified",
		func() float64 { return float64(m.FacesDetected.Load()) })
	m.gauge("facestatus_frame_panics_total", "Total frames aborted by a recovered panic",
		func() float64 { return float64(m.FramePanics.Load()) })

	// Latency metrics
	m.gauge("facestatus_detect_latency_ms", "Last pose provider latency in milliseconds",
		func() float64 { return float64(m.DetectLatencyMs.Load()) })
	m.gauge("facestatus_present_latency_ms", "Last sink fan-out latency in milliseconds",
		func() float64 { return float64(m.PresentLatencyMs.Load()) })

	// Client metrics
	m.gauge("facestatus_stream_clients", "Number of connected status stream subscribers",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("facestatus_webrtc_clients", "Number of connected WebRTC peers",
		func() float64 { return float64(m.WebRTCClients.Load()) })
	m.gauge("facestatus_webrtc_dropped_total", "Total status messages dropped for slow WebRTC peers",
		func() float64 { return float64(m.WebRTCDropped.Load()) })

	// Recording metrics
	m.gauge("facestatus_recording_active", "Recording active (0=inactive, 1=active)",
		func() float64 { return float64(m.RecordingActive.Load()) })
	m.gauge("facestatus_recording_reports", "Reports written to the current recording",
		func() float64 { return float64(m.RecordingReports.Load()) })
	m.gauge("facestatus_recording_bytes", "Bytes written to the current recording",
		func() float64 { return float64(m.RecordingBytes.Load()) })
	m.gauge("facestatus_recording_dropped_total", "Reports dropped because the recorder was busy",
		func() float64 { return float64(m.RecordingDropped.Load()) })
}

// ObserveTag counts one emitted status tag
func (m *Metrics) ObserveTag(tag string) {
	m.statusTags.WithLabelValues(tag).Inc()
}

// TagCount returns how often tag was emitted
func (m *Metrics) TagCount(tag string) float64 {
	var pb dto.Metric
	if err := m.statusTags.WithLabelValues(tag).Write(&pb); err != nil {
		return 0
	}
	return pb.GetCounter().GetValue()
}

// UpdateDetectLatency records the provider round-trip
func (m *Metrics) UpdateDetectLatency(duration time.Duration) {
	m.DetectLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdatePresentLatency records the sink fan-out time
func (m *Metrics) UpdatePresentLatency(duration time.Duration) {
	m.PresentLatencyMs.Store(uint64(duration.Milliseconds()))
}

// Snapshot is a point-in-time copy of the counters for the status API
type Snapshot struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesProcessed uint64 `json:"frames_processed"`
	FramesDropped   uint64 `json:"frames_dropped"`
	DetectErrors    uint64 `json:"detect_errors"`
	EmptyFrames     uint64 `json:"empty_frames"`
	FacesDetected   uint64 `json:"faces_detected"`
	DetectLatencyMs uint64 `json:"detect_latency_ms"`
	StreamClients   int64  `json:"stream_clients"`
	WebRTCClients   int64  `json:"webrtc_clients"`
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		FramesReceived:  m.FramesReceived.Load(),
		FramesProcessed: m.FramesProcessed.Load(),
		FramesDropped:   m.FramesDropped.Load(),
		DetectErrors:    m.DetectErrors.Load(),
		EmptyFrames:     m.EmptyFrames.Load(),
		FacesDetected:   m.FacesDetected.Load(),
		DetectLatencyMs: m.DetectLatencyMs.Load(),
		StreamClients:   m.StreamClients.Load(),
		WebRTCClients:   m.WebRTCClients.Load(),
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
