// ABOUTME: Prometheus metrics for playback sessions and waveform computation
// ABOUTME: All methods are safe on a nil *Metrics
package player

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Resonate-Protocol/trackdeck/pkg/audio/graph"
)

// Metrics contains Prometheus metrics for the player
type Metrics struct {
	sessionsCreated  prometheus.Counter
	sessionsReleased prometheus.Counter
	activeGraphs     prometheus.Gauge
	startFailures    prometheus.Counter
	recoveries       *prometheus.CounterVec
	terminalFailures prometheus.Counter

	waveformsComputed prometheus.Counter
	waveformFailures  prometheus.Counter
	waveformDuration  prometheus.Histogram
}

// NewMetrics creates player metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackdeck_sessions_created_total",
			Help: "Total number of playback sessions created",
		}),
		sessionsReleased: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackdeck_sessions_released_total",
			Help: "Total number of playback sessions torn down",
		}),
		activeGraphs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trackdeck_audio_graphs_active",
			Help: "Number of live decode graphs in the audio context",
		}),
		startFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackdeck_playback_start_failures_total",
			Help: "Total number of rejected playback starts",
		}),
		recoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackdeck_adaptive_recoveries_total",
				Help: "Adaptive streaming recovery attempts by error class",
			},
			[]string{"class"}, // class: network, media
		),
		terminalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackdeck_adaptive_terminal_failures_total",
			Help: "Total number of adaptive streaming failures that ended a session",
		}),
		waveformsComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackdeck_waveforms_computed_total",
			Help: "Total number of waveform profiles computed",
		}),
		waveformFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trackdeck_waveform_failures_total",
			Help: "Total number of failed waveform computations",
		}),
		waveformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackdeck_waveform_duration_seconds",
			Help:    "Time taken to fetch and reduce a waveform",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.sessionsCreated, m.sessionsReleased, m.activeGraphs, m.startFailures,
		m.recoveries, m.terminalFailures,
		m.waveformsComputed, m.waveformFailures, m.waveformDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) sessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

func (m *Metrics) sessionReleased() {
	if m != nil {
		m.sessionsReleased.Inc()
	}
}

func (m *Metrics) graphStats(s graph.Stats) {
	if m != nil {
		m.activeGraphs.Set(float64(s.Active))
	}
}

func (m *Metrics) startFailed() {
	if m != nil {
		m.startFailures.Inc()
	}
}

func (m *Metrics) recovery(class string) {
	if m != nil {
		m.recoveries.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) terminalFailure() {
	if m != nil {
		m.terminalFailures.Inc()
	}
}

// WaveformComputed implements waveform.Observer
func (m *Metrics) WaveformComputed(_ string, elapsed time.Duration) {
	if m != nil {
		m.waveformsComputed.Inc()
		m.waveformDuration.Observe(elapsed.Seconds())
	}
}

// WaveformFailed implements waveform.Observer
func (m *Metrics) WaveformFailed(string, error) {
	if m != nil {
		m.waveformFailures.Inc()
	}
}
