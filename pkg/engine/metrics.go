package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// Stage names a pipeline step whose duration is tracked.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageSafety     Stage = "safety"
	StageRoute      Stage = "route"
	StageRefine     Stage = "refine"
	StageConfirm    Stage = "confirm"
	StageProvider   Stage = "provider"
	StageOutput     Stage = "output"
)

// historySize is the number of finished runs kept for averaging.
const historySize = 100

// Metrics tracks latency at each stage of one pipeline run.
// All durations are measured from the moment the run was opened.
type Metrics struct {
	RunID     string
	StartedAt time.Time

	// Stages holds the time spent in each stage.
	Stages map[Stage]time.Duration

	Route    schema.Route
	Outcome  string
	Provider string
	Tokens   schema.TokenMetrics

	// TotalLatency is set when the run finishes.
	TotalLatency time.Duration
}

// MetricsCollector collects stage timings per run and mirrors them into
// Prometheus collectors. It is goroutine-safe.
type MetricsCollector struct {
	mu       sync.Mutex
	current  Metrics
	lastMark time.Time
	history  []Metrics
	now      func() time.Time

	onUpdate func(Metrics)

	runs            *prometheus.CounterVec
	blocked         prometheus.Counter
	apologies       prometheus.Counter
	stageDuration   *prometheus.HistogramVec
	providerLatency *prometheus.HistogramVec
	runDuration     prometheus.Histogram
	chars           *prometheus.CounterVec
}

// NewMetricsCollector creates a collector whose Prometheus metrics are
// registered with reg. A nil reg leaves them unregistered.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	f := promauto.With(reg)
	return &MetricsCollector{
		history: make([]Metrics, 0, historySize),
		now:     time.Now,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_runs_total",
			Help: "Pipeline runs by route and outcome",
		}, []string{"route", "outcome"}),
		blocked: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_safety_blocked_total",
			Help: "Utterances refused by the safety policy",
		}),
		apologies: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_provider_apologies_total",
			Help: "Runs answered with the apology after every backend failed",
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		providerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_provider_latency_seconds",
			Help:    "Provider gateway latency by answering backend",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"provider"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_run_duration_seconds",
			Help:    "End-to-end pipeline run duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 3, 10),
		}),
		chars: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_chars_total",
			Help: "Characters sent to and received from providers",
		}, []string{"direction"}),
	}
}

// OnUpdate sets a callback that fires whenever a run finishes.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Begin resets the collector for a new run.
func (m *MetricsCollector) Begin(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.current = Metrics{
		RunID:     runID,
		StartedAt: now,
		Stages:    make(map[Stage]time.Duration),
	}
	m.lastMark = now
}

// Mark records the time since the previous mark as the duration of stage.
func (m *MetricsCollector) Mark(stage Stage) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	d := now.Sub(m.lastMark)
	m.lastMark = now
	if m.current.Stages == nil {
		m.current.Stages = make(map[Stage]time.Duration)
	}
	m.current.Stages[stage] += d
	m.stageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	return d
}

// Blocked counts a safety refusal.
func (m *MetricsCollector) Blocked() {
	m.blocked.Inc()
}

// Provider records one gateway exchange.
func (m *MetricsCollector) Provider(name string, latency time.Duration, tm schema.TokenMetrics, apology bool) {
	m.mu.Lock()
	m.current.Provider = name
	m.current.Tokens = tm
	m.mu.Unlock()

	if apology {
		m.apologies.Inc()
		return
	}
	m.providerLatency.WithLabelValues(name).Observe(latency.Seconds())
	m.chars.WithLabelValues("in").Add(float64(tm.CharsIn))
	m.chars.WithLabelValues("out").Add(float64(tm.CharsOut))
}

// Finish archives the current run.
func (m *MetricsCollector) Finish(route schema.Route, outcome string) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current.Route = route
	m.current.Outcome = outcome
	m.current.TotalLatency = m.now().Sub(m.current.StartedAt)

	label := string(route)
	if label == "" {
		label = "none"
	}
	m.runs.WithLabelValues(label, outcome).Inc()
	m.runDuration.Observe(m.current.TotalLatency.Seconds())

	m.history = append(m.history, m.current)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
	m.notify()
	return m.current
}

// Current returns the current metrics snapshot.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.clone()
}

// Average returns average stage and total latencies over recent runs.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	avg := Metrics{Stages: make(map[Stage]time.Duration)}
	if len(m.history) == 0 {
		return avg
	}
	for _, h := range m.history {
		for stage, d := range h.Stages {
			avg.Stages[stage] += d
		}
		avg.TotalLatency += h.TotalLatency
	}
	n := time.Duration(len(m.history))
	for stage := range avg.Stages {
		avg.Stages[stage] /= n
	}
	avg.TotalLatency /= n
	return avg
}

// Runs returns the number of archived runs.
func (m *MetricsCollector) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// notify calls the update callback if set.
// Must be called with mutex held.
func (m *MetricsCollector) notify() {
	if m.onUpdate != nil {
		metrics := m.current.clone()
		go m.onUpdate(metrics)
	}
}

func (m Metrics) clone() Metrics {
	out := m
	if m.Stages != nil {
		out.Stages = make(map[Stage]time.Duration, len(m.Stages))
		for k, v := range m.Stages {
			out.Stages[k] = v
		}
	}
	return out
}

// FormatLatency returns a formatted string of the stage latencies.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.Stages[StageTranscribe]) + " STT | " +
		formatDuration(m.Stages[StageRefine]) + " REFINE | " +
		formatDuration(m.Stages[StageConfirm]) + " CONFIRM | " +
		formatDuration(m.Stages[StageProvider]) + " LLM | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
