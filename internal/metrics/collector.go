// Package metrics provides Prometheus metrics for go-ollama-bridge.
//
// One session is one process, so most metrics are gauges describing
// the current chain plus counters that survive into the final
// snapshot written at teardown.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// --- Session Overview ---
var (
	bridgeInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_info",
			Help: "Information about the session (value always 1)",
		},
		[]string{"version", "remote_host", "model"},
	)

	bridgeSessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_session_state",
			Help: "Current session state (0=idle 1=starting-local 2=starting-tunnel 3=starting-relay 4=running 5=cleaning-up 6=terminated)",
		},
	)

	bridgeStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_bridge_state_transitions_total",
			Help: "State transitions by target state",
		},
		[]string{"state"},
	)

	bridgeSessionTimeoutSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_session_timeout_seconds",
			Help: "Configured session timeout (0 = unlimited)",
		},
	)

	bridgeSessionStartTimeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_session_start_time_seconds",
			Help: "Unix time the session started",
		},
	)

	bridgeRunningSinceSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_running_since_seconds",
			Help: "Unix time the session entered running (0 = never)",
		},
	)
)

// --- Stages ---
var (
	bridgeStageUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_stage_up",
			Help: "Whether a chain stage is up (1) or not (0)",
		},
		[]string{"stage"},
	)

	bridgeStageLaunchSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_stage_launch_duration_seconds",
			Help: "Time taken to bring the stage up, including probes",
		},
		[]string{"stage"},
	)
)

// --- Probes ---
var (
	bridgeProbeAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_bridge_probe_attempts_total",
			Help: "Health probe attempts by check and result",
		},
		[]string{"check", "result"}, // result: "pass" | "fail"
	)

	bridgeProbeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ollama_bridge_probe_duration_seconds",
			Help: "Health probe attempt latency",
			Buckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05,
				0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
			},
		},
		[]string{"check"},
	)
)

// --- Processes & Teardown ---
var (
	bridgeProcessExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_bridge_process_exits_total",
			Help: "Monitored process exits by role and exit category",
		},
		[]string{"role", "category"}, // category: "success", "error", "signal"
	)

	bridgeCleanupStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_bridge_cleanup_steps_total",
			Help: "Teardown steps by step name and result",
		},
		[]string{"step", "result"}, // result: "ok" | "error"
	)

	bridgeSessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ollama_bridge_sessions_ended_total",
			Help: "Session endings by reason",
		},
		[]string{"reason"},
	)

	bridgeSessionDurationSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ollama_bridge_session_duration_seconds",
			Help: "Total session wall time, set at teardown",
		},
	)
)

// Collector manages all Prometheus metrics for the bridge.
type Collector struct {
	gatherer prometheus.Gatherer

	startTime time.Time

	mu     sync.Mutex
	stages map[string]time.Duration
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version        string
	RemoteHost     string
	Model          string
	SessionTimeout time.Duration
}

// NewCollector creates a collector with its own registry, including
// the standard Go runtime and process collectors. One session is one
// collector; a dedicated registry keeps re-runs in the same process
// (tests, mainly) from tripping duplicate registration.
func NewCollector(cfg CollectorConfig) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewCollectorWithRegistry(cfg, registry, registry)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Collector {
	c := &Collector{
		gatherer:  gatherer,
		startTime: time.Now(),
		stages:    make(map[string]time.Duration),
	}

	registerer.MustRegister(
		// Session Overview
		bridgeInfo,
		bridgeSessionState,
		bridgeStateTransitionsTotal,
		bridgeSessionTimeoutSeconds,
		bridgeSessionStartTimeSeconds,
		bridgeRunningSinceSeconds,

		// Stages
		bridgeStageUp,
		bridgeStageLaunchSeconds,

		// Probes
		bridgeProbeAttemptsTotal,
		bridgeProbeDurationSeconds,

		// Processes & Teardown
		bridgeProcessExitsTotal,
		bridgeCleanupStepsTotal,
		bridgeSessionsEndedTotal,
		bridgeSessionDurationSeconds,
	)

	// Set initial values
	bridgeInfo.WithLabelValues(cfg.Version, cfg.RemoteHost, cfg.Model).Set(1)
	bridgeSessionTimeoutSeconds.Set(cfg.SessionTimeout.Seconds())
	bridgeSessionStartTimeSeconds.Set(float64(c.startTime.Unix()))

	return c
}

// =============================================================================
// Update Methods
// =============================================================================

// RecordStateChange updates the state gauge and transition counter.
// code is the state's ordinal, state its name.
func (c *Collector) RecordStateChange(state string, code int) {
	bridgeSessionState.Set(float64(code))
	bridgeStateTransitionsTotal.WithLabelValues(state).Inc()

	if state == "running" {
		bridgeRunningSinceSeconds.Set(float64(time.Now().Unix()))
	}
}

// RecordStageUp marks a stage healthy and records its launch duration.
func (c *Collector) RecordStageUp(stage string, took time.Duration) {
	bridgeStageUp.WithLabelValues(stage).Set(1)
	bridgeStageLaunchSeconds.WithLabelValues(stage).Set(took.Seconds())

	c.mu.Lock()
	c.stages[stage] = took
	c.mu.Unlock()
}

// RecordStageDown marks a stage down.
func (c *Collector) RecordStageDown(stage string) {
	bridgeStageUp.WithLabelValues(stage).Set(0)
}

// RecordProbeAttempt records one health probe attempt.
func (c *Collector) RecordProbeAttempt(check string, latency time.Duration, err error) {
	result := "pass"
	if err != nil {
		result = "fail"
	}
	bridgeProbeAttemptsTotal.WithLabelValues(check, result).Inc()
	bridgeProbeDurationSeconds.WithLabelValues(check).Observe(latency.Seconds())
}

// RecordProcessExit records a monitored process exiting.
func (c *Collector) RecordProcessExit(role string, exitCode int) {
	// Categorize exit code
	category := "error"
	if exitCode == 0 {
		category = "success"
	} else if exitCode > 128 {
		category = "signal"
	}
	bridgeProcessExitsTotal.WithLabelValues(role, category).Inc()
	bridgeStageUp.WithLabelValues(role).Set(0)
}

// RecordCleanupStep records one teardown step and its outcome.
func (c *Collector) RecordCleanupStep(step string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	bridgeCleanupStepsTotal.WithLabelValues(step, result).Inc()
}

// RecordSessionEnd stamps the final duration and ending reason.
func (c *Collector) RecordSessionEnd(reason string) {
	bridgeSessionDurationSeconds.Set(time.Since(c.startTime).Seconds())
	bridgeSessionsEndedTotal.WithLabelValues(reason).Inc()
}

// StageLaunches returns a copy of the recorded stage launch durations.
func (c *Collector) StageLaunches() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]time.Duration, len(c.stages))
	for k, v := range c.stages {
		out[k] = v
	}
	return out
}

// StartTime returns when the collector (and session) started.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// Gatherer returns the registry this collector reads from, for
// serving scrapes.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}
