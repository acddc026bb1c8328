// Package stats tracks session statistics: probe latencies, stage
// launch times, teardown outcomes. One Recorder serves the dashboard
// and the exit summary.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// CheckStats accumulates probe results for one named check.
type CheckStats struct {
	Attempts  int64
	Failures  int64
	LastMs    float64
	LastError string
}

// StageInfo records one stage's launch outcome.
type StageInfo struct {
	Up     bool
	UpAt   time.Time
	Launch time.Duration
}

// Recorder accumulates session statistics.
//
// Thread-safe: a single mutex guards everything, including the
// t-digest, which is not thread-safe on its own.
type Recorder struct {
	mu sync.Mutex

	target    string
	model     string
	relayAddr string
	state     string

	startedAt time.Time
	runningAt time.Time
	timeout   time.Duration

	// Probe latency distribution in milliseconds
	latencyDigest *tdigest.TDigest
	latencyCount  int64
	latencySum    float64
	latencyMin    float64 // -1 = unset
	latencyMax    float64

	probeAttempts int64
	probeFailures int64

	checks map[string]*CheckStats
	stages map[string]*StageInfo

	processExits int64
	cleanupSteps int64
	cleanupFails int64
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		startedAt:     time.Now(),
		latencyDigest: tdigest.NewWithCompression(100), // ~100 centroids, ~10KB
		latencyMin:    -1,                              // -1 = unset
		checks:        make(map[string]*CheckStats),
		stages:        make(map[string]*StageInfo),
	}
}

// SetSessionInfo records the session's static identity.
func (r *Recorder) SetSessionInfo(target, model string, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = target
	r.model = model
	r.timeout = timeout
}

// SetRelayAddr records the remote address the relay bound.
func (r *Recorder) SetRelayAddr(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relayAddr = addr
}

// SetState records the current session state.
func (r *Recorder) SetState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state
	if state == "running" && r.runningAt.IsZero() {
		r.runningAt = time.Now()
	}
}

// RecordProbeAttempt records one probe attempt with its latency.
func (r *Recorder) RecordProbeAttempt(name string, latency time.Duration, err error) {
	ms := float64(latency.Nanoseconds()) / 1e6

	r.mu.Lock()
	defer r.mu.Unlock()

	r.probeAttempts++
	if err != nil {
		r.probeFailures++
	}

	r.latencyDigest.Add(ms, 1)
	r.latencyCount++
	r.latencySum += ms
	if r.latencyMin < 0 || ms < r.latencyMin {
		r.latencyMin = ms
	}
	if ms > r.latencyMax {
		r.latencyMax = ms
	}

	c, ok := r.checks[name]
	if !ok {
		c = &CheckStats{}
		r.checks[name] = c
	}
	c.Attempts++
	c.LastMs = ms
	if err != nil {
		c.Failures++
		c.LastError = err.Error()
	} else {
		c.LastError = ""
	}
}

// RecordStageUp records a stage that became healthy.
func (r *Recorder) RecordStageUp(name string, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = &StageInfo{
		Up:     true,
		UpAt:   time.Now(),
		Launch: took,
	}
}

// RecordProcessExit records a monitored process dying mid-session.
func (r *Recorder) RecordProcessExit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processExits++
}

// RecordCleanupStep records one teardown step and whether it failed.
func (r *Recorder) RecordCleanupStep(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleanupSteps++
	if err != nil {
		r.cleanupFails++
	}
}

// Snapshot is a point-in-time copy of everything the dashboard and
// the exit summary need.
type Snapshot struct {
	Target    string
	Model     string
	RelayAddr string
	State     string

	StartedAt time.Time
	RunningAt time.Time
	Timeout   time.Duration

	ProbeAttempts int64
	ProbeFailures int64

	LatencyCount int64
	LatencyAvgMs float64
	LatencyMinMs float64
	LatencyMaxMs float64
	LatencyP50Ms float64
	LatencyP95Ms float64
	LatencyP99Ms float64

	Checks map[string]CheckStats
	Stages map[string]StageInfo

	ProcessExits int64
	CleanupSteps int64
	CleanupFails int64
}

// Snapshot returns a copy of the current statistics.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Target:        r.target,
		Model:         r.model,
		RelayAddr:     r.relayAddr,
		State:         r.state,
		StartedAt:     r.startedAt,
		RunningAt:     r.runningAt,
		Timeout:       r.timeout,
		ProbeAttempts: r.probeAttempts,
		ProbeFailures: r.probeFailures,
		LatencyCount:  r.latencyCount,
		Checks:        make(map[string]CheckStats, len(r.checks)),
		Stages:        make(map[string]StageInfo, len(r.stages)),
		ProcessExits:  r.processExits,
		CleanupSteps:  r.cleanupSteps,
		CleanupFails:  r.cleanupFails,
	}

	// Quantile on an empty digest returns NaN, so gate on count
	if r.latencyCount > 0 {
		snap.LatencyAvgMs = r.latencySum / float64(r.latencyCount)
		if r.latencyMin >= 0 {
			snap.LatencyMinMs = r.latencyMin
		}
		snap.LatencyMaxMs = r.latencyMax
		snap.LatencyP50Ms = r.latencyDigest.Quantile(0.50)
		snap.LatencyP95Ms = r.latencyDigest.Quantile(0.95)
		snap.LatencyP99Ms = r.latencyDigest.Quantile(0.99)
	}

	for name, c := range r.checks {
		snap.Checks[name] = *c
	}
	for name, s := range r.stages {
		snap.Stages[name] = *s
	}

	return snap
}
