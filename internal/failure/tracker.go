// Package failure implements the failure-action engine (C5): the policy
// invoked when a rule's timeout expires or its daemon process dies
// unexpectedly, per spec §4.5 (None, Reboot, Restart, ExecRule).
package failure

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/pcd/internal/ruleset"
)

// Backoff parameters for the crash-loop diagnostic tracker. These never
// gate the core failure actions themselves — spec §4.5's None/Reboot/
// Restart/ExecRule run unconditionally — they only decide when a rule's
// repeated restarts are surfaced as a crash-loop diagnostic.
const (
	initialBackoff    = 5 * time.Second
	maxBackoff        = 5 * time.Minute
	backoffMultiplier = 2.0
	crashLoopWindow   = 2 * time.Minute
	crashLoopCount    = 5
	stabilityPeriod   = 10 * time.Minute
)

// RuleRestartInfo tracks restart history for a single rule.
type RuleRestartInfo struct {
	LastRestart    time.Time `json:"last_restart"`
	RestartCount   int       `json:"restart_count"`
	BackoffUntil   time.Time `json:"backoff_until"`
	CrashLoopSince time.Time `json:"crash_loop_since,omitempty"`
}

// trackerState is the JSON-persisted form of a RestartTracker.
type trackerState struct {
	Rules map[string]*RuleRestartInfo `json:"rules"`
}

// RestartTracker records restart attempts per rule and flags crash loops,
// purely as an operational diagnostic (spec §9 open question: the original
// applies no such gate, so this tracker never refuses a restart; it only
// reports IsInCrashLoop for logging and metrics).
type RestartTracker struct {
	mu    sync.RWMutex
	path  string
	state *trackerState
}

// NewRestartTracker creates a tracker persisting to stateDir/restart_state.json.
func NewRestartTracker(stateDir string) *RestartTracker {
	return &RestartTracker{
		path:  filepath.Join(stateDir, "restart_state.json"),
		state: &trackerState{Rules: make(map[string]*RuleRestartInfo)},
	}
}

// Load reads persisted restart state, if any.
func (rt *RestartTracker) Load() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	data, err := os.ReadFile(rt.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, rt.state)
}

// Save persists restart state.
func (rt *RestartTracker) Save() error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	data, err := json.MarshalIndent(rt.state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(rt.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(rt.path, data, 0600)
}

// RecordRestart records a restart of id and returns whether it should now
// be considered crash-looping.
func (rt *RestartTracker) RecordRestart(id ruleset.RuleId) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	key := id.String()
	now := time.Now()
	info, exists := rt.state.Rules[key]
	if !exists {
		info = &RuleRestartInfo{}
		rt.state.Rules[key] = info
	}

	if !info.LastRestart.IsZero() && now.Sub(info.LastRestart) > stabilityPeriod {
		info.RestartCount = 0
		info.CrashLoopSince = time.Time{}
	}

	info.LastRestart = now
	info.RestartCount++

	backoff := initialBackoff
	for i := 1; i < info.RestartCount && backoff < maxBackoff; i++ {
		backoff = time.Duration(float64(backoff) * backoffMultiplier)
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	info.BackoffUntil = now.Add(backoff)

	if info.RestartCount >= crashLoopCount {
		windowStart := now.Add(-crashLoopWindow)
		if info.LastRestart.After(windowStart) {
			info.CrashLoopSince = now
		}
	}
	return !info.CrashLoopSince.IsZero()
}

// IsInCrashLoop reports whether id is currently flagged as crash-looping.
func (rt *RestartTracker) IsInCrashLoop(id ruleset.RuleId) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	info, exists := rt.state.Rules[id.String()]
	return exists && !info.CrashLoopSince.IsZero()
}
