// Package health provides health monitoring and aggregation services
package health

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Static errors for health package
var (
	ErrMonitoringAlreadyRunning = errors.New("monitoring is already running")
	ErrHealthCheckNotFound      = errors.New("health check not found")
)

// Aggregator implements the HealthAggregator interface
type Aggregator struct {
	mu           sync.RWMutex
	checkers     map[string]HealthChecker
	lastResults  map[string]*CheckResult
	config       *AggregatorConfig
	isMonitoring bool
	stopChan     chan struct{}
	callbacks    []StatusChangeCallback
}

// AggregatorConfig represents configuration for the health aggregator
type AggregatorConfig struct {
	CheckInterval    time.Duration `json:"check_interval"`
	Timeout          time.Duration `json:"timeout"`
	EnableHistory    bool          `json:"enable_history"`
	HistorySize      int           `json:"history_size"`
	ParallelChecks   bool          `json:"parallel_checks"`
	FailureThreshold int           `json:"failure_threshold"`
}

// NewAggregator creates a new health aggregator
func NewAggregator(config *AggregatorConfig) *Aggregator {
	if config == nil {
		config = &AggregatorConfig{
			CheckInterval:    30 * time.Second,
			Timeout:          10 * time.Second,
			EnableHistory:    true,
			HistorySize:      100,
			ParallelChecks:   true,
			FailureThreshold: 3,
		}
	}

	return &Aggregator{
		checkers:     make(map[string]HealthChecker),
		lastResults:  make(map[string]*CheckResult),
		config:       config,
		isMonitoring: false,
		stopChan:     make(chan struct{}),
		callbacks:    make([]StatusChangeCallback, 0),
	}
}

// RegisterCheck registers a health check with the aggregator
func (a *Aggregator) RegisterCheck(ctx context.Context, checker HealthChecker) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.checkers[checker.Name()] = checker
	return nil
}

// UnregisterCheck removes a health check from the aggregator
func (a *Aggregator) UnregisterCheck(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.checkers, name)
	delete(a.lastResults, name)
	return nil
}

// CheckAll runs all registered health checks and aggregates them by worst
// state: the overall/readiness/liveness status is the worst status any
// individual check reported.
func (a *Aggregator) CheckAll(ctx context.Context) (*AggregatedStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	results := make(map[string]*CheckResult, len(a.checkers))
	worst := StatusHealthy
	passing, warning, critical, unknown := 0, 0, 0, 0
	for name, checker := range a.checkers {
		result, err := checker.Check(ctx)
		if err != nil {
			result = &CheckResult{
				Name:      name,
				Status:    StatusCritical,
				Error:     err.Error(),
				Timestamp: time.Now(),
			}
		}
		results[name] = result
		a.lastResults[name] = result

		switch result.Status {
		case StatusHealthy:
			passing++
		case StatusWarning:
			warning++
		case StatusCritical:
			critical++
		default:
			unknown++
		}
		if worseStatus(result.Status, worst) {
			worst = result.Status
		}
	}

	status := &AggregatedStatus{
		OverallStatus:   worst,
		ReadinessStatus: worst,
		LivenessStatus:  worst,
		Timestamp:       time.Now(),
		CheckResults:    results,
		Summary: &StatusSummary{
			TotalChecks:    len(results),
			PassingChecks:  passing,
			WarningChecks:  warning,
			CriticalChecks: critical,
			UnknownChecks:  unknown,
		},
	}

	return status, nil
}

// worseStatus reports whether candidate is a worse state than current,
// under the ordering Healthy < Warning < Critical < Unknown.
func worseStatus(candidate, current HealthStatus) bool {
	rank := func(s HealthStatus) int {
		switch s {
		case StatusHealthy:
			return 0
		case StatusWarning:
			return 1
		case StatusCritical:
			return 2
		default:
			return 3
		}
	}
	return rank(candidate) > rank(current)
}

// CheckOne runs a specific health check by name
func (a *Aggregator) CheckOne(ctx context.Context, name string) (*CheckResult, error) {
	a.mu.RLock()
	checker, exists := a.checkers[name]
	a.mu.RUnlock()

	if !exists {
		return nil, ErrHealthCheckNotFound
	}

	result, err := checker.Check(ctx)
	if err != nil {
		result = &CheckResult{
			Name:      name,
			Status:    StatusCritical,
			Error:     err.Error(),
			Timestamp: time.Now(),
		}
	}

	a.mu.Lock()
	a.lastResults[name] = result
	a.mu.Unlock()

	return result, nil
}

// GetStatus returns the current aggregated health status without running checks
func (a *Aggregator) GetStatus(ctx context.Context) (*AggregatedStatus, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	worst := StatusHealthy
	for _, result := range a.lastResults {
		if worseStatus(result.Status, worst) {
			worst = result.Status
		}
	}
	if len(a.lastResults) == 0 {
		worst = StatusUnknown
	}

	status := &AggregatedStatus{
		OverallStatus:   worst,
		ReadinessStatus: worst,
		LivenessStatus:  worst,
		Timestamp:       time.Now(),
		CheckResults:    a.lastResults,
		Summary: &StatusSummary{
			TotalChecks: len(a.lastResults),
		},
	}

	return status, nil
}

// IsReady returns true if the system is ready to accept traffic: every
// registered check last reported healthy or warning (a warning check does
// not fail readiness; only a critical or unknown one does).
func (a *Aggregator) IsReady(ctx context.Context) (bool, error) {
	status, err := a.GetStatus(ctx)
	if err != nil {
		return false, err
	}
	return status.ReadinessStatus == StatusHealthy || status.ReadinessStatus == StatusWarning, nil
}

// IsLive returns true if the system is alive (for liveness probes)
func (a *Aggregator) IsLive(ctx context.Context) (bool, error) {
	status, err := a.GetStatus(ctx)
	if err != nil {
		return false, err
	}

	return status.LivenessStatus != StatusCritical, nil
}

// Monitor implements the HealthMonitor interface
type Monitor struct {
	aggregator *Aggregator
	interval   time.Duration
	running    bool
	mu         sync.Mutex
	history    map[string][]*CheckResult
}

// NewMonitor creates a new health monitor
func NewMonitor(aggregator *Aggregator) *Monitor {
	return &Monitor{
		aggregator: aggregator,
		interval:   30 * time.Second,
		running:    false,
		history:    make(map[string][]*CheckResult),
	}
}

// StartMonitoring begins continuous health monitoring with the specified interval
func (m *Monitor) StartMonitoring(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrMonitoringAlreadyRunning
	}

	m.interval = interval
	m.running = true

	go m.monitorLoop(ctx)

	return nil
}

// StopMonitoring stops continuous health monitoring
func (m *Monitor) StopMonitoring(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	return nil
}

// IsMonitoring returns true if monitoring is currently active
func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// GetHistory returns health check history for analysis
func (m *Monitor) GetHistory(ctx context.Context, checkName string, since time.Time) ([]*CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, exists := m.history[checkName]
	if !exists {
		return nil, nil
	}

	filtered := make([]*CheckResult, 0)
	for _, result := range history {
		if result.Timestamp.After(since) {
			filtered = append(filtered, result)
		}
	}

	return filtered, nil
}

// SetCallback sets a callback function to be called on status changes
func (m *Monitor) SetCallback(callback StatusChangeCallback) error {
	m.aggregator.mu.Lock()
	defer m.aggregator.mu.Unlock()

	m.aggregator.callbacks = append(m.aggregator.callbacks, callback)
	return nil
}

// monitorLoop polls CheckAll on the configured interval, appends results to
// per-check history, and invokes registered callbacks when the aggregated
// status changes.
func (m *Monitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	var previous *AggregatedStatus
	for {
		select {
		case <-ticker.C:
			if !m.IsMonitoring() {
				return
			}
			status, err := m.aggregator.CheckAll(ctx)
			if err != nil {
				continue
			}

			m.mu.Lock()
			for name, result := range status.CheckResults {
				hist := m.history[name]
				hist = append(hist, result)
				if max := 100; len(hist) > max {
					hist = hist[len(hist)-max:]
				}
				m.history[name] = hist
			}
			m.mu.Unlock()

			if previous != nil && previous.OverallStatus != status.OverallStatus {
				m.aggregator.mu.RLock()
				callbacks := append([]StatusChangeCallback(nil), m.aggregator.callbacks...)
				m.aggregator.mu.RUnlock()
				for _, cb := range callbacks {
					_ = cb(ctx, previous, status)
				}
			}
			previous = status
		case <-ctx.Done():
			return
		}
	}
}

// BasicChecker implements a basic HealthChecker for testing
type BasicChecker struct {
	name        string
	description string
	checkFunc   func(context.Context) error
}

// NewBasicChecker creates a new basic health checker
func NewBasicChecker(name, description string, checkFunc func(context.Context) error) *BasicChecker {
	return &BasicChecker{
		name:        name,
		description: description,
		checkFunc:   checkFunc,
	}
}

// Check performs a health check and returns the current status
func (c *BasicChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	result := &CheckResult{
		Name:      c.name,
		Timestamp: start,
		Status:    StatusHealthy,
	}

	if c.checkFunc != nil {
		if err := c.checkFunc(ctx); err != nil {
			result.Status = StatusCritical
			result.Error = err.Error()
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Name returns the unique name of this health check
func (c *BasicChecker) Name() string {
	return c.name
}

// Description returns a human-readable description of what this check validates
func (c *BasicChecker) Description() string {
	return c.description
}
