package modular

import (
	"context"
	"fmt"
	"time"

	"github.com/gocontainer/modular/health"
)

// BundleSnapshot is a frozen view of one bundle's state, decoupling
// BundleHealthChecker from the live registry so checks never race with
// concurrent install/start/stop calls.
type BundleSnapshot struct {
	ID              int64
	SymbolicName    string
	State           State
	PersistentState PersistentState
	StartLevel      int
}

// BundleHealthChecker implements health.HealthChecker by comparing each
// bundle's transient State against what its PersistentState and
// StartLevel demand: a bundle whose persistent_state is active and whose
// start_level is at or below the framework's current start level is
// expected to be ACTIVE (spec.md §4.6); a bundle whose state disagrees with
// that is "pending". A snapshot with some but not all bundles pending
// reports warning; one in which every bundle is pending reports critical.
//
// Grounded on the teacher's aggregate_health_service.go/health_reporter.go
// pattern, trimmed from its module health-checker fan-out down to the one
// thing this domain needs: bundle state vs. declared intent.
type BundleHealthChecker struct {
	snapshot       func(ctx context.Context) ([]BundleSnapshot, error)
	frameworkLevel func() int
}

// NewBundleHealthChecker builds a BundleHealthChecker. snapshot returns
// the current bundles; frameworkLevel returns the framework's current
// start level (spec.md §4.6).
func NewBundleHealthChecker(snapshot func(ctx context.Context) ([]BundleSnapshot, error), frameworkLevel func() int) *BundleHealthChecker {
	return &BundleHealthChecker{snapshot: snapshot, frameworkLevel: frameworkLevel}
}

func (c *BundleHealthChecker) Name() string { return "bundle-state" }

func (c *BundleHealthChecker) Description() string {
	return "reports bundles whose transient state has not converged to their persistent_state and start_level"
}

func (c *BundleHealthChecker) Check(ctx context.Context) (*health.CheckResult, error) {
	start := time.Now()
	result := &health.CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]interface{}{},
	}

	bundles, err := c.snapshot(ctx)
	if err != nil {
		result.Status = health.StatusUnknown
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}

	level := c.frameworkLevel()
	var pending []int64
	for _, b := range bundles {
		wantActive := b.PersistentState == PersistentActive && b.StartLevel <= level
		switch {
		case wantActive && b.State != StateActive:
			pending = append(pending, b.ID)
		case !wantActive && b.State == StateActive:
			pending = append(pending, b.ID)
		}
	}

	result.Details["bundle_count"] = len(bundles)
	result.Details["pending_bundle_ids"] = pending
	result.Duration = time.Since(start)

	switch {
	case len(pending) == 0:
		result.Status = health.StatusHealthy
		result.Message = fmt.Sprintf("%d bundles converged", len(bundles))
	case len(pending) < len(bundles):
		result.Status = health.StatusWarning
		result.Message = fmt.Sprintf("%d of %d bundles not yet converged", len(pending), len(bundles))
	default:
		result.Status = health.StatusCritical
		result.Message = fmt.Sprintf("%d bundles not converged", len(pending))
	}
	return result, nil
}

// NewFrameworkHealthAggregator wires a BundleHealthChecker into a
// health.Aggregator with the teacher's default AggregatorConfig, giving
// the framework IsReady/IsLive/CheckAll for free.
func NewFrameworkHealthAggregator(checker *BundleHealthChecker) (*health.Aggregator, error) {
	agg := health.NewAggregator(nil)
	if err := agg.RegisterCheck(context.Background(), checker); err != nil {
		return nil, err
	}
	return agg, nil
}
