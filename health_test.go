package modular

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocontainer/modular/health"
)

func TestBundleHealthChecker_AllConvergedIsHealthy(t *testing.T) {
	snapshot := func(ctx context.Context) ([]BundleSnapshot, error) {
		return []BundleSnapshot{
			{ID: 1, State: StateActive, PersistentState: PersistentActive, StartLevel: 1},
			{ID: 2, State: StateResolved, PersistentState: PersistentInstalled, StartLevel: 1},
		}, nil
	}
	checker := NewBundleHealthChecker(snapshot, func() int { return 1 })

	result, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, result.Status)
	assert.Equal(t, 2, result.Details["bundle_count"])
}

func TestBundleHealthChecker_PartialPendingIsWarning(t *testing.T) {
	snapshot := func(ctx context.Context) ([]BundleSnapshot, error) {
		return []BundleSnapshot{
			{ID: 1, State: StateActive, PersistentState: PersistentActive, StartLevel: 1},
			{ID: 2, State: StateResolved, PersistentState: PersistentActive, StartLevel: 1},
		}, nil
	}
	checker := NewBundleHealthChecker(snapshot, func() int { return 1 })

	result, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusWarning, result.Status)
	assert.Equal(t, []int64{2}, result.Details["pending_bundle_ids"])
}

func TestBundleHealthChecker_AllPendingIsCritical(t *testing.T) {
	snapshot := func(ctx context.Context) ([]BundleSnapshot, error) {
		return []BundleSnapshot{
			{ID: 1, State: StateInstalled, PersistentState: PersistentActive, StartLevel: 1},
		}, nil
	}
	checker := NewBundleHealthChecker(snapshot, func() int { return 1 })

	result, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusCritical, result.Status)
}

func TestBundleHealthChecker_BundleAboveFrameworkLevelIsNotPending(t *testing.T) {
	snapshot := func(ctx context.Context) ([]BundleSnapshot, error) {
		return []BundleSnapshot{
			{ID: 1, State: StateResolved, PersistentState: PersistentActive, StartLevel: 5},
		}, nil
	}
	checker := NewBundleHealthChecker(snapshot, func() int { return 1 })

	result, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, result.Status)
}

func TestBundleHealthChecker_SnapshotErrorIsUnknown(t *testing.T) {
	snapshot := func(ctx context.Context) ([]BundleSnapshot, error) {
		return nil, errors.New("boom")
	}
	checker := NewBundleHealthChecker(snapshot, func() int { return 1 })

	result, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusUnknown, result.Status)
	assert.Equal(t, "boom", result.Error)
}

func TestNewFrameworkHealthAggregator_WiresCheckerIntoAggregator(t *testing.T) {
	checker := NewBundleHealthChecker(func(ctx context.Context) ([]BundleSnapshot, error) {
		return nil, nil
	}, func() int { return 1 })

	agg, err := NewFrameworkHealthAggregator(checker)
	require.NoError(t, err)
	require.NotNil(t, agg)

	result, err := agg.CheckOne(context.Background(), "bundle-state")
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, result.Status)
}
