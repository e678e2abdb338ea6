package modular

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramework_StartLeavesPersistentlyStoppedBundleStopped(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()

	manifest := basicManifest("com.example.auto", "1.0.0")
	b, err := fw.Install(ctx, "file:///auto.bundle", nil, manifest, nil)
	require.NoError(t, err)
	require.NoError(t, fw.StartBundle(ctx, b.ID()))
	require.NoError(t, fw.StopBundle(ctx, b.ID()))

	require.NoError(t, fw.Start(ctx, 0))

	got, err := fw.GetBundle(b.ID())
	require.NoError(t, err)
	assert.Equal(t, StateResolved, got.State(), "StopBundle recorded persistent_state=installed, so Start() should leave it stopped")
}

func TestFramework_StartTwiceIsRejected(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()
	require.NoError(t, fw.Start(ctx, 0))
	err := fw.Start(ctx, 0)
	assert.ErrorIs(t, err, ErrApplicationAlreadyStarted)
}

func TestFramework_StopWithoutStartIsRejected(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()
	err := fw.Stop(ctx)
	assert.ErrorIs(t, err, ErrApplicationNotStarted)
}

func TestFramework_StopThenWaitForStopUnblocks(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()
	require.NoError(t, fw.Start(ctx, 0))
	require.NoError(t, fw.Stop(ctx))

	err := fw.WaitForStop(2 * time.Second)
	assert.NoError(t, err)
}

func TestFramework_WaitForStopNegativeTimeoutIsError(t *testing.T) {
	fw := newTestFramework(t)
	err := fw.WaitForStop(-time.Second)
	assert.ErrorIs(t, err, ErrNegativeTimeout)
}

func TestFramework_WaitForStopTimesOutIfNeverStopped(t *testing.T) {
	fw := newTestFramework(t)
	err := fw.WaitForStop(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrLockAcquireTimedOut)
}

func TestFramework_InstallWhileStoppingIsRejected(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()
	require.NoError(t, fw.Start(ctx, 0))
	require.NoError(t, fw.Stop(ctx))
	require.NoError(t, fw.WaitForStop(2*time.Second))

	_, err := fw.Install(ctx, "file:///late.bundle", nil, basicManifest("com.example.late", "1.0.0"), nil)
	assert.ErrorIs(t, err, ErrFrameworkStopping)
}

func TestFramework_RegisterObserverReceivesBundleEvents(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()
	require.NoError(t, fw.Init(ctx))

	var mu sync.Mutex
	var kinds []BundleEventKind
	obs := ObserverFunc{
		ID: "test-observer",
		OnBundle: func(ctx context.Context, event BundleEvent) error {
			mu.Lock()
			kinds = append(kinds, event.Kind)
			mu.Unlock()
			return nil
		},
	}
	require.NoError(t, fw.RegisterObserver(ctx, obs))

	_, err := fw.Install(ctx, "file:///observed.bundle", nil, basicManifest("com.example.observed", "1.0.0"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, k := range kinds {
			if k == BundleEventInstalled {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestFramework_GetExportedPackagesReflectsResolvedModules(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()

	manifest := basicManifest("com.example.pkgexport", "1.0.0")
	manifest[HeaderExportPackage] = "com.example.alpha,com.example.beta"
	b, err := fw.Install(ctx, "file:///pkgexport.bundle", nil, manifest, nil)
	require.NoError(t, err)

	assert.Empty(t, fw.GetExportedPackages(), "unresolved bundle should not yet contribute exports")

	require.NoError(t, fw.Resolve(ctx, b.ID()))
	assert.ElementsMatch(t, []string{"com.example.alpha", "com.example.beta"}, fw.GetExportedPackages())
}

func TestFramework_GetImportingBundlesFindsImporter(t *testing.T) {
	fw := newTestFramework(t)
	ctx := context.Background()

	exporter := basicManifest("com.example.provider", "1.0.0")
	exporter[HeaderExportPackage] = "com.example.shared"
	expB, err := fw.Install(ctx, "file:///provider.bundle", nil, exporter, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Resolve(ctx, expB.ID()))

	importer := basicManifest("com.example.consumer", "1.0.0")
	importer[HeaderImportPackage] = "com.example.shared"
	impB, err := fw.Install(ctx, "file:///consumer.bundle", nil, importer, nil)
	require.NoError(t, err)
	require.NoError(t, fw.Resolve(ctx, impB.ID()))

	importing := fw.GetImportingBundles("com.example.shared")
	require.Len(t, importing, 1)
	assert.Equal(t, impB.ID(), importing[0].ID())
}

func TestFramework_GetBundlesIncludesSystemBundle(t *testing.T) {
	fw := newTestFramework(t)
	bundles := fw.GetBundles()
	found := false
	for _, b := range bundles {
		if b.ID() == SystemBundleID {
			found = true
		}
	}
	assert.True(t, found)
}
