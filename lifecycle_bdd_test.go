package modular

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cucumber/godog"
)

// Static errors for BDD step assertions, mirroring the teacher's
// err113-friendly style of named sentinel errors rather than ad hoc
// fmt.Errorf at every call site.
var (
	errBundleUnexpectedlyActive  = errors.New("bundle is already active")
	errImporterNotWired          = errors.New("importer module is not wired")
	errImporterWrongRevision     = errors.New("importer is wired to the wrong revision")
	errExpectedOperationToFail   = errors.New("expected the operation to fail")
	errExpectedOperationToPass   = errors.New("expected the operation to succeed")
	errActivatorBoom             = errors.New("activator boom")
	errUnexpectedState           = errors.New("bundle is not in the expected state")
	errServicesStillRegistered   = errors.New("services are still registered")
	errUnexpectedRevisionCount   = errors.New("revision count does not match")
	errOldRevisionDirStillExists = errors.New("old revision directory still exists")
	errWaiterDidNotReturn        = errors.New("wait_for_stop did not return in time")
	errFrameworkEventNotObserved = errors.New("expected framework event was not observed")
)

// lifecycleBDDContext holds everything one lifecycle.feature scenario needs:
// the framework under test, the name->id lookup every step uses to avoid
// threading bundle ids through Gherkin text, and an event log populated by
// an Observer registered on the framework (lifecycle.Dispatcher delivers
// asynchronously, so assertion steps poll this log rather than reading it
// the instant the triggering step returns).
type lifecycleBDDContext struct {
	fw       *Framework
	cacheDir string

	bundles map[string]int64
	names   map[int64]string

	mu              sync.Mutex
	bundleEvents    map[string][]BundleEventKind
	frameworkEvents []FrameworkEventKind

	lastErr       error
	exporterStale *Module
	oldRevDir     string

	waitErr  error
	waitDone chan struct{}
}

func (bc *lifecycleBDDContext) reset() {
	if bc.cacheDir != "" {
		_ = os.RemoveAll(bc.cacheDir)
	}
	*bc = lifecycleBDDContext{
		bundles:      make(map[string]int64),
		names:        make(map[int64]string),
		bundleEvents: make(map[string][]BundleEventKind),
	}
}

func (bc *lifecycleBDDContext) recordBundle(name string, id int64) {
	bc.bundles[name] = id
	bc.names[id] = name
}

func (bc *lifecycleBDDContext) bundleInfo(name string) (*BundleInfo, error) {
	id, ok := bc.bundles[name]
	if !ok {
		return nil, fmt.Errorf("bundle %q was never installed: %w", name, ErrBundleNotFound)
	}
	return bc.fw.bundleInfo(id)
}

func (bc *lifecycleBDDContext) installBundle(name string, headers map[string]string) (*BundleInfo, error) {
	dir, err := os.MkdirTemp(bc.cacheDir, "content-*")
	if err != nil {
		return nil, err
	}
	bundle, err := bc.fw.Install(context.Background(), "reference:file:"+dir, nil, headers, nil)
	if err != nil {
		return nil, err
	}
	bc.recordBundle(name, bundle.ID())
	return bc.fw.bundleInfo(bundle.ID())
}

// -- Given --

func (bc *lifecycleBDDContext) aFreshFramework() error {
	bc.reset()
	dir, err := os.MkdirTemp("", "modular-bdd-*")
	if err != nil {
		return err
	}
	bc.cacheDir = dir

	fw, err := NewFramework(WithCacheDir(dir), WithLogger(noopLogger{}))
	if err != nil {
		return err
	}
	bc.fw = fw

	obs := ObserverFunc{
		ID: "lifecycle-bdd",
		OnBundle: func(ctx context.Context, event BundleEvent) error {
			bc.mu.Lock()
			defer bc.mu.Unlock()
			if name := bc.names[event.BundleID]; name != "" {
				bc.bundleEvents[name] = append(bc.bundleEvents[name], event.Kind)
			}
			return nil
		},
		OnFramework: func(ctx context.Context, event FrameworkEvent) error {
			bc.mu.Lock()
			defer bc.mu.Unlock()
			bc.frameworkEvents = append(bc.frameworkEvents, event.Kind)
			return nil
		},
	}
	return bc.fw.RegisterObserver(context.Background(), obs)
}

func (bc *lifecycleBDDContext) theFrameworkIsInitialized() error {
	return bc.fw.Init(context.Background())
}

func (bc *lifecycleBDDContext) theFrameworkIsStarted() error {
	return bc.fw.Start(context.Background(), 0)
}

// -- install / symbolic-name uniqueness --

func (bc *lifecycleBDDContext) iInstallBundleWithSymbolicNameVersion(name, symbolicName, version string) error {
	_, err := bc.installBundle(name, map[string]string{
		HeaderSymbolicName:    symbolicName,
		HeaderVersion:         version,
		HeaderManifestVersion: "2",
	})
	bc.lastErr = err
	return nil
}

func (bc *lifecycleBDDContext) installingBundleShouldSucceed(name string) error {
	if bc.lastErr != nil {
		return fmt.Errorf("installing %q: %w: %v", name, errExpectedOperationToPass, bc.lastErr)
	}
	return nil
}

func (bc *lifecycleBDDContext) installingBundleShouldFailWithError(name, substring string) error {
	if bc.lastErr == nil {
		return fmt.Errorf("installing %q: %w", name, errExpectedOperationToFail)
	}
	if !strings.Contains(bc.lastErr.Error(), substring) {
		return fmt.Errorf("installing %q: error %q does not mention %q", name, bc.lastErr.Error(), substring)
	}
	return nil
}

// -- start levels --

func (bc *lifecycleBDDContext) bundleIsInstalledWithStartLevel(name string, level int) error {
	bi, err := bc.installBundle(name, map[string]string{})
	if err != nil {
		return err
	}
	return bc.fw.SetBundleStartLevel(context.Background(), bi.ID(), level)
}

func (bc *lifecycleBDDContext) bundleIsStarted(name string) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	return bc.fw.StartBundle(context.Background(), bi.ID())
}

func (bc *lifecycleBDDContext) bundleShouldNotBeActiveYet(name string) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	if bi.State() == StateActive {
		return fmt.Errorf("bundle %q: %w", name, errBundleUnexpectedlyActive)
	}
	return nil
}

func (bc *lifecycleBDDContext) theFrameworkStartLevelIsSetTo(level int) error {
	return bc.fw.SetFrameworkStartLevel(context.Background(), level)
}

// bundleShouldHaveObservedEventsInOrder checks that csv's events appear, in
// order, as a (not necessarily contiguous) subsequence of what the observer
// has recorded for name so far — the dispatcher delivers asynchronously, so
// this polls briefly rather than reading the log the instant the step runs.
func (bc *lifecycleBDDContext) bundleShouldHaveObservedEventsInOrder(name, csv string) error {
	want := strings.Split(csv, ",")
	deadline := time.Now().Add(2 * time.Second)
	for {
		bc.mu.Lock()
		got := append([]BundleEventKind(nil), bc.bundleEvents[name]...)
		bc.mu.Unlock()

		if containsSubsequence(got, want) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("bundle %q: expected events %v as a subsequence of %v", name, want, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func containsSubsequence(got []BundleEventKind, want []string) bool {
	idx := 0
	for _, g := range got {
		if idx < len(want) && string(g) == want[idx] {
			idx++
		}
	}
	return idx == len(want)
}

// -- refresh / rewiring --

func (bc *lifecycleBDDContext) bundleIsInstalledExportingPackage(name, pkg string) error {
	_, err := bc.installBundle(name, map[string]string{HeaderExportPackage: pkg})
	return err
}

func (bc *lifecycleBDDContext) bundleIsInstalledImportingPackage(name, pkg string) error {
	_, err := bc.installBundle(name, map[string]string{HeaderImportPackage: pkg})
	return err
}

func (bc *lifecycleBDDContext) bundleShouldBeWiredToCurrentRevisionOf(importerName, exporterName string) error {
	importer, err := bc.bundleInfo(importerName)
	if err != nil {
		return err
	}
	exporter, err := bc.bundleInfo(exporterName)
	if err != nil {
		return err
	}
	m := importer.CurrentModule()
	if m == nil || m.Wiring == nil {
		return fmt.Errorf("importer %q: %w", importerName, errImporterNotWired)
	}
	if m.Wiring.Providers["p"] != exporter.CurrentModule() {
		return fmt.Errorf("importer %q: %w", importerName, errImporterWrongRevision)
	}
	return nil
}

func (bc *lifecycleBDDContext) bundleShouldStillBeWiredToOldRevisionOf(importerName, exporterName string) error {
	importer, err := bc.bundleInfo(importerName)
	if err != nil {
		return err
	}
	m := importer.CurrentModule()
	if m == nil || m.Wiring == nil {
		return fmt.Errorf("importer %q: %w", importerName, errImporterNotWired)
	}
	if m.Wiring.Providers["p"] != bc.exporterStale {
		return fmt.Errorf("importer %q: %w", importerName, errImporterWrongRevision)
	}
	return nil
}

func (bc *lifecycleBDDContext) bundleIsUpdatedStillExportingPackage(name, pkg string) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	bc.exporterStale = bi.CurrentModule()

	if err := bc.fw.UpdateBundle(context.Background(), bi.ID(), nil, map[string]string{HeaderExportPackage: pkg}, nil); err != nil {
		return err
	}

	archive, err := bc.fw.cacheStore.Get(bi.ID())
	if err != nil {
		return err
	}
	oldRev, err := archive.Revision(0)
	if err != nil {
		return err
	}
	bc.oldRevDir = oldRev.Dir()
	return nil
}

func (bc *lifecycleBDDContext) bundleIsRefreshed(name string) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	return bc.fw.RefreshPackages(context.Background(), []int64{bi.ID()})
}

func (bc *lifecycleBDDContext) oldRevisionDirectoryShouldNoLongerExist(name string) error {
	if bc.oldRevDir == "" {
		return fmt.Errorf("bundle %q: no old revision directory recorded", name)
	}
	if _, err := os.Stat(bc.oldRevDir); !os.IsNotExist(err) {
		return fmt.Errorf("bundle %q: %w: %s", name, errOldRevisionDirStillExists, bc.oldRevDir)
	}
	return nil
}

// -- failing activator --

func (bc *lifecycleBDDContext) aRegisteredActivatorThatFailsToStart(headerValue string) error {
	bc.fw.activators.Register(headerValue, func() Activator {
		return ActivatorFunc{
			StartFunc: func(ctx context.Context, bcx *BundleContext) error {
				return errActivatorBoom
			},
		}
	})
	return nil
}

func (bc *lifecycleBDDContext) bundleIsInstalledWithActivator(name, activatorName string) error {
	_, err := bc.installBundle(name, map[string]string{HeaderActivator: activatorName})
	return err
}

func (bc *lifecycleBDDContext) iTryToStartBundle(name string) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	bc.lastErr = bc.fw.StartBundle(context.Background(), bi.ID())
	return nil
}

func (bc *lifecycleBDDContext) startingBundleShouldFailWithABundleException(name string) error {
	if bc.lastErr == nil {
		return fmt.Errorf("starting %q: %w", name, errExpectedOperationToFail)
	}
	if !errors.Is(bc.lastErr, ErrActivatorStartFailed) {
		return fmt.Errorf("starting %q: expected %w, got %v", name, ErrActivatorStartFailed, bc.lastErr)
	}
	return nil
}

func (bc *lifecycleBDDContext) bundleShouldBeInState(name, state string) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	if bi.State().String() != state {
		return fmt.Errorf("bundle %q: %w: want %s, got %s", name, errUnexpectedState, state, bi.State())
	}
	return nil
}

func (bc *lifecycleBDDContext) noServicesShouldBeRegistered() error {
	entries, err := bc.fw.registry.List(context.Background())
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return fmt.Errorf("%w: %d entries", errServicesStillRegistered, len(entries))
	}
	return nil
}

// -- failed update rollback --

func (bc *lifecycleBDDContext) bundleIsInstalledAndStarted(name string) error {
	bi, err := bc.installBundle(name, map[string]string{})
	if err != nil {
		return err
	}
	return bc.fw.StartBundle(context.Background(), bi.ID())
}

func (bc *lifecycleBDDContext) iTryToUpdateBundleWithMissingNativeLibrary(name string) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	bc.lastErr = bc.fw.UpdateBundle(context.Background(), bi.ID(), nil, map[string]string{
		HeaderNativeCode: "lib/missing.so",
	}, nil)
	return nil
}

func (bc *lifecycleBDDContext) updatingBundleShouldFail(name string) error {
	if bc.lastErr == nil {
		return fmt.Errorf("updating %q: %w", name, errExpectedOperationToFail)
	}
	if !errors.Is(bc.lastErr, ErrNativeLibraryMissing) {
		return fmt.Errorf("updating %q: expected %w, got %v", name, ErrNativeLibraryMissing, bc.lastErr)
	}
	return nil
}

func (bc *lifecycleBDDContext) bundleShouldHaveRevisionCount(name string, want int) error {
	bi, err := bc.bundleInfo(name)
	if err != nil {
		return err
	}
	archive, err := bc.fw.cacheStore.Get(bi.ID())
	if err != nil {
		return err
	}
	if archive.RevisionCount() != want {
		return fmt.Errorf("bundle %q: %w: want %d, got %d", name, errUnexpectedRevisionCount, want, archive.RevisionCount())
	}
	return nil
}

// rollbackOfBundleShouldReportSuccess checks the one outcome
// RollbackRevise's boolean result is externally observable through: the
// revision count dropping back to what it was before the failed update
// (archive.RollbackRevise itself is internal to the cache package).
func (bc *lifecycleBDDContext) rollbackOfBundleShouldReportSuccess(name string) error {
	return bc.bundleShouldHaveRevisionCount(name, 1)
}

// -- shutdown / wait_for_stop --

func (bc *lifecycleBDDContext) anotherGoroutineCallsWaitForStop(timeoutMS int) error {
	bc.waitDone = make(chan struct{})
	timeout := time.Duration(timeoutMS) * time.Millisecond
	go func() {
		defer close(bc.waitDone)
		bc.waitErr = bc.fw.WaitForStop(timeout)
	}()
	return nil
}

func (bc *lifecycleBDDContext) theFrameworkIsStopped() error {
	return bc.fw.Stop(context.Background())
}

func (bc *lifecycleBDDContext) theWaiterShouldReturnWithinTheTimeoutHavingObservedAFrameworkEvent(kind string) error {
	select {
	case <-bc.waitDone:
	case <-time.After(6 * time.Second):
		return errWaiterDidNotReturn
	}
	if bc.waitErr != nil {
		return fmt.Errorf("wait_for_stop returned an error: %w", bc.waitErr)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		bc.mu.Lock()
		observed := append([]FrameworkEventKind(nil), bc.frameworkEvents...)
		bc.mu.Unlock()
		for _, ev := range observed {
			if string(ev) == kind {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %q, saw %v", errFrameworkEventNotObserved, kind, observed)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// InitializeLifecycleScenario registers every lifecycle.feature step.
func InitializeLifecycleScenario(ctx *godog.ScenarioContext) {
	bc := &lifecycleBDDContext{}

	ctx.Before(func(goctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return goctx, nil
	})

	ctx.Step(`^a fresh framework$`, bc.aFreshFramework)
	ctx.Step(`^the framework is initialized$`, bc.theFrameworkIsInitialized)
	ctx.Step(`^the framework is started$`, bc.theFrameworkIsStarted)

	ctx.Step(`^I install bundle "([^"]+)" with symbolic name "([^"]+)" version "([^"]+)"$`, bc.iInstallBundleWithSymbolicNameVersion)
	ctx.Step(`^installing bundle "([^"]+)" should succeed$`, bc.installingBundleShouldSucceed)
	ctx.Step(`^installing bundle "([^"]+)" should fail with error "([^"]+)"$`, bc.installingBundleShouldFailWithError)

	ctx.Step(`^bundle "([^"]+)" is installed with start level (\d+)$`, bc.bundleIsInstalledWithStartLevel)
	ctx.Step(`^bundle "([^"]+)" is started$`, bc.bundleIsStarted)
	ctx.Step(`^bundle "([^"]+)" should not be active yet$`, bc.bundleShouldNotBeActiveYet)
	ctx.Step(`^the framework start level is raised to (\d+)$`, bc.theFrameworkStartLevelIsSetTo)
	ctx.Step(`^the framework start level is lowered to (\d+)$`, bc.theFrameworkStartLevelIsSetTo)
	ctx.Step(`^bundle "([^"]+)" should have observed events "([^"]+)" in order$`, bc.bundleShouldHaveObservedEventsInOrder)

	ctx.Step(`^bundle "([^"]+)" is installed exporting package "([^"]+)"$`, bc.bundleIsInstalledExportingPackage)
	ctx.Step(`^bundle "([^"]+)" is installed importing package "([^"]+)"$`, bc.bundleIsInstalledImportingPackage)
	ctx.Step(`^bundle "([^"]+)" should be wired to the current revision of bundle "([^"]+)"$`, bc.bundleShouldBeWiredToCurrentRevisionOf)
	ctx.Step(`^bundle "([^"]+)" should still be wired to the old revision of bundle "([^"]+)"$`, bc.bundleShouldStillBeWiredToOldRevisionOf)
	ctx.Step(`^bundle "([^"]+)" is updated still exporting package "([^"]+)"$`, bc.bundleIsUpdatedStillExportingPackage)
	ctx.Step(`^bundle "([^"]+)" is refreshed$`, bc.bundleIsRefreshed)
	ctx.Step(`^the old revision directory of bundle "([^"]+)" should no longer exist$`, bc.oldRevisionDirectoryShouldNoLongerExist)

	ctx.Step(`^a registered activator "([^"]+)" that fails to start$`, bc.aRegisteredActivatorThatFailsToStart)
	ctx.Step(`^bundle "([^"]+)" is installed with activator "([^"]+)"$`, bc.bundleIsInstalledWithActivator)
	ctx.Step(`^I try to start bundle "([^"]+)"$`, bc.iTryToStartBundle)
	ctx.Step(`^starting bundle "([^"]+)" should fail with a bundle exception$`, bc.startingBundleShouldFailWithABundleException)
	ctx.Step(`^bundle "([^"]+)" should be in state "([^"]+)"$`, bc.bundleShouldBeInState)
	ctx.Step(`^no services should be registered$`, bc.noServicesShouldBeRegistered)

	ctx.Step(`^bundle "([^"]+)" is installed and started$`, bc.bundleIsInstalledAndStarted)
	ctx.Step(`^I try to update bundle "([^"]+)" with a manifest missing a declared native library$`, bc.iTryToUpdateBundleWithMissingNativeLibrary)
	ctx.Step(`^updating bundle "([^"]+)" should fail$`, bc.updatingBundleShouldFail)
	ctx.Step(`^the rollback of bundle "([^"]+)" should report success$`, bc.rollbackOfBundleShouldReportSuccess)
	ctx.Step(`^bundle "([^"]+)" should still have (\d+) revision$`, bc.bundleShouldHaveRevisionCount)

	ctx.Step(`^another goroutine calls wait for stop with a (\d+) millisecond timeout$`, bc.anotherGoroutineCallsWaitForStop)
	ctx.Step(`^the framework is stopped$`, bc.theFrameworkIsStopped)
	ctx.Step(`^the waiter should return within the timeout having observed a framework "([^"]+)" event$`, bc.theWaiterShouldReturnWithinTheTimeoutHavingObservedAFrameworkEvent)
}

// TestLifecycleScenarios runs the bundle-lifecycle BDD feature.
func TestLifecycleScenarios(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

