package modular

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gocontainer/modular/cache"
)

// LifecycleEngine implements install/resolve/start/stop/update/uninstall
// (spec.md §4.4), the largest single component in the container. It holds
// no state of its own beyond a back-reference to the Framework whose
// installed-bundle map, cache, resolver and lock manager it mutates under
// lock — grounded on the teacher's ApplicationLifecycle (application_lifecycle.go),
// which is split out from StdApplication the same way, and on Felix's
// Felix.java for the exact state-machine edges and rollback semantics.
type LifecycleEngine struct {
	fw *Framework
}

// Install implements spec.md §4.4 "Install". id <= 0 allocates a fresh
// id via the cache's next-id counter; a positive id is used as-is, the
// path reloadFromCache takes when reconstructing bundles already on disk.
// manifest is the bundle's already-decoded header map: this framework has
// no jar/zip reader of its own (spec.md §1 non-goal "no source-code
// compilation" extends naturally to "no archive format parsing" either),
// so the caller supplies headers the way a Go plugin loader takes
// metadata explicitly rather than sniffing it out of a binary.
func (e *LifecycleEngine) Install(ctx context.Context, location string, stream io.Reader, manifest map[string]string, nativeLibs []string, id int64) (*Bundle, error) {
	if err := e.fw.locks.AcquireInstallLock(ctx, location); err != nil {
		return nil, err
	}
	defer e.fw.locks.ReleaseInstallLock(location)

	e.fw.startedMu.Lock()
	stopping := e.fw.stopRequested
	e.fw.startedMu.Unlock()
	if stopping {
		return nil, ErrFrameworkStopping
	}

	if existing, err := e.fw.GetBundleByLocation(location); err == nil {
		return existing, nil
	}

	reload := id > 0
	if !reload {
		var err error
		id, err = e.fw.cacheStore.NextID()
		if err != nil {
			return nil, fmt.Errorf("install %s: allocate id: %w", location, err)
		}
	}

	var archive *cache.Archive
	var err error
	if reload {
		archive, err = e.fw.cacheStore.Get(id)
	} else {
		archive, err = e.fw.cacheStore.Create(id, location, e.fw.config.StartLevelBundle, stream, manifest, nativeLibs)
	}
	if err != nil {
		return nil, fmt.Errorf("install %s: cache: %w: %v", location, ErrCacheFailure, err)
	}

	bi := NewBundleInfo(id, location, archive.StartLevel())
	bi.SetPersistentState(PersistentState(archive.PersistentState()))

	module, err := e.buildModule(bi, archive)
	if err != nil {
		if !reload {
			_ = e.fw.cacheStore.Remove(archive)
		}
		return nil, err
	}

	if bi.IsExtension() {
		if err := e.attachExtension(bi, module); err != nil {
			if !reload {
				_ = e.fw.cacheStore.Remove(archive)
			}
			return nil, err
		}
	}

	bi.SetCurrentModule(module)

	e.fw.mu.Lock()
	e.fw.installed[id] = bi
	e.fw.byLocation[location] = bi
	e.fw.mu.Unlock()

	e.fw.emitBundleEvent(ctx, BundleEventInstalled, bi)
	return bi.Bundle(), nil
}

// buildModule implements step 6 of Install: parse the newest revision's
// manifest, verify symbolic_name+version uniqueness (manifest v2),
// required execution environment, and native library presence, then
// construct an unresolved Module.
func (e *LifecycleEngine) buildModule(bi *BundleInfo, archive *cache.Archive) (*Module, error) {
	rev, err := archive.CurrentRevision()
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", bi.Location(), ErrCacheFailure)
	}
	def, err := e.fw.manifestParser.Parse(rev)
	if err != nil {
		return nil, fmt.Errorf("install %s: parse manifest: %w", bi.Location(), err)
	}

	manifest, _ := rev.Manifest()
	bi.SetHeaders(manifest, nil)
	bi.SetContent(rev)
	bi.SetExtension(isExtensionManifest(manifest))

	if manifest[HeaderManifestVersion] == "2" && def.SymbolicName != "" {
		if err := e.checkSymbolicNameUnique(bi.ID(), def.SymbolicName, def.Version); err != nil {
			return nil, err
		}
	}

	if len(def.RequiredExecutionEnvironment) > 0 && !environmentSatisfied(def.RequiredExecutionEnvironment, e.fw.config.ExecutionEnvironments) {
		return nil, fmt.Errorf("install %s: %w", bi.Location(), ErrExecutionEnvironment)
	}

	if err := rev.VerifyNativeLibraries(); err != nil {
		return nil, fmt.Errorf("install %s: %w", bi.Location(), ErrNativeLibraryMissing)
	}

	activator := e.fw.activators.New(manifest[HeaderActivator])
	return NewModule(bi, def, activator), nil
}

func isExtensionManifest(headers map[string]string) bool {
	return strings.EqualFold(headers["Bundle-Category"], "extension") ||
		strings.EqualFold(headers["Fragment-Host"], "system.bundle")
}

func environmentSatisfied(required, provided []string) bool {
	for _, r := range required {
		for _, p := range provided {
			if strings.EqualFold(r, p) {
				return true
			}
		}
	}
	return false
}

func (e *LifecycleEngine) checkSymbolicNameUnique(selfID int64, name, version string) error {
	e.fw.mu.RLock()
	defer e.fw.mu.RUnlock()
	for id, other := range e.fw.installed {
		if id == selfID {
			continue
		}
		m := other.CurrentModule()
		if m == nil {
			continue
		}
		if m.Definition.SymbolicName == name && m.Definition.Version == version {
			return fmt.Errorf("install: %w: %s %s", ErrSymbolicNameNotUnique, name, version)
		}
	}
	return nil
}

// attachExtension implements Install step 7: wire an extension bundle's
// module onto the system bundle and refresh the system module so its
// capabilities become visible immediately.
func (e *LifecycleEngine) attachExtension(bi *BundleInfo, m *Module) error {
	sys := e.fw.system
	sysModule := sys.CurrentModule()
	if sysModule == nil {
		sysModule = NewModule(sys, ModuleDefinition{SymbolicName: "system.bundle"}, NoopActivator{})
	}
	sysModule.AddDependent(m)
	sys.SetCurrentModule(sysModule)
	return nil
}

// Resolve implements spec.md §4.4 "Resolve". Extension bundles never
// transition through RESOLVED themselves (they skip STARTING/ACTIVE
// entirely); calling Resolve on one is a no-op success.
func (e *LifecycleEngine) Resolve(ctx context.Context, bi *BundleInfo) error {
	if bi.IsExtension() {
		return nil
	}
	token := e.fw.locks.NewToken()
	if err := e.fw.locks.AcquireBundleLock(ctx, bi.ID(), token); err != nil {
		return err
	}
	defer func() { _ = e.fw.locks.ReleaseBundleLock(bi.ID(), token) }()

	return e.resolveLocked(ctx, bi)
}

// resolveLocked is Resolve without acquiring the bundle lock, for callers
// (Start, startLocked) that already hold it: Resolve's own AcquireBundleLock
// would otherwise block forever against a token the caller is already
// holding.
func (e *LifecycleEngine) resolveLocked(ctx context.Context, bi *BundleInfo) error {
	m := bi.CurrentModule()
	if m == nil {
		return fmt.Errorf("resolve %d: %w", bi.ID(), ErrModuleNotFound)
	}
	if m.IsResolved() {
		return nil
	}

	if e.fw.permission != nil {
		if err := e.fw.permission.CheckExport(m.Definition.SymbolicName, m.Definition.ExportedPackages); err != nil {
			return fmt.Errorf("resolve %d: %w", bi.ID(), ErrExportPermissionDenied)
		}
	}
	if len(m.Definition.RequiredExecutionEnvironment) > 0 && !environmentSatisfied(m.Definition.RequiredExecutionEnvironment, e.fw.config.ExecutionEnvironments) {
		return fmt.Errorf("resolve %d: %w", bi.ID(), ErrExecutionEnvironment)
	}

	candidates := e.candidateModules(m)
	wiring, err := e.fw.resolver.Resolve(m, candidates)
	if err != nil {
		return fmt.Errorf("resolve %d: %w", bi.ID(), err)
	}
	m.mu.Lock()
	m.Wiring = wiring
	m.mu.Unlock()

	e.onResolved(ctx, bi, m)
	return nil
}

func (e *LifecycleEngine) candidateModules(self *Module) []*Module {
	e.fw.mu.RLock()
	defer e.fw.mu.RUnlock()
	out := make([]*Module, 0, len(e.fw.installed))
	for _, bi := range e.fw.installed {
		m := bi.CurrentModule()
		if m == nil || m == self {
			continue
		}
		out = append(out, m)
	}
	return out
}

// onResolved implements the "Resolver listener" semantics of §4.4: only
// transition to RESOLVED and emit the event if wired is still the
// bundle's current module and the bundle is still INSTALLED; a resolve
// that raced with an update or refresh is logged and ignored.
func (e *LifecycleEngine) onResolved(ctx context.Context, bi *BundleInfo, wired *Module) {
	if bi.CurrentModule() != wired || bi.State() != StateInstalled {
		e.fw.logger.Warn("resolver callback for stale module ignored", "bundleID", bi.ID())
		return
	}
	bi.SetState(StateResolved)
	e.fw.emitBundleEvent(ctx, BundleEventResolved, bi)
}

// Start implements spec.md §4.4 "Start". record=true marks a persistent
// start (caller intent survives a restart); record=false is a transient
// start issued by StartLevelController as the framework's level rises.
func (e *LifecycleEngine) Start(ctx context.Context, bi *BundleInfo, record bool) error {
	if bi.IsExtension() {
		return nil
	}
	token := e.fw.locks.NewToken()
	if err := e.fw.locks.AcquireBundleLock(ctx, bi.ID(), token); err != nil {
		return err
	}
	defer func() { _ = e.fw.locks.ReleaseBundleLock(bi.ID(), token) }()

	if record {
		bi.SetPersistentState(PersistentActive)
		if err := e.persistState(bi); err != nil {
			e.fw.logger.Error("failed to persist bundle state", "bundleID", bi.ID(), "error", err)
		}
	}

	if bi.StartLevel() > e.fw.StartLevel() {
		if !record {
			return fmt.Errorf("start %d: %w", bi.ID(), ErrInvalidStateTransition)
		}
		return nil
	}

	switch bi.State() {
	case StateUninstalled:
		return fmt.Errorf("start %d: %w", bi.ID(), ErrBundleUninstalled)
	case StateStarting, StateStopping:
		return fmt.Errorf("start %d: %w", bi.ID(), ErrConcurrentLifecycleOp)
	case StateActive:
		return nil
	case StateInstalled:
		if err := e.resolveLocked(ctx, bi); err != nil {
			return err
		}
		if bi.State() != StateResolved {
			return fmt.Errorf("start %d: %w", bi.ID(), ErrResolveFailed)
		}
	}

	bi.SetState(StateStarting)
	e.fw.emitBundleEvent(ctx, BundleEventStarting, bi)

	m := bi.CurrentModule()
	bc := &BundleContext{bundle: bi.Bundle(), framework: e.fw}
	if err := m.Activator.Start(ctx, bc); err != nil {
		bi.SetState(StateResolved)
		e.cleanupBundleServices(ctx, bi)
		return fmt.Errorf("start %d: %w", bi.ID(), wrapActivatorErr(ErrActivatorStartFailed, err))
	}

	bi.SetState(StateActive)
	e.fw.emitBundleEvent(ctx, BundleEventStarted, bi)
	return nil
}

// Stop implements spec.md §4.4 "Stop", symmetric to Start.
func (e *LifecycleEngine) Stop(ctx context.Context, bi *BundleInfo, record bool) error {
	if bi.IsExtension() {
		return nil
	}
	token := e.fw.locks.NewToken()
	if err := e.fw.locks.AcquireBundleLock(ctx, bi.ID(), token); err != nil {
		return err
	}
	defer func() { _ = e.fw.locks.ReleaseBundleLock(bi.ID(), token) }()

	switch bi.State() {
	case StateUninstalled:
		return fmt.Errorf("stop %d: %w", bi.ID(), ErrBundleUninstalled)
	case StateStarting, StateStopping:
		return fmt.Errorf("stop %d: %w", bi.ID(), ErrConcurrentLifecycleOp)
	case StateInstalled, StateResolved:
		if record {
			bi.SetPersistentState(PersistentInstalled)
			_ = e.persistState(bi)
		}
		return nil
	}

	bi.SetState(StateStopping)
	e.fw.emitBundleEvent(ctx, BundleEventStopping, bi)

	m := bi.CurrentModule()
	bc := &BundleContext{bundle: bi.Bundle(), framework: e.fw}
	var activatorErr error
	if m != nil && m.Activator != nil {
		activatorErr = m.Activator.Stop(ctx, bc)
	}
	e.cleanupBundleServices(ctx, bi)

	bi.SetState(StateResolved)
	if record {
		bi.SetPersistentState(PersistentInstalled)
		_ = e.persistState(bi)
	}
	e.fw.emitBundleEvent(ctx, BundleEventStopped, bi)

	if activatorErr != nil {
		return fmt.Errorf("stop %d: %w", bi.ID(), wrapActivatorErr(ErrActivatorStopFailed, activatorErr))
	}
	return nil
}

// cleanupBundleServices unregisters services this bundle registered,
// tolerating registry errors since cleanup must never block a lifecycle
// transition from completing (spec.md §4.4 "remove its listeners" etc.).
func (e *LifecycleEngine) cleanupBundleServices(ctx context.Context, bi *BundleInfo) {
	entries, err := e.fw.registry.List(ctx)
	if err != nil {
		return
	}
	name := bi.Bundle().SymbolicName()
	for _, entry := range entries {
		if entry.Registration.RegisteredBy == name {
			if err := e.fw.registry.Unregister(ctx, entry.ActualName); err != nil {
				e.fw.logger.Warn("failed to unregister service during cleanup", "bundleID", bi.ID(), "service", entry.ActualName, "error", err)
			}
		}
	}
}

func wrapActivatorErr(sentinel, cause error) error {
	return fmt.Errorf("%w: %v", sentinel, cause)
}

func (e *LifecycleEngine) persistState(bi *BundleInfo) error {
	archive, err := e.fw.cacheStore.Get(bi.ID())
	if err != nil {
		return err
	}
	return archive.SetPersistentState(int(bi.PersistentState()))
}

// Update implements spec.md §4.4 "Update".
func (e *LifecycleEngine) Update(ctx context.Context, bi *BundleInfo, stream io.Reader, manifest map[string]string, nativeLibs []string) error {
	token := e.fw.locks.NewToken()
	if err := e.fw.locks.AcquireBundleLock(ctx, bi.ID(), token); err != nil {
		return err
	}
	defer func() { _ = e.fw.locks.ReleaseBundleLock(bi.ID(), token) }()

	priorState := bi.State()
	updateLocation := bi.Location()
	if headers := bi.Headers(""); headers[HeaderUpdateLocation] != "" {
		updateLocation = headers[HeaderUpdateLocation]
	}

	if err := e.stopLocked(ctx, bi, false); err != nil {
		return fmt.Errorf("update %d: stop: %w", bi.ID(), err)
	}

	archive, err := e.fw.cacheStore.Get(bi.ID())
	if err != nil {
		return fmt.Errorf("update %d: %w", bi.ID(), ErrArchiveNotFound)
	}
	if err := archive.Revise(updateLocation, stream, manifest, nativeLibs); err != nil {
		return fmt.Errorf("update %d: revise: %w", bi.ID(), ErrCacheFailure)
	}

	module, buildErr := e.buildModule(bi, archive)
	if buildErr != nil {
		if ok, rbErr := archive.RollbackRevise(); rbErr != nil || !ok {
			e.fw.logger.Error("rollback_revise failed after update error", "bundleID", bi.ID(), "error", rbErr)
		}
		e.restoreAfterFailedUpdate(ctx, bi, priorState)
		return buildErr
	}

	if bi.IsExtension() {
		if err := e.attachExtension(bi, module); err != nil {
			if ok, rbErr := archive.RollbackRevise(); rbErr != nil || !ok {
				e.fw.logger.Error("rollback_revise failed after extension attach error", "bundleID", bi.ID(), "error", rbErr)
			}
			e.restoreAfterFailedUpdate(ctx, bi, priorState)
			return err
		}
	}

	bi.SetCurrentModule(module)
	bi.SetState(StateInstalled)
	bi.SetRemovalPending(true)
	e.fw.emitBundleEvent(ctx, BundleEventUnresolved, bi)
	e.fw.emitBundleEvent(ctx, BundleEventUpdated, bi)

	if !e.anyLiveDependent(bi) {
		if err := e.fw.refresh.refreshWithToken(ctx, []*BundleInfo{bi}, token); err != nil {
			e.fw.logger.Warn("immediate refresh after update failed", "bundleID", bi.ID(), "error", err)
		}
	}

	if priorState == StateActive {
		if err := e.startLocked(ctx, bi, false); err != nil {
			return fmt.Errorf("update %d: restart: %w", bi.ID(), err)
		}
	}
	return nil
}

// restoreAfterFailedUpdate undoes stopLocked's STARTING/ACTIVE→RESOLVED
// transition once the revise it was guarding against has been rolled back,
// so a failed update leaves the bundle exactly as it found it (spec.md
// §4.4 Update, §8 scenario "bundle state restored to prior state"). Only
// StateActive needs restarting: stopLocked is a no-op for every other
// prior state, so the state is already back where it started.
func (e *LifecycleEngine) restoreAfterFailedUpdate(ctx context.Context, bi *BundleInfo, priorState State) {
	if priorState != StateActive || bi.State() == StateActive {
		return
	}
	if err := e.startLocked(ctx, bi, false); err != nil {
		e.fw.logger.Error("failed to restart bundle after rolled-back update", "bundleID", bi.ID(), "error", err)
	}
}

// anyLiveDependent reports whether any retired revision of bi's module
// still has dependents (spec.md §4.4 Update: "if no other live module
// depends on any of this bundle's modules").
func (e *LifecycleEngine) anyLiveDependent(bi *BundleInfo) bool {
	for _, m := range bi.StaleModules() {
		if m.HasDependents() {
			return true
		}
	}
	return false
}

// Uninstall implements spec.md §4.4 "Uninstall".
func (e *LifecycleEngine) Uninstall(ctx context.Context, bi *BundleInfo) error {
	token := e.fw.locks.NewToken()
	if err := e.fw.locks.AcquireBundleLock(ctx, bi.ID(), token); err != nil {
		return err
	}
	defer func() { _ = e.fw.locks.ReleaseBundleLock(bi.ID(), token) }()

	if bi.State() == StateUninstalled {
		return fmt.Errorf("uninstall %d: %w", bi.ID(), ErrBundleUninstalled)
	}
	if bi.ID() == SystemBundleID {
		return fmt.Errorf("uninstall %d: %w", bi.ID(), ErrSystemBundleUninstall)
	}

	if bi.IsExtension() {
		bi.SetPersistentState(PersistentUninstalled)
		_ = e.persistState(bi)
		return nil
	}

	if err := e.stopLocked(ctx, bi, true); err != nil {
		e.fw.emitFrameworkEvent(ctx, FrameworkEventError, err)
	}

	e.fw.mu.Lock()
	delete(e.fw.installed, bi.ID())
	delete(e.fw.byLocation, bi.Location())
	e.fw.mu.Unlock()

	bi.SetPersistentState(PersistentUninstalled)
	bi.SetRemovalPending(true)
	if m := bi.CurrentModule(); m != nil {
		m.mu.Lock()
		m.stale = true
		m.mu.Unlock()
	}

	e.fw.uninstalledMu.Lock()
	e.fw.uninstalled = append(e.fw.uninstalled, bi)
	e.fw.uninstalledMu.Unlock()

	bi.SetState(StateUninstalled)
	_ = e.persistState(bi)
	e.fw.emitBundleEvent(ctx, BundleEventUninstalled, bi)

	if !e.hasAnyDependents(bi) {
		if err := e.fw.refresh.refreshWithToken(ctx, []*BundleInfo{bi}, token); err != nil {
			e.fw.logger.Warn("immediate refresh after uninstall failed", "bundleID", bi.ID(), "error", err)
		}
	}
	return nil
}

func (e *LifecycleEngine) hasAnyDependents(bi *BundleInfo) bool {
	if m := bi.CurrentModule(); m != nil && m.HasDependents() {
		return true
	}
	return e.anyLiveDependent(bi)
}

// stopLocked/startLocked are Stop/Start without re-acquiring the bundle
// lock, for callers (Update, Uninstall) that already hold it.
func (e *LifecycleEngine) stopLocked(ctx context.Context, bi *BundleInfo, record bool) error {
	switch bi.State() {
	case StateInstalled, StateResolved, StateUninstalled:
		if record {
			bi.SetPersistentState(PersistentInstalled)
			_ = e.persistState(bi)
		}
		return nil
	}
	bi.SetState(StateStopping)
	e.fw.emitBundleEvent(ctx, BundleEventStopping, bi)

	m := bi.CurrentModule()
	bc := &BundleContext{bundle: bi.Bundle(), framework: e.fw}
	var activatorErr error
	if m != nil && m.Activator != nil {
		activatorErr = m.Activator.Stop(ctx, bc)
	}
	e.cleanupBundleServices(ctx, bi)
	bi.SetState(StateResolved)
	if record {
		bi.SetPersistentState(PersistentInstalled)
		_ = e.persistState(bi)
	}
	e.fw.emitBundleEvent(ctx, BundleEventStopped, bi)
	if activatorErr != nil {
		return wrapActivatorErr(ErrActivatorStopFailed, activatorErr)
	}
	return nil
}

func (e *LifecycleEngine) startLocked(ctx context.Context, bi *BundleInfo, record bool) error {
	if record {
		bi.SetPersistentState(PersistentActive)
		_ = e.persistState(bi)
	}
	if bi.StartLevel() > e.fw.StartLevel() {
		if !record {
			return fmt.Errorf("%w", ErrInvalidStateTransition)
		}
		return nil
	}
	switch bi.State() {
	case StateActive:
		return nil
	case StateInstalled:
		if err := e.resolveLocked(ctx, bi); err != nil {
			return err
		}
	}
	if bi.State() != StateResolved {
		return fmt.Errorf("%w", ErrResolveFailed)
	}
	bi.SetState(StateStarting)
	e.fw.emitBundleEvent(ctx, BundleEventStarting, bi)
	m := bi.CurrentModule()
	bc := &BundleContext{bundle: bi.Bundle(), framework: e.fw}
	if err := m.Activator.Start(ctx, bc); err != nil {
		bi.SetState(StateResolved)
		e.cleanupBundleServices(ctx, bi)
		return wrapActivatorErr(ErrActivatorStartFailed, err)
	}
	bi.SetState(StateActive)
	e.fw.emitBundleEvent(ctx, BundleEventStarted, bi)
	return nil
}

// reloadFromCache reconstructs BundleInfo records for every archive the
// cache already had on disk when the framework was built, so bundle_id
// and persistent_state survive a process restart (spec.md §3 invariant 3).
func (f *Framework) reloadFromCache() error {
	for _, archive := range f.cacheStore.GetArchives() {
		if archive.ID() == SystemBundleID {
			continue
		}
		rev, revErr := archive.CurrentRevision()
		var manifest map[string]string
		if revErr == nil {
			manifest, _ = rev.Manifest()
		}
		if _, err := f.engine.Install(context.Background(), archive.OriginalLocation(), nil, manifest, nil, archive.ID()); err != nil {
			f.logger.Warn("failed to reload archive from cache", "archiveID", archive.ID(), "error", err)
		}
	}
	return nil
}
