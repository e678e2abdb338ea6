package modular

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocontainer/modular/cache"
	"github.com/gocontainer/modular/config"
	"github.com/gocontainer/modular/health"
	"github.com/gocontainer/modular/lifecycle"
	"github.com/gocontainer/modular/registry"
)

// SystemBundleID is the reserved id of the always-present system bundle
// (spec.md §3 invariant 7).
const SystemBundleID int64 = 0

// PermissionProvider is the optional external contract spec.md §9 Open
// Question (c) leaves to implementers: when configured, resolve() must
// verify a module's exported packages imply PackagePermission.EXPORT
// before delegating to the Resolver. A Framework with none configured
// skips the check entirely (DESIGN.md decision (c)).
type PermissionProvider interface {
	CheckExport(symbolicName string, exportedPackages []string) error
}

// Framework is the container itself: the composition root that owns the
// lock manager, bundle cache, service registry, event dispatcher, health
// aggregator and configuration, and delegates lifecycle operations to its
// three engines (spec.md §2 "Control flow"). Grounded on the teacher's
// StdApplication (application.go) for the field-holder-plus-delegation
// shape and ApplicationLifecycle for splitting lifecycle concerns into a
// dedicated type that holds a back-reference to the container.
type Framework struct {
	mu         sync.RWMutex // priority-2 lock: installed map + location index
	installed  map[int64]*BundleInfo
	byLocation map[string]*BundleInfo

	uninstalledMu sync.Mutex // priority-3 lock
	uninstalled   []*BundleInfo

	locks          *LockManager
	cacheStore     *cache.Cache
	resolver       Resolver
	manifestParser ManifestParser
	permission     PermissionProvider
	registry       registry.ServiceRegistry
	dispatcher     *lifecycle.Dispatcher
	healthAgg      *health.Aggregator
	logger         Logger
	config         *Configuration
	configSources  []*config.ConfigSource

	engine     *LifecycleEngine
	refresh    *RefreshEngine
	levels     *StartLevelController
	activators *ActivatorRegistry

	system *BundleInfo

	startLevel       int32 // current framework start level, atomic
	targetStartLevel int32

	startedMu     sync.Mutex
	started       bool
	stopRequested bool
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// newFramework assembles a Framework from resolved options; called only by
// Build (builder.go), which NewFramework (framework_options.go) goes
// through, after defaults have been filled in.
func newFramework(cfg *Configuration, sources []*config.ConfigSource, logger Logger, cacheStore *cache.Cache, resolver Resolver, parser ManifestParser, perm PermissionProvider, reg registry.ServiceRegistry, dispatcher *lifecycle.Dispatcher, activators *ActivatorRegistry) *Framework {
	if activators == nil {
		activators = NewActivatorRegistry()
	}
	fw := &Framework{
		installed:      make(map[int64]*BundleInfo),
		byLocation:     make(map[string]*BundleInfo),
		locks:          NewLockManager(),
		cacheStore:     cacheStore,
		resolver:       resolver,
		manifestParser: parser,
		permission:     perm,
		registry:       reg,
		dispatcher:     dispatcher,
		logger:         logger,
		config:         cfg,
		configSources:  sources,
		activators:     activators,
		stopCh:         make(chan struct{}),
	}
	fw.engine = &LifecycleEngine{fw: fw}
	fw.refresh = &RefreshEngine{fw: fw}
	fw.levels = NewStartLevelController(fw)

	fw.system = NewBundleInfo(SystemBundleID, "system:framework", 0)
	fw.system.SetExtension(false)
	fw.installed[SystemBundleID] = fw.system
	fw.byLocation[fw.system.Location()] = fw.system

	checker := NewBundleHealthChecker(fw.bundleSnapshot, fw.StartLevel)
	if agg, err := NewFrameworkHealthAggregator(checker); err == nil {
		fw.healthAgg = agg
	}

	atomic.StoreInt32(&fw.startLevel, int32(cfg.StartLevelFramework))
	atomic.StoreInt32(&fw.targetStartLevel, int32(cfg.StartLevelFramework))
	return fw
}

// bundleSnapshot implements the accessor BundleHealthChecker needs without
// exposing the live map to it.
func (f *Framework) bundleSnapshot(ctx context.Context) ([]BundleSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]BundleSnapshot, 0, len(f.installed))
	for _, bi := range f.installed {
		if bi.ID() == SystemBundleID {
			continue
		}
		out = append(out, BundleSnapshot{
			ID:              bi.ID(),
			SymbolicName:    bi.Bundle().SymbolicName(),
			State:           bi.State(),
			PersistentState: bi.PersistentState(),
			StartLevel:      bi.StartLevel(),
		})
	}
	return out, nil
}

// StartLevel returns the framework's current start level (spec.md §4.6).
func (f *Framework) StartLevel() int { return int(atomic.LoadInt32(&f.startLevel)) }

// HealthAggregator exposes the wired health.Aggregator for readiness/
// liveness probes (spec.md §10 ambient stack).
func (f *Framework) HealthAggregator() *health.Aggregator { return f.healthAgg }

// Dispatcher exposes the underlying lifecycle.Dispatcher for callers that
// need to query event history directly rather than through RegisterObserver.
func (f *Framework) Dispatcher() *lifecycle.Dispatcher { return f.dispatcher }

// Init starts the background services a running framework needs (event
// dispatcher, start-level worker, cache janitor already started by Open)
// without transitioning any bundle (spec.md §6 "init()"). It also
// re-resolves the §6 configuration keys through LoadConfiguration, so an
// operator editing the profile file or process environment between Build
// and Init sees those changes reflected before the framework starts
// bundles against them.
func (f *Framework) Init(ctx context.Context) error {
	if len(f.configSources) > 0 {
		if err := LoadConfiguration(ctx, f.config, f.configSources...); err != nil {
			f.logger.Warn("configuration reload failed, keeping last-known values", "error", err)
		}
	}
	if f.cacheStore != nil && f.cacheStore.Dirty() {
		if err := f.cacheStore.Rescan(); err != nil {
			f.logger.Warn("cache rescan failed", "error", err)
		} else if err := f.reloadFromCache(); err != nil {
			f.logger.Warn("reload from cache failed", "error", err)
		}
		f.cacheStore.ResetDirty()
	}
	if err := f.dispatcher.Start(ctx); err != nil {
		return err
	}
	f.levels.Start()
	f.system.SetState(StateActive)
	return nil
}

// Start brings the framework to its target start level, starting every
// persistently-active bundle whose start level qualifies (spec.md §6
// "start()"/"start(options)"). A targetLevel of zero or less keeps the
// configured startlevel.framework default.
func (f *Framework) Start(ctx context.Context, targetLevel int) error {
	f.startedMu.Lock()
	if f.started {
		f.startedMu.Unlock()
		return ErrApplicationAlreadyStarted
	}
	f.started = true
	f.startedMu.Unlock()

	if targetLevel <= 0 {
		targetLevel = int(atomic.LoadInt32(&f.targetStartLevel))
	}
	if err := f.Init(ctx); err != nil {
		return err
	}
	if err := f.levels.SetStartLevelAndWait(ctx, targetLevel); err != nil {
		return err
	}
	f.emitFrameworkEvent(ctx, FrameworkEventStarted, nil)
	return nil
}

// Stop brings every bundle down and closes the cache (spec.md §6
// "stop()"/"stop(options)"), returning as soon as that work has been
// handed off; WaitForStop blocks until the shutdown gate opens. It runs on
// its own goroutine internally so WaitForStop can observe completion
// independently of the caller that invoked Stop (spec.md §5 "shutdown
// runs on its own worker so the stopping thread returns immediately").
func (f *Framework) Stop(ctx context.Context) error {
	f.startedMu.Lock()
	if !f.started {
		f.startedMu.Unlock()
		return ErrApplicationNotStarted
	}
	f.started = false
	f.stopRequested = true
	f.startedMu.Unlock()

	go func() {
		_ = f.levels.SetStartLevelAndWait(ctx, 0)
		f.system.SetState(StateResolved)
		f.levels.Stop()
		if f.cacheStore != nil {
			_ = f.cacheStore.Close()
		}
		// Emit STOPPED while the dispatcher is still running, then stop it:
		// the dispatcher's event loop drains whatever is left in its buffer
		// when it sees the stop signal, so this event is still delivered.
		// dispatcher.Stop does not wait for that drain, so delivery can
		// finish after the shutdown gate below has opened.
		f.emitFrameworkEvent(ctx, FrameworkEventStopped, nil)
		_ = f.dispatcher.Stop(ctx)
		f.stopOnce.Do(func() { close(f.stopCh) })
	}()
	return nil
}

// WaitForStop blocks until the shutdown gate opens or timeout elapses
// (spec.md §5 "Cancellation / timeouts"). A negative timeout is an
// argument error.
func (f *Framework) WaitForStop(timeout time.Duration) error {
	if timeout < 0 {
		return ErrNegativeTimeout
	}
	if timeout == 0 {
		<-f.stopCh
		return nil
	}
	select {
	case <-f.stopCh:
		return nil
	case <-time.After(timeout):
		return ErrLockAcquireTimedOut
	}
}

// Install loads location's content into the cache and creates an
// INSTALLED bundle, or returns the existing bundle if location is already
// installed (spec.md §4.4 "Install", §6 "install(location, stream?)").
func (f *Framework) Install(ctx context.Context, location string, stream io.Reader, manifest map[string]string, nativeLibs []string) (*Bundle, error) {
	return f.engine.Install(ctx, location, stream, manifest, nativeLibs, 0)
}

// Resolve transitions bundle id from INSTALLED to RESOLVED (spec.md §4.4
// "Resolve").
func (f *Framework) Resolve(ctx context.Context, id int64) error {
	bi, err := f.bundleInfo(id)
	if err != nil {
		return err
	}
	return f.engine.Resolve(ctx, bi)
}

// ResolveBundles resolves every bundle named in targets, or every
// currently unresolved bundle if targets is nil (spec.md §6
// "resolve_bundles(targets)").
func (f *Framework) ResolveBundles(ctx context.Context, targets []int64) error {
	var lastErr error
	for _, bi := range f.resolveTargets(targets) {
		if err := f.engine.Resolve(ctx, bi); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (f *Framework) resolveTargets(targets []int64) []*BundleInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if targets == nil {
		out := make([]*BundleInfo, 0)
		for _, bi := range f.installed {
			if bi.State() == StateInstalled {
				out = append(out, bi)
			}
		}
		return out
	}
	out := make([]*BundleInfo, 0, len(targets))
	for _, id := range targets {
		if bi, ok := f.installed[id]; ok {
			out = append(out, bi)
		}
	}
	return out
}

// StartBundle persistently starts bundle id (spec.md §4.4 "Start").
func (f *Framework) StartBundle(ctx context.Context, id int64) error {
	bi, err := f.bundleInfo(id)
	if err != nil {
		return err
	}
	return f.engine.Start(ctx, bi, true)
}

// StopBundle persistently stops bundle id (spec.md §4.4 "Stop").
func (f *Framework) StopBundle(ctx context.Context, id int64) error {
	bi, err := f.bundleInfo(id)
	if err != nil {
		return err
	}
	return f.engine.Stop(ctx, bi, true)
}

// UpdateBundle installs a new revision of bundle id (spec.md §4.4 "Update").
func (f *Framework) UpdateBundle(ctx context.Context, id int64, stream io.Reader, manifest map[string]string, nativeLibs []string) error {
	bi, err := f.bundleInfo(id)
	if err != nil {
		return err
	}
	return f.engine.Update(ctx, bi, stream, manifest, nativeLibs)
}

// UninstallBundle removes bundle id (spec.md §4.4 "Uninstall").
func (f *Framework) UninstallBundle(ctx context.Context, id int64) error {
	bi, err := f.bundleInfo(id)
	if err != nil {
		return err
	}
	return f.engine.Uninstall(ctx, bi)
}

// RefreshPackages triggers a dependency-aware refresh (spec.md §4.5,
// §6 "refresh_packages(targets)").
func (f *Framework) RefreshPackages(ctx context.Context, targets []int64) error {
	bundles := f.resolveTargetsAny(targets)
	return f.refresh.Refresh(ctx, bundles)
}

func (f *Framework) resolveTargetsAny(targets []int64) []*BundleInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if targets == nil {
		return nil
	}
	out := make([]*BundleInfo, 0, len(targets))
	for _, id := range targets {
		if bi, ok := f.installed[id]; ok {
			out = append(out, bi)
		}
	}
	return out
}

// SetBundleStartLevel sets bundle id's start level (spec.md §4.6 "Per-
// bundle set_bundle_start_level").
func (f *Framework) SetBundleStartLevel(ctx context.Context, id int64, level int) error {
	bi, err := f.bundleInfo(id)
	if err != nil {
		return err
	}
	return f.levels.SetBundleStartLevel(ctx, bi, level)
}

// SetFrameworkStartLevel raises or lowers the framework's start level,
// returning once every affected bundle has been started or stopped
// (spec.md §4.6, §6 "start-level get/set").
func (f *Framework) SetFrameworkStartLevel(ctx context.Context, level int) error {
	return f.levels.SetStartLevelAndWait(ctx, level)
}

func (f *Framework) bundleInfo(id int64) (*BundleInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bi, ok := f.installed[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return bi, nil
}

// GetBundle looks up an installed bundle by id.
func (f *Framework) GetBundle(id int64) (*Bundle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bi, ok := f.installed[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return bi.Bundle(), nil
}

// GetBundleByLocation looks up an installed bundle by its install location.
func (f *Framework) GetBundleByLocation(location string) (*Bundle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bi, ok := f.byLocation[location]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return bi.Bundle(), nil
}

// GetBundles returns every currently installed bundle, including the
// system bundle.
func (f *Framework) GetBundles() []*Bundle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Bundle, 0, len(f.installed))
	for _, bi := range f.installed {
		out = append(out, bi.Bundle())
	}
	return out
}

// GetExportedPackages returns the package names every resolved, non-stale
// module currently exports, for callers inspecting the live capability set
// (spec.md §6 "get_exported_packages").
func (f *Framework) GetExportedPackages() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	for _, bi := range f.installed {
		m := bi.CurrentModule()
		if m == nil || !m.IsResolved() {
			continue
		}
		for _, pkg := range m.Definition.ExportedPackages {
			if _, ok := seen[pkg]; !ok {
				seen[pkg] = struct{}{}
				out = append(out, pkg)
			}
		}
	}
	return out
}

// GetImportingBundles returns the bundles whose current module imports
// from pkg (spec.md §6 "get_importing_bundles").
func (f *Framework) GetImportingBundles(pkg string) []*Bundle {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []*Bundle
	for _, bi := range f.installed {
		m := bi.CurrentModule()
		if m == nil {
			continue
		}
		for _, imp := range m.Definition.ImportedPackages {
			if imp == pkg {
				out = append(out, bi.Bundle())
				break
			}
		}
	}
	return out
}

// RegisterObserver subscribes obs to every event the dispatcher delivers,
// bridging this domain's Observer onto lifecycle.Dispatcher's generic
// EventObserver (spec.md §6 "listener register/unregister").
func (f *Framework) RegisterObserver(ctx context.Context, obs Observer) error {
	return f.dispatcher.RegisterObserver(ctx, &observerBridge{obs: obs})
}

// UnregisterObserver removes a previously registered observer by id.
func (f *Framework) UnregisterObserver(ctx context.Context, observerID string) error {
	return f.dispatcher.UnregisterObserver(ctx, observerID)
}

func (f *Framework) emitBundleEvent(ctx context.Context, kind BundleEventKind, bi *BundleInfo) {
	ev := BundleEvent{Kind: kind, BundleID: bi.ID(), Location: bi.Location(), Timestamp: time.Now()}
	if err := f.dispatcher.Dispatch(ctx, ev.toLifecycleEvent(eventCorrelationID(bi.ID()))); err != nil {
		f.logger.Error("failed to dispatch bundle event", "bundle", bi.ID(), "kind", kind, "error", err)
	}
}

func (f *Framework) emitFrameworkEvent(ctx context.Context, kind FrameworkEventKind, err error) {
	ev := FrameworkEvent{Kind: kind, Err: err, Timestamp: time.Now()}
	if dispErr := f.dispatcher.Dispatch(ctx, ev.toLifecycleEvent(eventCorrelationID(-1))); dispErr != nil {
		f.logger.Error("failed to dispatch framework event", "kind", kind, "error", dispErr)
	}
}

func eventCorrelationID(bundleID int64) string {
	return generateEventID() + ":" + strconv.FormatInt(bundleID, 10)
}

// observerBridge adapts this domain's Observer onto lifecycle.EventObserver,
// translating lifecycle.Event.Data back into BundleEvent/FrameworkEvent by
// event-type prefix.
type observerBridge struct {
	obs Observer
}

func (b *observerBridge) ID() string { return b.obs.ObserverID() }

func (b *observerBridge) Priority() int { return 0 }

func (b *observerBridge) EventTypes() []lifecycle.EventType { return nil }

func (b *observerBridge) OnEvent(ctx context.Context, event *lifecycle.Event) error {
	if kind, ok := reverseBundleEventType[event.Type]; ok {
		bundleID, _ := event.Data["bundle_id"].(int64)
		location, _ := event.Data["location"].(string)
		return b.obs.OnBundleEvent(ctx, BundleEvent{Kind: kind, BundleID: bundleID, Location: location, Timestamp: event.Timestamp})
	}
	if kind, ok := reverseFrameworkEventType[event.Type]; ok {
		var err error
		if event.Error != "" {
			err = errors.New(event.Error)
		}
		return b.obs.OnFrameworkEvent(ctx, FrameworkEvent{Kind: kind, Err: err, Timestamp: event.Timestamp})
	}
	return nil
}
