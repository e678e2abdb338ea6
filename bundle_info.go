package modular

import (
	"bufio"
	"strings"
	"sync"
	"time"
)

// BundleInfo is the mutable state record backing a Bundle (spec.md §4.2).
// The framework holds exactly one BundleInfo per installed bundle id for the
// lifetime of the install; Bundle is a read-only handle onto it. All mutation
// goes through LifecycleEngine/RefreshEngine, which hold the bundle's lock
// (lock_manager.go) before calling any setter here.
type BundleInfo struct {
	mu sync.RWMutex

	id       int64
	location string

	state           State
	persistentState PersistentState
	startLevel      int
	isExtension     bool
	lastModified    time.Time

	// current is the currently-wired revision; previous holds revisions
	// kept alive only because something still depends on them (spec.md §3
	// invariant 3, "a bundle may have more than one revision in memory
	// during a refresh cycle").
	current  *Module
	previous []*Module

	// removalPending marks a bundle uninstalled while still wired to a
	// dependent; the archive is purged once RefreshEngine unwires it.
	removalPending bool

	headers          map[string]string
	localizedHeaders map[string]map[string]string

	// content is the current revision's resource tree, consulted by
	// Headers(locale) to resolve "%key" values against localization
	// property files (spec.md §4.2 "Localized headers"). nil for the
	// system bundle and for revisions Open can't serve (e.g. Jar).
	content RevisionContent

	// l10nCache holds one resolved-headers map per locale, invalidated
	// when lastModified advances past l10nCachedAt.
	l10nCache     map[string]map[string]string
	l10nCachedAt  time.Time

	protectionDomain any
}

// NewBundleInfo creates the state record for a newly installed bundle.
func NewBundleInfo(id int64, location string, startLevel int) *BundleInfo {
	return &BundleInfo{
		id:               id,
		location:         location,
		state:            StateInstalled,
		persistentState:  PersistentInstalled,
		startLevel:       startLevel,
		lastModified:     time.Now(),
		localizedHeaders: make(map[string]map[string]string),
	}
}

// Bundle returns the read-only handle for this record.
func (bi *BundleInfo) Bundle() *Bundle { return &Bundle{info: bi} }

func (bi *BundleInfo) ID() int64 { return bi.id }

func (bi *BundleInfo) Location() string {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.location
}

func (bi *BundleInfo) State() State {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.state
}

// SetState transitions the transient lifecycle state. Callers (the
// LifecycleEngine) are responsible for validating the transition; this is a
// plain setter, not a state machine.
func (bi *BundleInfo) SetState(s State) {
	bi.mu.Lock()
	bi.state = s
	bi.lastModified = time.Now()
	bi.mu.Unlock()
}

func (bi *BundleInfo) PersistentState() PersistentState {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.persistentState
}

func (bi *BundleInfo) SetPersistentState(p PersistentState) {
	bi.mu.Lock()
	bi.persistentState = p
	bi.mu.Unlock()
}

func (bi *BundleInfo) StartLevel() int {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.startLevel
}

func (bi *BundleInfo) SetStartLevel(level int) {
	bi.mu.Lock()
	bi.startLevel = level
	bi.mu.Unlock()
}

func (bi *BundleInfo) IsExtension() bool {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.isExtension
}

func (bi *BundleInfo) SetExtension(ext bool) {
	bi.mu.Lock()
	bi.isExtension = ext
	bi.mu.Unlock()
}

func (bi *BundleInfo) LastModified() time.Time {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.lastModified
}

// CurrentModule returns the revision currently wired for resolution, or nil
// if the bundle has never resolved.
func (bi *BundleInfo) CurrentModule() *Module {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.current
}

// SetCurrentModule replaces the wired revision, retiring the prior one to
// previous if it still has dependents (spec.md §4.5 "stale revisions").
func (bi *BundleInfo) SetCurrentModule(m *Module) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	if bi.current != nil && bi.current.HasDependents() {
		bi.current.stale = true
		bi.previous = append(bi.previous, bi.current)
	}
	bi.current = m
	bi.lastModified = time.Now()
}

// StaleModules returns retired revisions still kept alive by dependents.
func (bi *BundleInfo) StaleModules() []*Module {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	out := make([]*Module, len(bi.previous))
	copy(out, bi.previous)
	return out
}

// ClearStaleModules drops every retired revision, used by RefreshEngine
// after a purge has removed their backing archive directories — by that
// point every dependent has already been restarted against the newest
// revision, so pinning them alive no longer serves a purpose.
func (bi *BundleInfo) ClearStaleModules() {
	bi.mu.Lock()
	bi.previous = nil
	bi.mu.Unlock()
}

// DropStaleModule removes a retired revision once it has no more
// dependents, called by RefreshEngine after it purges the revision.
func (bi *BundleInfo) DropStaleModule(m *Module) {
	bi.mu.Lock()
	defer bi.mu.Unlock()
	for i, p := range bi.previous {
		if p == m {
			bi.previous = append(bi.previous[:i], bi.previous[i+1:]...)
			return
		}
	}
}

func (bi *BundleInfo) RemovalPending() bool {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.removalPending
}

func (bi *BundleInfo) SetRemovalPending(pending bool) {
	bi.mu.Lock()
	bi.removalPending = pending
	bi.mu.Unlock()
}

// SetHeaders installs the default-locale manifest headers, and the
// per-locale override maps used by Headers(locale). Also clears the
// resolved-headers cache, since the headers it was built from changed.
func (bi *BundleInfo) SetHeaders(headers map[string]string, localized map[string]map[string]string) {
	bi.mu.Lock()
	bi.headers = headers
	if localized != nil {
		bi.localizedHeaders = localized
	}
	bi.l10nCache = nil
	bi.mu.Unlock()
}

// SetContent records the current revision's resource tree, used by
// Headers(locale) to load localization property files. Called whenever
// SetCurrentModule installs a new revision.
func (bi *BundleInfo) SetContent(content RevisionContent) {
	bi.mu.Lock()
	bi.content = content
	bi.l10nCache = nil
	bi.mu.Unlock()
}

// Headers resolves manifest headers for locale (spec.md §4.2 "Localized
// headers"): any value beginning with "%" is looked up, stripped of its
// "%", in a properties set merged from resources named
// "<base>_<loc1>_<loc2>…_<locN>.properties" (progressively longer locale
// suffixes starting from base), where base is the Bundle-Localization
// header or the OSGi-standard default. Unresolved keys render as the bare
// key. Results are cached per locale until lastModified advances. The empty
// locale returns the raw headers with no substitution.
func (bi *BundleInfo) Headers(locale string) map[string]string {
	bi.mu.Lock()
	defer bi.mu.Unlock()

	if bi.lastModified.After(bi.l10nCachedAt) {
		bi.l10nCache = nil
	}
	if locale == "" {
		out := make(map[string]string, len(bi.headers))
		for k, v := range bi.headers {
			out[k] = v
		}
		return out
	}
	if bi.l10nCache == nil {
		bi.l10nCache = make(map[string]map[string]string)
		bi.l10nCachedAt = time.Now()
	}
	if cached, ok := bi.l10nCache[locale]; ok {
		out := make(map[string]string, len(cached))
		for k, v := range cached {
			out[k] = v
		}
		return out
	}

	props := bi.loadLocalizationProperties(locale)
	out := make(map[string]string, len(bi.headers))
	for k, v := range bi.headers {
		out[k] = resolveLocalizedValue(v, props)
	}
	if over, ok := bi.localizedHeaders[locale]; ok {
		for k, v := range over {
			out[k] = v
		}
	}

	cached := make(map[string]string, len(out))
	for k, v := range out {
		cached[k] = v
	}
	bi.l10nCache[locale] = cached
	return out
}

// resolveLocalizedValue implements spec.md §4.2's "%key" substitution rule:
// a value not starting with "%" passes through unchanged; otherwise the key
// (value minus "%") is looked up in props, falling back to the bare key.
func resolveLocalizedValue(value string, props map[string]string) string {
	if !strings.HasPrefix(value, "%") {
		return value
	}
	key := strings.TrimPrefix(value, "%")
	if resolved, ok := props[key]; ok {
		return resolved
	}
	return key
}

// defaultLocalizationBase is the OSGi-standard default Bundle-Localization
// base name, used when the manifest doesn't declare one.
const defaultLocalizationBase = "OSGI-INF/l10n/bundle"

// loadLocalizationProperties merges base.properties with progressively
// longer locale-suffixed variants (spec.md §4.2), later (more specific)
// files overriding earlier ones. Missing or unreadable resources are
// skipped silently — localization is best-effort, not a hard dependency.
func (bi *BundleInfo) loadLocalizationProperties(locale string) map[string]string {
	if bi.content == nil {
		return nil
	}
	base := bi.headers["Bundle-Localization"]
	if base == "" {
		base = defaultLocalizationBase
	}

	merged := make(map[string]string)
	bi.mergeProperties(merged, base+".properties")

	var parts []string
	for _, seg := range strings.Split(locale, "_") {
		if seg == "" {
			continue
		}
		parts = append(parts, seg)
		bi.mergeProperties(merged, base+"_"+strings.Join(parts, "_")+".properties")
	}
	return merged
}

func (bi *BundleInfo) mergeProperties(dst map[string]string, resourcePath string) {
	f, err := bi.content.Open(resourcePath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		idx := strings.IndexAny(line, "=:")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key != "" {
			dst[key] = val
		}
	}
}

func (bi *BundleInfo) ProtectionDomain() any {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return bi.protectionDomain
}

func (bi *BundleInfo) SetProtectionDomain(pd any) {
	bi.mu.Lock()
	bi.protectionDomain = pd
	bi.mu.Unlock()
}
