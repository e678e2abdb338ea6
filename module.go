package modular

import (
	"io"
	"sync"
)

// ModuleDefinition is the resolver-facing description of one bundle
// revision: its identity and the capabilities/requirements a Resolver
// matches against (spec.md glossary "Module").
type ModuleDefinition struct {
	SymbolicName string
	Version      string

	// ExportedPackages and ImportedPackages are the package-level
	// capability/requirement pair spec.md §6's "package import permission"
	// check and the default Resolver both operate on.
	ExportedPackages []string
	ImportedPackages []string

	// RequiredExecutionEnvironment, if non-empty, must be satisfied by the
	// framework's framework.executionenvironment configuration (spec.md §6).
	RequiredExecutionEnvironment []string

	// NativeLibraries lists content paths the activator expects to load;
	// install and update fail with ErrNativeLibraryMissing (raised while
	// the manifest is parsed) if any is absent from the revision's content.
	NativeLibraries []string
}

// Module is the per-revision object the Resolver operates on and that wires
// a bundle's content to its activator (spec.md §3 "Module", §4.4 "resolve").
// A bundle gets a new Module each time it is installed, updated, or
// refreshed; the old one survives as long as other modules still import
// from it (Module.dependents).
type Module struct {
	mu sync.Mutex

	Bundle     *BundleInfo
	Definition ModuleDefinition
	Activator  Activator

	// Wiring is non-nil once the Resolver has successfully resolved this
	// module; nil means UNRESOLVED.
	Wiring *Wiring

	// dependents are modules that import packages from, or require, this
	// module; RefreshEngine walks this set to compute the transitive
	// closure of bundles a refresh must restart (spec.md §4.5).
	dependents map[*Module]struct{}

	// stale is set once a newer revision has replaced this one in its
	// BundleInfo but this revision is still wired into some dependent.
	stale bool
}

// NewModule creates an unresolved revision for the given bundle.
func NewModule(bundle *BundleInfo, def ModuleDefinition, act Activator) *Module {
	return &Module{
		Bundle:     bundle,
		Definition: def,
		Activator:  act,
		dependents: make(map[*Module]struct{}),
	}
}

// IsResolved reports whether the Resolver has wired this module.
func (m *Module) IsResolved() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Wiring != nil
}

// IsStale reports whether a newer revision has superseded this one.
func (m *Module) IsStale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// AddDependent records that dep imports from or requires m.
func (m *Module) AddDependent(dep *Module) {
	m.mu.Lock()
	m.dependents[dep] = struct{}{}
	m.mu.Unlock()
}

// RemoveDependent removes a previously recorded dependency edge.
func (m *Module) RemoveDependent(dep *Module) {
	m.mu.Lock()
	delete(m.dependents, dep)
	m.mu.Unlock()
}

// HasDependents reports whether any other module still wires to m.
func (m *Module) HasDependents() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dependents) > 0
}

// Dependents returns a snapshot of the modules currently wired to m.
func (m *Module) Dependents() []*Module {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Module, 0, len(m.dependents))
	for d := range m.dependents {
		out = append(out, d)
	}
	return out
}

// Wiring is the outcome the Resolver hands back on a successful resolve: the
// set of other modules this one is wired to, keyed by the capability it
// satisfied (spec.md §1 "Resolver (external contract)").
type Wiring struct {
	// Providers maps an imported package name to the Module exporting it.
	Providers map[string]*Module
}

// Resolver is the external contract the framework consumes to decide
// whether a module's requirements can be satisfied (spec.md §1 "explicitly
// out of scope: Resolver"). LifecycleEngine calls Resolve during resolve()
// and expects either a populated Wiring or an error explaining the gap.
type Resolver interface {
	Resolve(m *Module, candidates []*Module) (*Wiring, error)
}

// ManifestParser is the external contract that turns raw bundle content
// (spec.md's Revision, in the cache package) into a ModuleDefinition.
// Framework.Install calls it once per install/update before creating the
// Module.
type ManifestParser interface {
	Parse(content RevisionContent) (ModuleDefinition, error)
}

// RevisionContent is the minimal view of bundle content a ManifestParser
// needs; cache.Revision implementations satisfy it. Open additionally lets
// BundleInfo.Headers read localization property resources (spec.md §4.2).
type RevisionContent interface {
	Manifest() (map[string]string, error)
	HasEntry(path string) bool
	Open(path string) (io.ReadCloser, error)
}
