package modular

import "time"

// State is the lifecycle state of a bundle (spec.md §3 "Lifecycle state").
type State int

const (
	StateInstalled State = iota
	StateResolved
	StateStarting
	StateActive
	StateStopping
	StateUninstalled
)

func (s State) String() string {
	switch s {
	case StateInstalled:
		return "INSTALLED"
	case StateResolved:
		return "RESOLVED"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	case StateUninstalled:
		return "UNINSTALLED"
	default:
		return "UNKNOWN"
	}
}

// PersistentState is the remembered running intent, independent of the
// transient lifecycle State (spec.md §3 invariant 5).
type PersistentState int

const (
	PersistentInstalled PersistentState = iota
	PersistentActive
	PersistentUninstalled
)

func (p PersistentState) String() string {
	switch p {
	case PersistentInstalled:
		return "installed"
	case PersistentActive:
		return "active"
	case PersistentUninstalled:
		return "uninstalled"
	default:
		return "unknown"
	}
}

// Bundle is the identity a caller manipulates (spec.md §3). It is a thin,
// read-mostly view over the BundleInfo the framework actually mutates;
// callers fetch one from Framework.GetBundle / GetBundles and query it via
// these accessors rather than touching BundleInfo fields directly.
type Bundle struct {
	info *BundleInfo
}

// ID returns the bundle's immutable, monotonic identifier.
func (b *Bundle) ID() int64 { return b.info.ID() }

// Location returns the opaque install-source string, unique among installed bundles.
func (b *Bundle) Location() string { return b.info.Location() }

// SymbolicName returns the manifest-declared symbolic name, or "" if unresolved.
func (b *Bundle) SymbolicName() string {
	m := b.info.CurrentModule()
	if m == nil {
		return ""
	}
	return m.Definition.SymbolicName
}

// Version returns the manifest-declared version, or "" if unresolved.
func (b *Bundle) Version() string {
	m := b.info.CurrentModule()
	if m == nil {
		return ""
	}
	return m.Definition.Version
}

// State returns the current transient lifecycle state.
func (b *Bundle) State() State { return b.info.State() }

// PersistentState returns the remembered running intent.
func (b *Bundle) PersistentState() PersistentState { return b.info.PersistentState() }

// StartLevel returns the bundle's configured start level.
func (b *Bundle) StartLevel() int { return b.info.StartLevel() }

// IsExtension reports whether this is an extension bundle.
func (b *Bundle) IsExtension() bool { return b.info.IsExtension() }

// LastModified returns the last-modified timestamp (install/update/uninstall).
func (b *Bundle) LastModified() time.Time { return b.info.LastModified() }

// Headers returns the raw manifest headers: "%key" values are not
// substituted (BundleInfo.Headers with the empty locale).
func (b *Bundle) Headers() map[string]string { return b.info.Headers("") }

// HeadersForLocale resolves manifest headers, substituting localized values
// per spec.md §4.2 "Localized headers".
func (b *Bundle) HeadersForLocale(locale string) map[string]string { return b.info.Headers(locale) }

// ProtectionDomain returns the opaque protection domain handed to a
// configured PermissionProvider; nil if none is attached.
func (b *Bundle) ProtectionDomain() any { return b.info.ProtectionDomain() }
