package modular

import "fmt"

// DefaultResolver is the in-repo Resolver used when Framework is built
// without an external one injected (spec.md §1 treats Resolver as an
// external collaborator, but a container with none wired would never
// resolve anything). It wires each imported package to the first
// candidate module, in the order given, that exports it, and fails
// closed when nothing exports a package.
type DefaultResolver struct{}

// NewDefaultResolver constructs the package-matching fallback Resolver.
func NewDefaultResolver() *DefaultResolver { return &DefaultResolver{} }

// Resolve implements Resolver by matching m's ImportedPackages against
// every candidate's ExportedPackages.
func (r *DefaultResolver) Resolve(m *Module, candidates []*Module) (*Wiring, error) {
	wiring := &Wiring{Providers: make(map[string]*Module)}

	for _, pkg := range m.Definition.ImportedPackages {
		provider := findExporter(pkg, candidates)
		if provider == nil {
			return nil, fmt.Errorf("resolve %s: no exporter for package %q: %w", m.Definition.SymbolicName, pkg, ErrResolveFailed)
		}
		wiring.Providers[pkg] = provider
		provider.AddDependent(m)
	}

	return wiring, nil
}

func findExporter(pkg string, candidates []*Module) *Module {
	for _, c := range candidates {
		for _, exported := range c.Definition.ExportedPackages {
			if exported == pkg {
				return c
			}
		}
	}
	return nil
}
