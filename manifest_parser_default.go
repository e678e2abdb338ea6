package modular

import "strings"

// Manifest header names this package's default ManifestParser understands.
// Deliberately the same vocabulary OSGi manifests use, since spec.md's
// glossary and §4.4 ("symbolic_name + version", "Bundle-UpdateLocation",
// "Bundle-Activator") assume it.
const (
	HeaderSymbolicName        = "Bundle-SymbolicName"
	HeaderVersion              = "Bundle-Version"
	HeaderManifestVersion      = "Bundle-ManifestVersion"
	HeaderExportPackage        = "Export-Package"
	HeaderImportPackage        = "Import-Package"
	HeaderRequiredExecutionEnv = "Bundle-RequiredExecutionEnvironment"
	HeaderNativeCode           = "Bundle-NativeCode"
	HeaderActivator            = "Bundle-Activator"
	HeaderUpdateLocation       = "Bundle-UpdateLocation"
)

// DefaultManifestParser turns manifest headers into a ModuleDefinition by
// splitting the comma-separated package/environment/native-code headers
// OSGi manifests use. It performs no class loading — Activator
// instantiation from HeaderActivator is the framework's job
// (activator_registry.go), since that requires a process-specific
// registration step this package can't assume.
type DefaultManifestParser struct{}

// NewDefaultManifestParser constructs the header-splitting ManifestParser.
func NewDefaultManifestParser() *DefaultManifestParser { return &DefaultManifestParser{} }

// Parse implements ManifestParser.
func (p *DefaultManifestParser) Parse(content RevisionContent) (ModuleDefinition, error) {
	headers, err := content.Manifest()
	if err != nil {
		return ModuleDefinition{}, err
	}

	def := ModuleDefinition{
		SymbolicName:                 headers[HeaderSymbolicName],
		Version:                      headers[HeaderVersion],
		ExportedPackages:             splitHeaderList(headers[HeaderExportPackage]),
		ImportedPackages:             splitHeaderList(headers[HeaderImportPackage]),
		RequiredExecutionEnvironment: splitHeaderList(headers[HeaderRequiredExecutionEnv]),
		NativeLibraries:              splitHeaderList(headers[HeaderNativeCode]),
	}

	for _, lib := range def.NativeLibraries {
		if !content.HasEntry(lib) {
			return ModuleDefinition{}, ErrNativeLibraryMissing
		}
	}

	return def, nil
}

func splitHeaderList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
