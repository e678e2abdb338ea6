package modular

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/gocontainer/modular/cache"
	"github.com/gocontainer/modular/config"
	"github.com/gocontainer/modular/lifecycle"
	"github.com/gocontainer/modular/registry"
)

// Option configures a Framework under construction, mirroring the
// teacher's functional-options ApplicationBuilder pattern (builder.go)
// rather than a single monolithic config struct, since most callers only
// need to override one or two of these.
type Option func(*frameworkSettings) error

type frameworkSettings struct {
	config         *Configuration
	configSources  []*config.ConfigSource
	skipConfigLoad bool
	logger         Logger
	cacheDir       string
	cacheOpts      []cache.Option
	resolver       Resolver
	manifestParser ManifestParser
	permission     PermissionProvider
	registry       registry.ServiceRegistry
	dispatcher     *lifecycle.Dispatcher
	activators     *ActivatorRegistry
}

// WithConfiguration overrides the default Configuration (spec.md §6
// "Configuration keys").
func WithConfiguration(cfg *Configuration) Option {
	return func(s *frameworkSettings) error {
		s.config = cfg
		return nil
	}
}

// WithConfigSources overrides the default env+profile-file source list
// LoadConfiguration feeds the Configuration from (spec.md §6 "first
// defaults, then file feeders, then environment feeders").
func WithConfigSources(sources ...*config.ConfigSource) Option {
	return func(s *frameworkSettings) error {
		s.configSources = sources
		return nil
	}
}

// WithoutConfigLoading skips LoadConfiguration entirely, leaving the
// Configuration exactly as given by WithConfiguration/DefaultConfiguration.
// Useful for tests that need a deterministic Configuration regardless of
// the process environment.
func WithoutConfigLoading() Option {
	return func(s *frameworkSettings) error {
		s.skipConfigLoad = true
		return nil
	}
}

// WithLogger overrides the default no-op Logger.
func WithLogger(logger Logger) Option {
	return func(s *frameworkSettings) error {
		s.logger = logger
		return nil
	}
}

// WithCacheDir sets the on-disk cache root (spec.md §6 "cache.dir").
func WithCacheDir(dir string, opts ...cache.Option) Option {
	return func(s *frameworkSettings) error {
		s.cacheDir = dir
		s.cacheOpts = opts
		return nil
	}
}

// WithResolver overrides the default package-export Resolver with an
// external one (spec.md §1 "Resolver (external contract)").
func WithResolver(r Resolver) Option {
	return func(s *frameworkSettings) error {
		s.resolver = r
		return nil
	}
}

// WithManifestParser overrides the default header-splitting ManifestParser.
func WithManifestParser(p ManifestParser) Option {
	return func(s *frameworkSettings) error {
		s.manifestParser = p
		return nil
	}
}

// WithPermissionProvider wires an optional package-export permission check
// into resolve() (spec.md §9 Open Question (c), DESIGN.md decision (c)).
func WithPermissionProvider(p PermissionProvider) Option {
	return func(s *frameworkSettings) error {
		s.permission = p
		return nil
	}
}

// WithServiceRegistry overrides the default registry.Registry.
func WithServiceRegistry(r registry.ServiceRegistry) Option {
	return func(s *frameworkSettings) error {
		s.registry = r
		return nil
	}
}

// WithActivatorRegistry overrides the default (empty) ActivatorRegistry,
// letting callers pre-register the activators their bundles' manifests
// name (activator_registry.go).
func WithActivatorRegistry(r *ActivatorRegistry) Option {
	return func(s *frameworkSettings) error {
		s.activators = r
		return nil
	}
}

// NewFramework builds a Framework from the given options, opening the
// bundle cache and reloading any archives already on disk (spec.md §4.1).
// Equivalent to building with FrameworkBuilder and calling Build with no
// further decorators (builder.go) — kept as the direct entry point for
// callers who don't need the builder's staged construction.
func NewFramework(opts ...Option) (*Framework, error) {
	return NewFrameworkBuilder().With(opts...).Build()
}

func resolveSettings(opts ...Option) (*frameworkSettings, error) {
	s := &frameworkSettings{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.config == nil {
		s.config = DefaultConfiguration()
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.resolver == nil {
		s.resolver = NewDefaultResolver()
	}
	if s.manifestParser == nil {
		s.manifestParser = NewDefaultManifestParser()
	}
	if s.registry == nil {
		s.registry = registry.NewRegistry(nil)
	}
	if s.dispatcher == nil {
		s.dispatcher = lifecycle.NewDispatcher(nil)
	}

	if !s.skipConfigLoad {
		if s.configSources == nil {
			s.configSources = DefaultConfigSources(profileFilePath(s.config.CacheProfileDir, s.config.CacheProfile))
		}
		if err := LoadConfiguration(context.Background(), s.config, s.configSources...); err != nil {
			return nil, fmt.Errorf("framework: load configuration: %w", err)
		}
	} else {
		s.configSources = nil
	}

	if s.cacheDir == "" {
		switch {
		case s.config.CacheDir != "":
			s.cacheDir = s.config.CacheDir
		case s.config.CacheProfileDir != "" && s.config.CacheProfile != "":
			s.cacheDir = filepath.Join(s.config.CacheProfileDir, s.config.CacheProfile)
		default:
			return nil, fmt.Errorf("framework: cache dir not configured: %w", ErrCacheFailure)
		}
	}
	return s, nil
}
