package modular

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gocontainer/modular/config"
)

// ConfigProvider resolves the active Configuration, mirroring the
// teacher's minimal "GetConfig() any" shape but returning the concrete
// type this framework needs rather than an untyped value.
type ConfigProvider interface {
	GetConfig() *Configuration
}

// StdConfigProvider is the default ConfigProvider: a pointer the loader
// mutates in place and callers read from after LoadConfiguration runs.
type StdConfigProvider struct {
	cfg *Configuration
}

// NewStdConfigProvider wraps cfg (falling back to DefaultConfiguration if
// nil) in a ConfigProvider.
func NewStdConfigProvider(cfg *Configuration) *StdConfigProvider {
	if cfg == nil {
		cfg = DefaultConfiguration()
	}
	return &StdConfigProvider{cfg: cfg}
}

func (s *StdConfigProvider) GetConfig() *Configuration { return s.cfg }

// LoadConfiguration feeds cfg from the given sources, highest Priority
// last so later sources override earlier ones (spec.md §10 "first
// defaults, then file feeders, then environment feeders, last explicit
// overrides" — expressed here as ascending Priority, exactly as
// config.Loader.Load already sorts them).
func LoadConfiguration(ctx context.Context, cfg *Configuration, sources ...*config.ConfigSource) error {
	loader := config.NewLoader()
	for _, src := range sources {
		loader.AddSource(src)
	}
	loader.AddValidator(config.NewValidator())
	return loader.Load(ctx, cfg)
}

// DefaultConfigSources builds the source list spec.md §10 describes:
// environment variables last (highest priority, so explicit overrides
// win), an optional cache.profile-scoped YAML/TOML file first.
func DefaultConfigSources(profilePath string) []*config.ConfigSource {
	sources := []*config.ConfigSource{
		{Name: "environment", Type: "env", Priority: 100},
	}
	if profilePath != "" {
		sources = append([]*config.ConfigSource{
			{Name: "profile", Type: profileSourceType(profilePath), Location: profilePath, Priority: 10},
		}, sources...)
	}
	return sources
}

func profileSourceType(path string) string {
	switch {
	case hasSuffixAny(path, ".yaml", ".yml"):
		return "yaml"
	case hasSuffixAny(path, ".toml"):
		return "toml"
	case hasSuffixAny(path, ".json"):
		return "json"
	default:
		return "env"
	}
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if len(s) >= len(suf) && s[len(s)-len(suf):] == suf {
			return true
		}
	}
	return false
}

// profileFilePath resolves cache.profiledir + cache.profile to the
// profile-scoped configuration file spec.md §6 names (e.g. profiledir
// "/etc/bundles" + profile "prod" -> "/etc/bundles/prod.yaml"), probing
// each supported extension in turn. Returns "" if dir or profile is
// unset, or no matching file exists, leaving config resolution to fall
// through to defaults and the environment alone.
func profileFilePath(dir, profile string) string {
	if dir == "" || profile == "" {
		return ""
	}
	for _, ext := range []string{".yaml", ".yml", ".toml", ".json"} {
		candidate := filepath.Join(dir, profile+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
