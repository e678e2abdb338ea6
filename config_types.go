package modular

import "time"

// Configuration carries every key spec.md §6 "Configuration keys" names.
// The env feeder populates it through the `env:"..."` tags and the yaml
// feeder through the `yaml:"..."` tags (the dotted key names); the json
// feeder matches the Go field name, and the toml feeder matches the field
// name without regard to case.
type Configuration struct {
	// SystemBundleActivators lists activators run at system-bundle
	// start/stop, configured as fully-qualified names the framework's
	// activator registry resolves.
	SystemBundleActivators []string `env:"SYSTEM_BUNDLE_ACTIVATORS" yaml:"system_bundle.activators"`

	// LogLevel is integer verbosity 0..4 (spec.md §6 "log.level").
	LogLevel int `env:"LOG_LEVEL" yaml:"log.level"`

	// StartLevelFramework is the target framework start level at
	// start() (default 1).
	StartLevelFramework int `env:"STARTLEVEL_FRAMEWORK" yaml:"startlevel.framework"`

	// StartLevelBundle is the default start level assigned to new
	// installs (default 1).
	StartLevelBundle int `env:"STARTLEVEL_BUNDLE" yaml:"startlevel.bundle"`

	// ServiceURLHandlers enables URL handler registration.
	ServiceURLHandlers bool `env:"FRAMEWORK_SERVICE_URLHANDLERS" yaml:"framework.service.urlhandlers"`

	// CacheBufSize is the cache I/O buffer size (default 4096).
	CacheBufSize int `env:"CACHE_BUFSIZE" yaml:"cache.bufsize"`

	// CacheDir, CacheProfile, CacheProfileDir resolve the cache root.
	CacheDir        string `env:"CACHE_DIR" yaml:"cache.dir"`
	CacheProfile    string `env:"CACHE_PROFILE" yaml:"cache.profile"`
	CacheProfileDir string `env:"CACHE_PROFILEDIR" yaml:"cache.profiledir"`

	// StorageCleanOnFirstInit is loaded as a boolean from
	// framework.storage.clean. Framework.Init does not read it, so no
	// cache flush happens on the first init() call or any later one.
	StorageCleanOnFirstInit bool `env:"FRAMEWORK_STORAGE_CLEAN" yaml:"framework.storage.clean"`

	// ExecutionEnvironments is the comma-separated list of execution
	// environments the framework provides, split at load time.
	ExecutionEnvironments []string `env:"FRAMEWORK_EXECUTIONENVIRONMENT" yaml:"framework.executionenvironment"`
}

// DefaultConfiguration returns a Configuration populated with spec.md §6's
// stated defaults (startlevel.framework=1, startlevel.bundle=1,
// cache.bufsize=4096); every other field defaults to its zero value.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		StartLevelFramework: 1,
		StartLevelBundle:    1,
		CacheBufSize:        4096,
	}
}

// configLoadTimestamp holds the time a Configuration was last (re)loaded.
// No code in this package sets or reads it.
type configLoadTimestamp struct {
	at time.Time
}
