// Package config provides configuration loading and management services
package config

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/gocontainer/modular/feeders"
)

// Static errors for configuration package
var (
	ErrConfigTypeNotFound  = errors.New("config type not found")
	ErrUnknownSourceType   = errors.New("unknown configuration source type")
	ErrProvenanceNotFound  = errors.New("no provenance recorded for field")
)

// Feeder is the subset of the golobby feeder contract every feeders.*Feeder
// implementation satisfies: read its source and populate a struct pointer.
type Feeder interface {
	Feed(structure interface{}) error
}

// Loader implements the ConfigLoader interface. Sources are fed in
// ascending Priority order so that a higher-priority source (e.g. an env
// var override) always wins over a lower-priority one (e.g. a yaml file),
// matching spec.md §6's key table where cache.dir/cache.profile etc. are
// meant to be overridable by the process environment.
type Loader struct {
	mu         sync.Mutex
	sources    []*ConfigSource
	validators []ConfigValidator
	provenance map[string]*FieldProvenance
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		sources:    make([]*ConfigSource, 0),
		validators: make([]ConfigValidator, 0),
		provenance: make(map[string]*FieldProvenance),
	}
}

// feederFor builds the feeders.* implementation matching a ConfigSource's
// declared Type ("env", "dotenv", "yaml", "json", "toml").
func feederFor(src *ConfigSource) (Feeder, error) {
	switch src.Type {
	case "env":
		f := feeders.NewEnvFeeder()
		return f, nil
	case "dotenv":
		return feeders.NewDotEnvFeeder(src.Location), nil
	case "yaml":
		return feeders.NewYamlFeeder(src.Location), nil
	case "json":
		return feeders.NewJSONFeeder(src.Location), nil
	case "toml":
		return feeders.NewTomlFeeder(src.Location), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, src.Type)
	}
}

// Load loads configuration from all configured sources and applies validation
func (l *Loader) Load(ctx context.Context, config interface{}) error {
	l.mu.Lock()
	sources := make([]*ConfigSource, len(l.sources))
	copy(sources, l.sources)
	l.mu.Unlock()

	sort.SliceStable(sources, func(i, j int) bool { return sources[i].Priority < sources[j].Priority })

	for _, src := range sources {
		feeder, err := feederFor(src)
		if err != nil {
			src.Error = err.Error()
			src.Loaded = false
			continue
		}
		if err := feeder.Feed(config); err != nil {
			src.Error = err.Error()
			src.Loaded = false
			continue
		}
		now := time.Now()
		src.Loaded = true
		src.Error = ""
		src.LastLoaded = &now

		l.mu.Lock()
		l.provenance["*"] = &FieldProvenance{
			FieldPath: "*",
			Source:    src.Type,
			SourceDetail: src.Location,
			Value:     nil,
			Timestamp: now,
		}
		l.mu.Unlock()
	}

	return l.Validate(ctx, config)
}

// Reload re-runs Load against the same sources and config target,
// refreshing the struct in place. It invokes no ReloadCallback; a
// Reloader's NotifyChange does that when the caller calls it.
func (l *Loader) Reload(ctx context.Context, config interface{}) error {
	return l.Load(ctx, config)
}

// Validate validates the given configuration against defined rules and schemas
func (l *Loader) Validate(ctx context.Context, config interface{}) error {
	for _, v := range l.validators {
		if err := v.ValidateStruct(ctx, config); err != nil {
			return err
		}
	}
	return nil
}

// GetProvenance returns field-level provenance information for configuration
func (l *Loader) GetProvenance(ctx context.Context, fieldPath string) (*FieldProvenance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.provenance[fieldPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProvenanceNotFound, fieldPath)
	}
	return p, nil
}

// GetSources returns information about all configured configuration sources
func (l *Loader) GetSources(ctx context.Context) ([]*ConfigSource, error) {
	return l.sources, nil
}

// AddSource adds a configuration source to the loader
func (l *Loader) AddSource(source *ConfigSource) {
	l.sources = append(l.sources, source)
}

// AddValidator adds a configuration validator to the loader
func (l *Loader) AddValidator(validator ConfigValidator) {
	l.validators = append(l.validators, validator)
}

// Validator implements basic ConfigValidator interface
type Validator struct {
	rules map[string][]*ValidationRule
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		rules: make(map[string][]*ValidationRule),
	}
}

// ValidateStruct validates an entire configuration struct against the rules
// registered under its type name. Only the "required" rule type is
// interpreted here (a zero-value field at FieldPath fails); other rule
// types are caller-defined contracts ValidateField handles per field.
func (v *Validator) ValidateStruct(ctx context.Context, config interface{}) error {
	rv := reflect.ValueOf(config)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}
	rules, ok := v.rules[rv.Type().Name()]
	if !ok {
		return nil
	}
	for _, rule := range rules {
		field := rv.FieldByName(rule.FieldPath)
		if !field.IsValid() {
			continue
		}
		if rule.RuleType == "required" && field.IsZero() {
			return fmt.Errorf("%s: %s", rule.FieldPath, rule.Message)
		}
	}
	return nil
}

// ValidateField validates a specific field with the given value against
// every registered rule whose FieldPath matches, regardless of configType.
func (v *Validator) ValidateField(ctx context.Context, fieldPath string, value interface{}) error {
	rv := reflect.ValueOf(value)
	for _, rules := range v.rules {
		for _, rule := range rules {
			if rule.FieldPath != fieldPath {
				continue
			}
			if rule.RuleType == "required" && (!rv.IsValid() || rv.IsZero()) {
				return fmt.Errorf("%s: %s", fieldPath, rule.Message)
			}
		}
	}
	return nil
}

// GetValidationRules returns validation rules for the given configuration type
func (v *Validator) GetValidationRules(ctx context.Context, configType string) ([]*ValidationRule, error) {
	rules, exists := v.rules[configType]
	if !exists {
		return nil, ErrConfigTypeNotFound
	}
	return rules, nil
}

// AddRule adds a validation rule for a specific configuration type
func (v *Validator) AddRule(configType string, rule *ValidationRule) {
	if v.rules[configType] == nil {
		v.rules[configType] = make([]*ValidationRule, 0)
	}
	v.rules[configType] = append(v.rules[configType], rule)
}

// Reloader implements basic ConfigReloader interface
type Reloader struct {
	watching  bool
	callbacks []ReloadCallback
}

// NewReloader creates a new configuration reloader
func NewReloader() *Reloader {
	return &Reloader{
		watching:  false,
		callbacks: make([]ReloadCallback, 0),
	}
}

// StartWatch registers callback and marks the reloader active. Actual
// file-change notification is the cache package's concern (it owns
// fsnotify for the bundle content root); this reloader's callbacks fire
// whenever a caller invokes NotifyChange after re-running Loader.Load.
func (r *Reloader) StartWatch(ctx context.Context, callback ReloadCallback) error {
	r.callbacks = append(r.callbacks, callback)
	r.watching = true
	return nil
}

// StopWatch stops watching configuration sources
func (r *Reloader) StopWatch(ctx context.Context) error {
	r.watching = false
	return nil
}

// NotifyChange invokes every registered callback with the given changes,
// if currently watching.
func (r *Reloader) NotifyChange(ctx context.Context, changes []*ConfigChange) error {
	if !r.watching {
		return nil
	}
	for _, cb := range r.callbacks {
		if err := cb(ctx, changes); err != nil {
			return err
		}
	}
	return nil
}

// IsWatching returns true if currently watching for configuration changes
func (r *Reloader) IsWatching() bool {
	return r.watching
}
