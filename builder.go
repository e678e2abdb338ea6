package modular

import "github.com/gocontainer/modular/cache"

// FrameworkBuilder stages Framework construction across multiple calls,
// grounded on the teacher's ApplicationBuilder (builder.go): collect
// options, then Build() resolves defaults and opens the cache. Most
// callers can skip it and call NewFramework directly; the builder exists
// for callers assembling options conditionally across several functions.
type FrameworkBuilder struct {
	opts []Option
	err  error
}

// NewFrameworkBuilder returns an empty builder.
func NewFrameworkBuilder() *FrameworkBuilder {
	return &FrameworkBuilder{}
}

// With appends options to apply at Build time.
func (b *FrameworkBuilder) With(opts ...Option) *FrameworkBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build resolves every option, opens the bundle cache at the configured
// root (reloading any archives already there), and wires the three
// engines onto a fresh Framework (spec.md §2 "Control flow").
func (b *FrameworkBuilder) Build() (*Framework, error) {
	if b.err != nil {
		return nil, b.err
	}
	s, err := resolveSettings(b.opts...)
	if err != nil {
		return nil, err
	}

	cacheOpts := append([]cache.Option{
		cache.WithBufferSize(s.config.CacheBufSize),
		cache.WithContentWatch(),
	}, s.cacheOpts...)
	c, err := cache.Open(s.cacheDir, cacheOpts...)
	if err != nil {
		return nil, err
	}

	fw := newFramework(s.config, s.configSources, s.logger, c, s.resolver, s.manifestParser, s.permission, s.registry, s.dispatcher, s.activators)

	if err := fw.reloadFromCache(); err != nil {
		return nil, err
	}
	return fw, nil
}
