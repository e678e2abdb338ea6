package modular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSettings_FillsDefaults(t *testing.T) {
	s, err := resolveSettings(WithCacheDir(t.TempDir()))
	require.NoError(t, err)

	assert.NotNil(t, s.config)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.resolver)
	assert.NotNil(t, s.manifestParser)
	assert.NotNil(t, s.registry)
	assert.NotNil(t, s.dispatcher)
}

func TestResolveSettings_MissingCacheDirIsError(t *testing.T) {
	_, err := resolveSettings()
	assert.ErrorIs(t, err, ErrCacheFailure)
}

func TestResolveSettings_CacheDirFromConfiguration(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.CacheDir = t.TempDir()

	s, err := resolveSettings(WithConfiguration(cfg))
	require.NoError(t, err)
	assert.Equal(t, cfg.CacheDir, s.cacheDir)
}

func TestResolveSettings_OptionErrorPropagates(t *testing.T) {
	boom := func(*frameworkSettings) error { return ErrInvalidStartLevel }
	_, err := resolveSettings(boom)
	assert.ErrorIs(t, err, ErrInvalidStartLevel)
}

func TestWithActivatorRegistry_OverridesDefault(t *testing.T) {
	reg := NewActivatorRegistry()
	s, err := resolveSettings(WithCacheDir(t.TempDir()), WithActivatorRegistry(reg))
	require.NoError(t, err)
	assert.Same(t, reg, s.activators)
}

func TestNewFramework_BuildsWithCacheDirOnly(t *testing.T) {
	fw, err := NewFramework(WithCacheDir(t.TempDir()))
	require.NoError(t, err)
	require.NotNil(t, fw)
	assert.Equal(t, 1, fw.StartLevel())
}
