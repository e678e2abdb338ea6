package modular

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameworkBuilder_BuildAssemblesFramework(t *testing.T) {
	fw, err := NewFrameworkBuilder().With(WithCacheDir(t.TempDir())).Build()
	require.NoError(t, err)
	require.NotNil(t, fw)

	sys, err := fw.GetBundle(SystemBundleID)
	require.NoError(t, err)
	assert.Equal(t, SystemBundleID, sys.ID())
}

func TestFrameworkBuilder_WithAccumulatesAcrossCalls(t *testing.T) {
	cfg := DefaultConfiguration()
	cfg.StartLevelFramework = 3

	b := NewFrameworkBuilder()
	b.With(WithCacheDir(t.TempDir()))
	b.With(WithConfiguration(cfg))

	fw, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 3, fw.StartLevel())
}

func TestFrameworkBuilder_PropagatesSettingsError(t *testing.T) {
	_, err := NewFrameworkBuilder().Build()
	assert.ErrorIs(t, err, ErrCacheFailure)
}

func TestFrameworkBuilder_ReloadsArchivesAlreadyOnDisk(t *testing.T) {
	dir := t.TempDir()

	fw1, err := NewFrameworkBuilder().With(WithCacheDir(dir)).Build()
	require.NoError(t, err)

	manifest := map[string]string{
		HeaderSymbolicName:   "com.example.reload",
		HeaderVersion:        "1.0.0",
		HeaderManifestVersion: "2",
	}
	_, err = fw1.Install(context.TODO(), "file:///reload.bundle", nil, manifest, nil)
	require.NoError(t, err)
	require.NoError(t, fw1.cacheStore.Close())

	fw2, err := NewFrameworkBuilder().With(WithCacheDir(dir)).Build()
	require.NoError(t, err)

	b, err := fw2.GetBundleByLocation("file:///reload.bundle")
	require.NoError(t, err)
	assert.Equal(t, "com.example.reload", b.SymbolicName())
}
