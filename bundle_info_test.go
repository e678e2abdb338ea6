package modular

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLocalizedContent serves localization property resources from an
// in-memory map, keyed by the resource path Headers(locale) requests.
type fakeLocalizedContent struct {
	resources map[string]string
}

func (f fakeLocalizedContent) Manifest() (map[string]string, error) { return nil, nil }
func (f fakeLocalizedContent) HasEntry(path string) bool            { _, ok := f.resources[path]; return ok }
func (f fakeLocalizedContent) Open(path string) (io.ReadCloser, error) {
	body, ok := f.resources[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestBundleInfo_NewDefaultsToInstalled(t *testing.T) {
	bi := NewBundleInfo(7, "file:///x.bundle", 1)
	assert.Equal(t, StateInstalled, bi.State())
	assert.Equal(t, PersistentInstalled, bi.PersistentState())
	assert.Equal(t, 1, bi.StartLevel())
	assert.False(t, bi.IsExtension())
	assert.Nil(t, bi.CurrentModule())
}

func TestBundleInfo_SetCurrentModuleRetiresPriorWithDependents(t *testing.T) {
	bi := NewBundleInfo(1, "file:///r.bundle", 1)

	v1 := NewModule(bi, ModuleDefinition{Version: "1.0.0"}, NoopActivator{})
	bi.SetCurrentModule(v1)
	assert.Same(t, v1, bi.CurrentModule())
	assert.Empty(t, bi.StaleModules())

	other := NewModule(NewBundleInfo(2, "file:///o.bundle", 1), ModuleDefinition{}, NoopActivator{})
	v1.AddDependent(other)

	v2 := NewModule(bi, ModuleDefinition{Version: "2.0.0"}, NoopActivator{})
	bi.SetCurrentModule(v2)

	assert.Same(t, v2, bi.CurrentModule())
	require.Len(t, bi.StaleModules(), 1)
	assert.Same(t, v1, bi.StaleModules()[0])
	assert.True(t, v1.IsStale())
}

func TestBundleInfo_SetCurrentModuleDropsPriorWithoutDependents(t *testing.T) {
	bi := NewBundleInfo(1, "file:///r2.bundle", 1)
	v1 := NewModule(bi, ModuleDefinition{Version: "1.0.0"}, NoopActivator{})
	bi.SetCurrentModule(v1)

	v2 := NewModule(bi, ModuleDefinition{Version: "2.0.0"}, NoopActivator{})
	bi.SetCurrentModule(v2)

	assert.Empty(t, bi.StaleModules(), "a revision with no dependents is not retired")
}

func TestBundleInfo_ClearStaleModules(t *testing.T) {
	bi := NewBundleInfo(1, "file:///cs.bundle", 1)
	v1 := NewModule(bi, ModuleDefinition{}, NoopActivator{})
	bi.SetCurrentModule(v1)
	dep := NewModule(NewBundleInfo(2, "file:///dep.bundle", 1), ModuleDefinition{}, NoopActivator{})
	v1.AddDependent(dep)
	bi.SetCurrentModule(NewModule(bi, ModuleDefinition{}, NoopActivator{}))
	require.Len(t, bi.StaleModules(), 1)

	bi.ClearStaleModules()
	assert.Empty(t, bi.StaleModules())
}

func TestBundleInfo_HeadersAppliesLocaleOverride(t *testing.T) {
	bi := NewBundleInfo(1, "file:///h.bundle", 1)
	bi.SetHeaders(
		map[string]string{"Bundle-Name": "default name"},
		map[string]map[string]string{"fr": {"Bundle-Name": "nom francais"}},
	)

	assert.Equal(t, "default name", bi.Headers("")["Bundle-Name"])
	assert.Equal(t, "nom francais", bi.Headers("fr")["Bundle-Name"])
	assert.Equal(t, "default name", bi.Headers("de")["Bundle-Name"], "unknown locale falls back to default headers")
}

func TestBundleInfo_HeadersResolvesPercentKeysAgainstLocalizationResources(t *testing.T) {
	bi := NewBundleInfo(1, "file:///l10n.bundle", 1)
	bi.SetHeaders(map[string]string{
		"Bundle-Name":        "%app.name",
		"Bundle-Vendor":      "%app.vendor",
		"Bundle-Description": "literal, not a key",
	}, nil)
	bi.SetContent(fakeLocalizedContent{resources: map[string]string{
		"OSGI-INF/l10n/bundle.properties":       "app.name=Default Name\napp.vendor=Default Vendor\n",
		"OSGI-INF/l10n/bundle_fr.properties":    "app.name=Nom Francais\n",
		"OSGI-INF/l10n/bundle_fr_CA.properties": "app.vendor=Fournisseur Canadien\n",
	}})

	base := bi.Headers("")
	assert.Equal(t, "%app.name", base["Bundle-Name"], "empty locale returns raw headers, unresolved")
	assert.Equal(t, "literal, not a key", base["Bundle-Description"])

	en := bi.Headers("en")
	assert.Equal(t, "Default Name", en["Bundle-Name"])
	assert.Equal(t, "Default Vendor", en["Bundle-Vendor"])

	frCA := bi.Headers("fr_CA")
	assert.Equal(t, "Nom Francais", frCA["Bundle-Name"], "fr-level override wins over base")
	assert.Equal(t, "Fournisseur Canadien", frCA["Bundle-Vendor"], "fr_CA-level override wins over fr/base")

	missing := bi.Headers("de")
	assert.Equal(t, "Default Name", missing["Bundle-Name"], "locale with no properties file of its own falls back to the base properties")
}

func TestBundleInfo_HeadersCacheInvalidatesOnTouch(t *testing.T) {
	bi := NewBundleInfo(1, "file:///l10n2.bundle", 1)
	resources := map[string]string{"OSGI-INF/l10n/bundle.properties": "app.name=First\n"}
	bi.SetHeaders(map[string]string{"Bundle-Name": "%app.name"}, nil)
	bi.SetContent(fakeLocalizedContent{resources: resources})

	require.Equal(t, "First", bi.Headers("en")["Bundle-Name"])

	// Mutate the backing resource in place (no SetHeaders/SetContent call,
	// which already clear the cache on their own) and advance lastModified
	// the way a real revision swap does; the stale cached resolution for
	// "en" must be dropped on the next Headers call.
	resources["OSGI-INF/l10n/bundle.properties"] = "app.name=Second\n"
	bi.mu.Lock()
	bi.lastModified = time.Now()
	bi.mu.Unlock()

	assert.Equal(t, "Second", bi.Headers("en")["Bundle-Name"])
}

func TestBundleInfo_RemovalPendingRoundTrip(t *testing.T) {
	bi := NewBundleInfo(1, "file:///rp.bundle", 1)
	assert.False(t, bi.RemovalPending())
	bi.SetRemovalPending(true)
	assert.True(t, bi.RemovalPending())
}
