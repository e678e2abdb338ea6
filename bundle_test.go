package modular

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBundle_UnresolvedHasNoSymbolicNameOrVersion(t *testing.T) {
	bi := NewBundleInfo(1, "file:///u.bundle", 1)
	b := bi.Bundle()

	assert.Equal(t, int64(1), b.ID())
	assert.Equal(t, "file:///u.bundle", b.Location())
	assert.Empty(t, b.SymbolicName())
	assert.Empty(t, b.Version())
}

func TestBundle_ResolvedReflectsCurrentModuleDefinition(t *testing.T) {
	bi := NewBundleInfo(1, "file:///r.bundle", 1)
	bi.SetCurrentModule(NewModule(bi, ModuleDefinition{SymbolicName: "com.example.r", Version: "1.2.3"}, NoopActivator{}))

	b := bi.Bundle()
	assert.Equal(t, "com.example.r", b.SymbolicName())
	assert.Equal(t, "1.2.3", b.Version())
}

func TestBundle_ProtectionDomainDefaultsNil(t *testing.T) {
	bi := NewBundleInfo(1, "file:///pd.bundle", 1)
	b := bi.Bundle()
	assert.Nil(t, b.ProtectionDomain())

	bi.SetProtectionDomain("domain-token")
	assert.Equal(t, "domain-token", b.ProtectionDomain())
}
