package modular

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModule_IsResolvedReflectsWiring(t *testing.T) {
	bi := NewBundleInfo(1, "file:///m.bundle", 1)
	m := NewModule(bi, ModuleDefinition{SymbolicName: "com.example.m"}, NoopActivator{})
	assert.False(t, m.IsResolved())

	m.Wiring = &Wiring{Providers: map[string]*Module{}}
	assert.True(t, m.IsResolved())
}

func TestModule_DependentsRoundTrip(t *testing.T) {
	provider := NewModule(NewBundleInfo(1, "file:///p.bundle", 1), ModuleDefinition{}, NoopActivator{})
	dependent := NewModule(NewBundleInfo(2, "file:///d.bundle", 1), ModuleDefinition{}, NoopActivator{})

	assert.False(t, provider.HasDependents())

	provider.AddDependent(dependent)
	assert.True(t, provider.HasDependents())
	assert.Len(t, provider.Dependents(), 1)
	assert.Same(t, dependent, provider.Dependents()[0])

	provider.RemoveDependent(dependent)
	assert.False(t, provider.HasDependents())
}

func TestModule_IsStaleDefaultsFalse(t *testing.T) {
	m := NewModule(NewBundleInfo(1, "file:///s.bundle", 1), ModuleDefinition{}, NoopActivator{})
	assert.False(t, m.IsStale())
}
