package modular

import (
	"context"
	"time"

	"github.com/gocontainer/modular/registry"
)

// BundleContext is the handle an Activator receives on Start and Stop,
// scoping what it can do to its own bundle (spec.md glossary "Activator").
type BundleContext struct {
	bundle    *Bundle
	framework *Framework
}

// Bundle returns the bundle this context was created for.
func (c *BundleContext) Bundle() *Bundle { return c.bundle }

// RegisterService publishes svc under name through the framework's
// ServiceRegistry external contract, scoped to the registering bundle.
func (c *BundleContext) RegisterService(ctx context.Context, name string, svc any) error {
	return c.framework.registry.Register(ctx, &registry.ServiceRegistration{
		Name:         name,
		Service:      svc,
		Scope:        registry.ScopeBundle,
		RegisteredBy: c.bundle.SymbolicName(),
		RegisteredAt: time.Now(),
	})
}

// GetService looks up a service previously registered by any bundle.
func (c *BundleContext) GetService(ctx context.Context, name string) (any, bool) {
	svc, err := c.framework.registry.ResolveByName(ctx, name)
	if err != nil {
		return nil, false
	}
	return svc, true
}

// Framework exposes the owning container, for activators that need to
// install/inspect other bundles (spec.md §6 programmatic surface).
func (c *BundleContext) Framework() *Framework { return c.framework }

// Activator is the capability set a bundle contributes to the running
// process: start(context) and stop(context) (spec.md glossary "Activator").
// LifecycleEngine calls Start when transitioning STARTING→ACTIVE and Stop
// when transitioning STOPPING→RESOLVED.
type Activator interface {
	Start(ctx context.Context, bc *BundleContext) error
	Stop(ctx context.Context, bc *BundleContext) error
}

// ActivatorFunc adapts two plain functions to the Activator interface, for
// activators with no Stop-side work.
type ActivatorFunc struct {
	StartFunc func(ctx context.Context, bc *BundleContext) error
	StopFunc  func(ctx context.Context, bc *BundleContext) error
}

func (f ActivatorFunc) Start(ctx context.Context, bc *BundleContext) error {
	if f.StartFunc == nil {
		return nil
	}
	return f.StartFunc(ctx, bc)
}

func (f ActivatorFunc) Stop(ctx context.Context, bc *BundleContext) error {
	if f.StopFunc == nil {
		return nil
	}
	return f.StopFunc(ctx, bc)
}

// NoopActivator is used for bundles installed without a registered
// activator (a resolved but passive bundle is legal per spec.md §3).
type NoopActivator struct{}

func (NoopActivator) Start(ctx context.Context, bc *BundleContext) error { return nil }
func (NoopActivator) Stop(ctx context.Context, bc *BundleContext) error  { return nil }
