package modular

import "context"

// Observer receives BundleEvent and FrameworkEvent notifications, the
// spec.md §6 "listener register/unregister" surface. A caller registers
// one through Framework.RegisterObserver; delivery order, buffering, and
// per-source ordering guarantees (spec.md §5 "Ordering" (c)) are owned by
// lifecycle.Dispatcher underneath.
type Observer interface {
	// OnBundleEvent is called for every BundleEvent; an Observer has no
	// way to subscribe to a subset of kinds.
	OnBundleEvent(ctx context.Context, event BundleEvent) error

	// OnFrameworkEvent is called for every FrameworkEvent.
	OnFrameworkEvent(ctx context.Context, event FrameworkEvent) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// ObserverFunc adapts two plain functions to the Observer interface for
// callers that only care about one event family.
type ObserverFunc struct {
	ID          string
	OnBundle    func(ctx context.Context, event BundleEvent) error
	OnFramework func(ctx context.Context, event FrameworkEvent) error
}

func (f ObserverFunc) ObserverID() string { return f.ID }

func (f ObserverFunc) OnBundleEvent(ctx context.Context, event BundleEvent) error {
	if f.OnBundle == nil {
		return nil
	}
	return f.OnBundle(ctx, event)
}

func (f ObserverFunc) OnFrameworkEvent(ctx context.Context, event FrameworkEvent) error {
	if f.OnFramework == nil {
		return nil
	}
	return f.OnFramework(ctx, event)
}
