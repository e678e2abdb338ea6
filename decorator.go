package modular

import (
	"context"
	"time"
)

// ActivatorDecorator wraps an Activator to add cross-cutting behavior
// (logging, timing) around Start/Stop without the wrapped activator
// knowing it's decorated, narrowed from the teacher's generic
// ApplicationDecorator/ConfigDecorator family to the one decorator
// concern this domain has: every activator call already passes through
// LifecycleEngine, so logging/timing belongs on the Activator, not on
// the engine itself.
type ActivatorDecorator struct {
	inner  Activator
	logger Logger
	name   string
}

// NewLoggingActivatorDecorator wraps inner so every Start/Stop call is
// logged with its bundle symbolic name and duration.
func NewLoggingActivatorDecorator(inner Activator, logger Logger, symbolicName string) *ActivatorDecorator {
	return &ActivatorDecorator{inner: inner, logger: logger, name: symbolicName}
}

// Inner returns the wrapped activator.
func (d *ActivatorDecorator) Inner() Activator { return d.inner }

func (d *ActivatorDecorator) Start(ctx context.Context, bc *BundleContext) error {
	start := time.Now()
	d.logger.Debug("activator starting", "bundle", d.name)
	err := d.inner.Start(ctx, bc)
	if err != nil {
		d.logger.Error("activator start failed", "bundle", d.name, "duration", time.Since(start), "error", err)
		return err
	}
	d.logger.Info("activator started", "bundle", d.name, "duration", time.Since(start))
	return nil
}

func (d *ActivatorDecorator) Stop(ctx context.Context, bc *BundleContext) error {
	start := time.Now()
	d.logger.Debug("activator stopping", "bundle", d.name)
	err := d.inner.Stop(ctx, bc)
	if err != nil {
		d.logger.Error("activator stop failed", "bundle", d.name, "duration", time.Since(start), "error", err)
		return err
	}
	d.logger.Info("activator stopped", "bundle", d.name, "duration", time.Since(start))
	return nil
}
