package modular

import (
	"errors"

	internalerrors "github.com/gocontainer/modular/internal/errors"
)

// Sentinel errors for the framework, grouped by the taxonomy of kinds in
// spec.md §7. Each is tagged with its Kind via internalerrors.Classify so
// callers can branch on class (internalerrors.KindOf(err)) without a type
// switch over every sentinel. Call sites wrap these with
// fmt.Errorf("...: %w", ErrX) to add the bundle id, location, or other
// context before returning to the caller; Classify's wrapper still
// unwraps to the original sentinel so errors.Is keeps working through it.
var (
	// BundleFailure: invalid lifecycle transition, activator error, resolve
	// failure, cache failure on install/update. Surfaced to the caller.
	ErrInvalidStateTransition   = classify(errors.New("invalid bundle state transition"), internalerrors.BundleFailure)
	ErrActivatorStartFailed     = classify(errors.New("bundle activator start failed"), internalerrors.BundleFailure)
	ErrActivatorStopFailed      = classify(errors.New("bundle activator stop failed"), internalerrors.BundleFailure)
	ErrActivatorNotRegistered   = classify(errors.New("no activator registered for bundle"), internalerrors.BundleFailure)
	ErrResolveFailed            = classify(errors.New("bundle resolve failed"), internalerrors.BundleFailure)
	ErrExecutionEnvironment     = classify(errors.New("required execution environment not provided by framework"), internalerrors.BundleFailure)
	ErrNativeLibraryMissing     = classify(errors.New("declared native library entry not found in bundle content"), internalerrors.BundleFailure)
	ErrSymbolicNameNotUnique    = classify(errors.New("symbolic name and version are not unique"), internalerrors.BundleFailure)
	ErrCacheFailure             = classify(errors.New("bundle cache operation failed"), internalerrors.BundleFailure)
	ErrRestartRequired          = classify(errors.New("operation requires a framework restart"), internalerrors.BundleFailure)
	ErrRefreshPartialFailure    = classify(errors.New("one or more bundles failed during refresh"), internalerrors.BundleFailure)
	ErrExtensionCannotBeUpdated = classify(errors.New("extension bundles cannot be updated without a framework restart"), internalerrors.BundleFailure)

	// StateError: operation on an uninstalled bundle, starting while
	// starting/stopping. Surfaced to the caller.
	ErrBundleUninstalled         = classify(errors.New("bundle is uninstalled"), internalerrors.StateError)
	ErrFrameworkStopping         = classify(errors.New("framework is stopping or uninstalled"), internalerrors.StateError)
	ErrConcurrentLifecycleOp     = classify(errors.New("bundle is already starting or stopping"), internalerrors.StateError)
	ErrApplicationAlreadyStarted = classify(errors.New("framework is already started"), internalerrors.StateError)
	ErrApplicationNotStarted     = classify(errors.New("framework is not started"), internalerrors.StateError)
	ErrSystemBundleUninstall     = classify(errors.New("the system bundle cannot be uninstalled"), internalerrors.StateError)

	// ArgumentError: negative timeout, start level <= 0. Surfaced to the
	// caller unchanged.
	ErrNegativeTimeout   = classify(errors.New("timeout must not be negative"), internalerrors.ArgumentError)
	ErrInvalidStartLevel = classify(errors.New("start level must be >= 1"), internalerrors.ArgumentError)
	ErrInvalidBundleID   = classify(errors.New("bundle id is invalid"), internalerrors.ArgumentError)

	// SecurityError: permission provider denial. Surfaced unchanged.
	ErrExportPermissionDenied = classify(errors.New("permission provider denied package export"), internalerrors.SecurityError)

	// InternalError: logger/cache write failure the framework tolerates.
	// Logged and never propagated to the caller's lifecycle op result.
	ErrInternalLogWriteFailed   = classify(errors.New("internal log write failed"), internalerrors.InternalError)
	ErrInternalCacheFlushFailed = classify(errors.New("internal cache flush failed"), internalerrors.InternalError)

	// Lookup / not-found errors, used across bundle/service/archive lookups.
	// Classified as BundleFailure: a lookup miss during install/resolve
	// surfaces the same way any other resolve-time failure does.
	ErrBundleNotFound  = classify(errors.New("bundle not found"), internalerrors.BundleFailure)
	ErrArchiveNotFound = classify(errors.New("bundle archive not found"), internalerrors.BundleFailure)
	ErrModuleNotFound  = classify(errors.New("module not found"), internalerrors.BundleFailure)

	// Service registry errors (external-contract consumer side).
	ErrServiceAlreadyRegistered = classify(errors.New("service already registered"), internalerrors.ArgumentError)
	ErrServiceNotFound          = classify(errors.New("service not found"), internalerrors.BundleFailure)

	// Lock manager errors.
	ErrLockAcquireTimedOut = classify(errors.New("lock acquisition timed out"), internalerrors.InternalError)
	ErrNotLockOwner        = classify(errors.New("current goroutine does not own this bundle lock"), internalerrors.InternalError)
)

func classify(err error, kind internalerrors.Kind) error {
	return internalerrors.Classify(err, kind)
}

// ErrorKind reports the spec.md §7 Kind a framework error belongs to, or
// an unknown kind for an error the framework didn't originate.
func ErrorKind(err error) internalerrors.Kind {
	return internalerrors.KindOf(err)
}
