// Package modular implements the bundle-lifecycle container core: install,
// resolve, start, stop, update, and uninstall of independently developed
// bundles sharing one process (spec.md §1).
package modular

import (
	"time"

	"github.com/gocontainer/modular/lifecycle"
)

// BundleEventKind enumerates spec.md §6's BundleEvent kinds.
type BundleEventKind string

const (
	BundleEventInstalled   BundleEventKind = "INSTALLED"
	BundleEventStarting    BundleEventKind = "STARTING"
	BundleEventStarted     BundleEventKind = "STARTED"
	BundleEventStopping    BundleEventKind = "STOPPING"
	BundleEventStopped     BundleEventKind = "STOPPED"
	BundleEventUpdated     BundleEventKind = "UPDATED"
	BundleEventUnresolved  BundleEventKind = "UNRESOLVED"
	BundleEventResolved    BundleEventKind = "RESOLVED"
	BundleEventUninstalled BundleEventKind = "UNINSTALLED"
)

// FrameworkEventKind enumerates spec.md §6's FrameworkEvent kinds.
type FrameworkEventKind string

const (
	FrameworkEventStarted            FrameworkEventKind = "STARTED"
	FrameworkEventError              FrameworkEventKind = "ERROR"
	FrameworkEventPackagesRefreshed  FrameworkEventKind = "PACKAGES_REFRESHED"
	FrameworkEventStartLevelChanged  FrameworkEventKind = "STARTLEVEL_CHANGED"
	FrameworkEventStopped            FrameworkEventKind = "STOPPED"
)

// bundleEventType/frameworkEventType map each Kind onto the lifecycle
// package's generic EventType so BundleEvent/FrameworkEvent can ride the
// shared Dispatcher (events.go owns the vocabulary, lifecycle.Dispatcher
// owns delivery).
var bundleEventType = map[BundleEventKind]lifecycle.EventType{
	BundleEventInstalled:   lifecycle.EventTypeBundleInstalled,
	BundleEventStarting:    lifecycle.EventTypeBundleStarting,
	BundleEventStarted:     lifecycle.EventTypeBundleStarted,
	BundleEventStopping:    lifecycle.EventTypeBundleStopping,
	BundleEventStopped:     lifecycle.EventTypeBundleStopped,
	BundleEventUpdated:     lifecycle.EventTypeBundleUpdated,
	BundleEventUnresolved:  lifecycle.EventTypeBundleUnresolved,
	BundleEventResolved:    lifecycle.EventTypeBundleResolved,
	BundleEventUninstalled: lifecycle.EventTypeBundleUninstalled,
}

var frameworkEventType = map[FrameworkEventKind]lifecycle.EventType{
	FrameworkEventStarted:           lifecycle.EventTypeFrameworkStarted,
	FrameworkEventError:             lifecycle.EventTypeFrameworkError,
	FrameworkEventPackagesRefreshed: lifecycle.EventTypeFrameworkPackagesRefreshed,
	FrameworkEventStartLevelChanged: lifecycle.EventTypeFrameworkStartLevelChanged,
	FrameworkEventStopped:           lifecycle.EventTypeFrameworkStopped,
}

// reverseBundleEventType/reverseFrameworkEventType invert the two maps
// above, used by observerBridge (framework.go) to translate a delivered
// lifecycle.Event back into this domain's vocabulary.
var reverseBundleEventType = invertBundleEventType()
var reverseFrameworkEventType = invertFrameworkEventType()

func invertBundleEventType() map[lifecycle.EventType]BundleEventKind {
	out := make(map[lifecycle.EventType]BundleEventKind, len(bundleEventType))
	for k, v := range bundleEventType {
		out[v] = k
	}
	return out
}

func invertFrameworkEventType() map[lifecycle.EventType]FrameworkEventKind {
	out := make(map[lifecycle.EventType]FrameworkEventKind, len(frameworkEventType))
	for k, v := range frameworkEventType {
		out[v] = k
	}
	return out
}

// BundleEvent is emitted on every lifecycle transition spec.md §6 names.
type BundleEvent struct {
	Kind      BundleEventKind
	BundleID  int64
	Location  string
	Timestamp time.Time
}

// FrameworkEvent is emitted for framework-wide occurrences spec.md §6
// names (start-level changes, refresh completion, framework errors).
type FrameworkEvent struct {
	Kind      FrameworkEventKind
	Err       error
	Timestamp time.Time
}

// toLifecycleEvent adapts a BundleEvent into the lifecycle package's
// generic Event envelope for dispatch.
func (e BundleEvent) toLifecycleEvent(correlationID string) *lifecycle.Event {
	return &lifecycle.Event{
		ID:            correlationID,
		Type:          bundleEventType[e.Kind],
		Source:        e.Location,
		Timestamp:     e.Timestamp,
		Status:        lifecycle.EventStatusCompleted,
		CorrelationID: correlationID,
		Data: map[string]interface{}{
			"bundle_id": e.BundleID,
			"location":  e.Location,
			"kind":      string(e.Kind),
		},
	}
}

func (e FrameworkEvent) toLifecycleEvent(correlationID string) *lifecycle.Event {
	status := lifecycle.EventStatusCompleted
	var errMsg string
	if e.Err != nil {
		status = lifecycle.EventStatusFailed
		errMsg = e.Err.Error()
	}
	return &lifecycle.Event{
		ID:            correlationID,
		Type:          frameworkEventType[e.Kind],
		Source:        "framework",
		Timestamp:     e.Timestamp,
		Status:        status,
		Error:         errMsg,
		CorrelationID: correlationID,
		Data: map[string]interface{}{
			"kind": string(e.Kind),
		},
	}
}
