package modular

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// cloudEventSource identifies this framework instance as the CloudEvents
// "source" attribute, in reverse-domain notation.
const cloudEventSource = "org.gocontainer.modular/framework"

// NewBundleCloudEvent wraps a BundleEvent in a CloudEvents v1.0 envelope,
// for observers that forward lifecycle events across a process boundary
// (spec.md treats event delivery mechanics as implementation-defined;
// this is the optional wire form).
func NewBundleCloudEvent(event BundleEvent) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(generateEventID())
	ce.SetSource(cloudEventSource)
	ce.SetType(fmt.Sprintf("org.gocontainer.modular.bundle.%s", event.Kind))
	ce.SetTime(zeroTimeOr(event.Timestamp))
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetExtension("bundleid", event.BundleID)
	ce.SetExtension("location", event.Location)

	if err := ce.SetData(cloudevents.ApplicationJSON, event); err != nil {
		return cloudevents.Event{}, err
	}
	return ce, nil
}

// NewFrameworkCloudEvent wraps a FrameworkEvent in a CloudEvents envelope.
func NewFrameworkCloudEvent(event FrameworkEvent) (cloudevents.Event, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(generateEventID())
	ce.SetSource(cloudEventSource)
	ce.SetType(fmt.Sprintf("org.gocontainer.modular.framework.%s", event.Kind))
	ce.SetTime(zeroTimeOr(event.Timestamp))
	ce.SetSpecVersion(cloudevents.VersionV1)
	if event.Err != nil {
		ce.SetExtension("error", event.Err.Error())
	}

	payload := struct {
		Kind string `json:"kind"`
	}{Kind: string(event.Kind)}
	if err := ce.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return cloudevents.Event{}, err
	}
	return ce, nil
}

func zeroTimeOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// generateEventID mints a time-ordered CloudEvents id (UUIDv7), falling
// back to UUIDv4 if the v7 generator ever fails.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
