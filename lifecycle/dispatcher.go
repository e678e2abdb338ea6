// Package lifecycle provides lifecycle event management and dispatching services
package lifecycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Static errors for lifecycle package
var (
	ErrDispatcherNotRunning     = errors.New("dispatcher is not running")
	ErrEventCannotBeNil         = errors.New("event cannot be nil")
	ErrEventBufferFull          = errors.New("event buffer is full, dropping event")
	ErrDispatcherAlreadyRunning = errors.New("dispatcher is already running")
	ErrEventNotFound            = errors.New("event not found")
)

// Dispatcher implements the EventDispatcher interface
type Dispatcher struct {
	mu        sync.RWMutex
	observers map[string]EventObserver
	running   bool
	config    *DispatchConfig
	metrics   *EventMetrics
	eventChan chan *Event
	stopChan  chan struct{}
}

// NewDispatcher creates a new lifecycle event dispatcher
func NewDispatcher(config *DispatchConfig) *Dispatcher {
	if config == nil {
		config = &DispatchConfig{
			BufferSize:        1000,
			MaxRetries:        3,
			RetryDelay:        time.Second,
			ObserverTimeout:   30 * time.Second,
			EnablePersistence: false,
			EnableMetrics:     true,
		}
	}

	return &Dispatcher{
		observers: make(map[string]EventObserver),
		running:   false,
		config:    config,
		metrics: &EventMetrics{
			EventsByType:   make(map[EventType]int64),
			EventsByStatus: make(map[EventStatus]int64),
		},
		eventChan: make(chan *Event, config.BufferSize),
		stopChan:  make(chan struct{}),
	}
}

// Dispatch enqueues a lifecycle event for asynchronous delivery to
// registered observers. The dispatcher must be running; Dispatch itself
// never calls an observer directly so a slow observer cannot block the
// caller's lifecycle operation.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()

	if !running {
		return ErrDispatcherNotRunning
	}
	if event == nil {
		return ErrEventCannotBeNil
	}

	select {
	case d.eventChan <- event:
		return nil
	default:
		return ErrEventBufferFull
	}
}

// RegisterObserver registers an observer to receive lifecycle events
func (d *Dispatcher) RegisterObserver(ctx context.Context, observer EventObserver) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.observers[observer.ID()] = observer
	return nil
}

// UnregisterObserver removes an observer from receiving events
func (d *Dispatcher) UnregisterObserver(ctx context.Context, observerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.observers, observerID)
	return nil
}

// GetObservers returns all currently registered observers
func (d *Dispatcher) GetObservers(ctx context.Context) ([]EventObserver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	observers := make([]EventObserver, 0, len(d.observers))
	for _, observer := range d.observers {
		observers = append(observers, observer)
	}

	return observers, nil
}

// Start begins the event dispatcher service
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrDispatcherAlreadyRunning
	}

	d.running = true
	d.stopChan = make(chan struct{})
	go d.processEvents(ctx)

	return nil
}

// Stop gracefully shuts down the event dispatcher
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}

	d.running = false
	close(d.stopChan)

	return nil
}

// IsRunning returns true if the dispatcher is currently running
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// processEvents drains eventChan and delivers each event to every
// observer subscribed to its EventType, in descending Priority order.
// An observer error or panic is counted in metrics and otherwise ignored
// so one bad observer cannot stall delivery to the rest.
func (d *Dispatcher) processEvents(ctx context.Context) {
	for {
		select {
		case event := <-d.eventChan:
			d.deliver(ctx, event)
		case <-d.stopChan:
			d.drainRemaining(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// drainRemaining delivers every event already buffered in eventChan before
// processEvents exits, so a Dispatch that landed just before Stop (e.g. a
// final STOPPED event) is not silently lost to the select race between
// eventChan and stopChan.
func (d *Dispatcher) drainRemaining(ctx context.Context) {
	for {
		select {
		case event := <-d.eventChan:
			d.deliver(ctx, event)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event *Event) {
	d.mu.RLock()
	observers := make([]EventObserver, 0, len(d.observers))
	for _, o := range d.observers {
		if subscribesTo(o, event.Type) {
			observers = append(observers, o)
		}
	}
	d.mu.RUnlock()

	sort.SliceStable(observers, func(i, j int) bool { return observers[i].Priority() > observers[j].Priority() })

	if d.config.EnableMetrics {
		d.mu.Lock()
		d.metrics.TotalEvents++
		d.metrics.EventsByType[event.Type]++
		d.metrics.EventsByStatus[event.Status]++
		d.metrics.LastEventTime = event.Timestamp
		d.mu.Unlock()
	}

	for _, o := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil && d.config.EnableMetrics {
					d.mu.Lock()
					d.metrics.ObserverPanics++
					d.mu.Unlock()
				}
			}()
			if err := o.OnEvent(ctx, event); err != nil && d.config.EnableMetrics {
				d.mu.Lock()
				d.metrics.ObserverErrors++
				d.mu.Unlock()
			}
		}()
	}
}

func subscribesTo(o EventObserver, t EventType) bool {
	types := o.EventTypes()
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// Store implements basic EventStore interface
type Store struct {
	mu     sync.RWMutex
	events map[string]*Event
	index  map[string][]*Event // indexed by source
}

// NewStore creates a new event store
func NewStore() *Store {
	return &Store{
		events: make(map[string]*Event),
		index:  make(map[string][]*Event),
	}
}

// Store persists a lifecycle event
func (s *Store) Store(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = event
	s.index[event.Source] = append(s.index[event.Source], event)

	return nil
}

// Get retrieves a specific event by ID
func (s *Store) Get(ctx context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[eventID]
	if !exists {
		return nil, ErrEventNotFound
	}

	return event, nil
}

// Query retrieves events matching the given criteria: EventTypes, Sources,
// Phases, Statuses, the Since/Until window, CorrelationID and TraceID are
// applied as filters; Limit/Offset paginate the result after sorting by
// Timestamp (newest first when OrderDesc is set). OrderBy is not consulted.
func (s *Store) Query(ctx context.Context, criteria *QueryCriteria) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*Event, 0)
	for _, event := range s.events {
		if !matchesCriteria(event, criteria) {
			continue
		}
		matches = append(matches, event)
	}

	sort.Slice(matches, func(i, j int) bool {
		if criteria.OrderDesc {
			return matches[i].Timestamp.After(matches[j].Timestamp)
		}
		return matches[i].Timestamp.Before(matches[j].Timestamp)
	})

	if criteria.Offset > 0 {
		if criteria.Offset >= len(matches) {
			return nil, nil
		}
		matches = matches[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(matches) {
		matches = matches[:criteria.Limit]
	}

	return matches, nil
}

func matchesCriteria(event *Event, c *QueryCriteria) bool {
	if len(c.EventTypes) > 0 && !containsType(c.EventTypes, event.Type) {
		return false
	}
	if len(c.Sources) > 0 && !containsString(c.Sources, event.Source) {
		return false
	}
	if len(c.Phases) > 0 && !containsPhase(c.Phases, event.Phase) {
		return false
	}
	if len(c.Statuses) > 0 && !containsStatus(c.Statuses, event.Status) {
		return false
	}
	if c.Since != nil && event.Timestamp.Before(*c.Since) {
		return false
	}
	if c.Until != nil && event.Timestamp.After(*c.Until) {
		return false
	}
	if c.CorrelationID != "" && event.CorrelationID != c.CorrelationID {
		return false
	}
	if c.TraceID != "" && event.TraceID != c.TraceID {
		return false
	}
	return true
}

func containsType(list []EventType, v EventType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsPhase(list []LifecyclePhase, v LifecyclePhase) bool {
	for _, p := range list {
		if p == v {
			return true
		}
	}
	return false
}

func containsStatus(list []EventStatus, v EventStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Delete removes events matching the given criteria
func (s *Store) Delete(ctx context.Context, criteria *QueryCriteria) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, event := range s.events {
		if !matchesCriteria(event, criteria) {
			continue
		}
		delete(s.events, id)
		idx := s.index[event.Source]
		for i, e := range idx {
			if e.ID == id {
				s.index[event.Source] = append(idx[:i], idx[i+1:]...)
				break
			}
		}
	}
	return nil
}

// GetEventHistory returns event history for a specific source
func (s *Store) GetEventHistory(ctx context.Context, source string, since time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, exists := s.index[source]
	if !exists {
		return nil, nil
	}

	filtered := make([]*Event, 0)
	for _, event := range events {
		if event.Timestamp.After(since) {
			filtered = append(filtered, event)
		}
	}

	return filtered, nil
}

// BasicObserver implements a basic EventObserver for testing
type BasicObserver struct {
	id         string
	eventTypes []EventType
	priority   int
	callback   func(context.Context, *Event) error
}

// NewBasicObserver creates a new basic observer
func NewBasicObserver(id string, eventTypes []EventType, priority int, callback func(context.Context, *Event) error) *BasicObserver {
	return &BasicObserver{
		id:         id,
		eventTypes: eventTypes,
		priority:   priority,
		callback:   callback,
	}
}

// OnEvent is called when a lifecycle event is dispatched
func (o *BasicObserver) OnEvent(ctx context.Context, event *Event) error {
	if o.callback != nil {
		return o.callback(ctx, event)
	}
	return nil
}

// ID returns the unique identifier for this observer
func (o *BasicObserver) ID() string {
	return o.id
}

// EventTypes returns the types of events this observer wants to receive
func (o *BasicObserver) EventTypes() []EventType {
	return o.eventTypes
}

// Priority returns the priority of this observer (higher = called first)
func (o *BasicObserver) Priority() int {
	return o.priority
}
