package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/depgraph/pkg/graph"
)

// Event represents a telemetry event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// Node is the node the event is about, if any.
	Node string `json:"node,omitempty"`

	// Entity is the entity the event is about, if any.
	Entity string `json:"entity,omitempty"`

	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeNodeFailed      = "node.failed"
	EventTypeNodeInvalidated = "node.invalidated"
	EventTypeNodeSet         = "node.set"
	EventTypeScopeEntered    = "scope.entered"
	EventTypeScopeExited     = "scope.exited"
	EventTypeEntitySynced    = "entity.synced"
	EventTypeWriteDenied     = "write.denied"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
// Subscribers run in publish order; in async mode they run on the
// delivery goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishEntitySynced publishes the outcome of persisting an entity.
func (ep *EventPublisher) PublishEntitySynced(entityName, action string) error {
	return ep.Publish(Event{
		Type:    EventTypeEntitySynced,
		Source:  "store",
		Entity:  entityName,
		Message: fmt.Sprintf("Entity %s %s", entityName, action),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"action": action,
		},
	})
}

// PublishWriteDenied publishes a write rejected by policy.
func (ep *EventPublisher) PublishWriteDenied(node, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeWriteDenied,
		Source:  "policy",
		Node:    node,
		Message: fmt.Sprintf("Write to %s denied: %s", node, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			ep.flushBatch(batch)
			batch = batch[:0]

		case <-ep.ctx.Done():
			// Drain whatever is still buffered.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					ep.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByEntity creates a filter that only allows events about one entity.
func FilterByEntity(name string) EventFilter {
	return func(event Event) bool {
		return event.Entity == name
	}
}

// GraphEvents turns graph notifications into events. Successful
// computations and cache hits are not published.
type GraphEvents struct {
	publisher *EventPublisher
	source    string
}

var _ graph.Observer = (*GraphEvents)(nil)

// NewGraphEvents creates an observer publishing to ep under the given source.
func NewGraphEvents(ep *EventPublisher, source string) *GraphEvents {
	return &GraphEvents{publisher: ep, source: source}
}

func (g *GraphEvents) publish(typ, level string, id *graph.NodeID, msg string, data map[string]interface{}) {
	ev := Event{Type: typ, Source: g.source, Message: msg, Level: level, Data: data}
	if id != nil {
		ev.Node = id.String()
		ev.Entity = id.Entity
	}
	_ = g.publisher.Publish(ev)
}

func (g *GraphEvents) NodeComputed(id graph.NodeID, kind graph.NodeKind, d time.Duration, err error) {
	if err == nil {
		return
	}
	g.publish(EventTypeNodeFailed, EventLevelError, &id,
		fmt.Sprintf("Computation of %s failed: %v", id, err),
		map[string]interface{}{"kind": kind.String(), "duration": d.Seconds()})
}

func (g *GraphEvents) CacheHit(graph.NodeID, graph.NodeKind) {}

func (g *GraphEvents) NodeInvalidated(id graph.NodeID, kind graph.NodeKind) {
	g.publish(EventTypeNodeInvalidated, EventLevelInfo, &id,
		fmt.Sprintf("Node %s invalidated", id),
		map[string]interface{}{"kind": kind.String()})
}

func (g *GraphEvents) NodeSet(id graph.NodeID, kind graph.NodeKind, operation string) {
	g.publish(EventTypeNodeSet, EventLevelInfo, &id,
		fmt.Sprintf("Node %s %s", id, operation),
		map[string]interface{}{"kind": kind.String(), "operation": operation})
}

func (g *GraphEvents) ScopeEntered(name string) {
	g.publish(EventTypeScopeEntered, EventLevelInfo, nil,
		fmt.Sprintf("Scope %s entered", name),
		map[string]interface{}{"scope": name})
}

func (g *GraphEvents) ScopeExited(name string) {
	g.publish(EventTypeScopeExited, EventLevelInfo, nil,
		fmt.Sprintf("Scope %s exited", name),
		map[string]interface{}{"scope": name})
}
