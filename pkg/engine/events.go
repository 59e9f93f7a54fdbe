package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType is one of the closed set of lifecycle notifications the engine
// emits. There are no other event types; subscribers can switch exhaustively.
type EventType string

const (
	// EventResourceAdded fires after an add step completes successfully.
	EventResourceAdded EventType = "resource-added"

	// EventResourceUpdated fires after an update step completes successfully.
	EventResourceUpdated EventType = "resource-updated"

	// EventResourceRemoved fires after a remove step completes successfully.
	EventResourceRemoved EventType = "resource-removed"

	// EventReconcileComplete fires once per reconciliation pass, whatever
	// the outcome.
	EventReconcileComplete EventType = "reconciliation-complete"
)

// Event is one lifecycle notification. Resource is set for added/updated,
// ResourceID for removed, and Result for reconciliation-complete.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the event type.
	Type EventType `json:"type"`

	// Kind is the resource kind the event belongs to.
	Kind Kind `json:"kind"`

	// PassID identifies the reconciliation pass that produced the event.
	PassID string `json:"pass_id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Resource is the affected resource, for added and updated events.
	Resource *Resource `json:"resource,omitempty"`

	// ResourceID is the affected resource id, for removed events.
	ResourceID string `json:"resource_id,omitempty"`

	// Result is the pass outcome, for reconciliation-complete events.
	Result *Result `json:"result,omitempty"`
}

// Subscriber is a function that handles events.
type Subscriber func(event Event)

// EventFilter determines whether a subscriber receives an event.
type EventFilter func(event Event) bool

// Publisher is the in-process notification sink: a buffered, asynchronous
// fan-out of engine events to registered subscribers.
type Publisher struct {
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber Subscriber
	filter     EventFilter
}

// NewPublisher creates a publisher with the given buffer size and starts its
// delivery goroutine. A full buffer drops events rather than blocking the
// reconciliation loop.
func NewPublisher(bufferSize int) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		buffer: make(chan Event, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(1)
	go p.deliver()

	return p
}

// Publish enqueues an event for delivery. It implements Notifier.
func (p *Publisher) Publish(event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-p.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case p.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Subscribe registers a subscriber with an optional filter. A nil filter
// receives every event.
func (p *Publisher) Subscribe(subscriber Subscriber, filter EventFilter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

func (p *Publisher) deliver() {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.buffer:
			p.mu.RLock()
			for _, entry := range p.subscribers {
				if entry.filter != nil && !entry.filter(event) {
					continue
				}
				entry.subscriber(event)
			}
			p.mu.RUnlock()
		case <-p.ctx.Done():
			// Drain anything still buffered before exiting.
			for {
				select {
				case event := <-p.buffer:
					p.mu.RLock()
					for _, entry := range p.subscribers {
						if entry.filter != nil && !entry.filter(event) {
							continue
						}
						entry.subscriber(event)
					}
					p.mu.RUnlock()
				default:
					return
				}
			}
		}
	}
}

// Shutdown stops delivery after draining buffered events.
func (p *Publisher) Shutdown(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByKind passes only events for the given resource kind.
func FilterByKind(kind Kind) EventFilter {
	return func(event Event) bool {
		return event.Kind == kind
	}
}

// FilterByType passes only events of the given types.
func FilterByType(types ...EventType) EventFilter {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}
