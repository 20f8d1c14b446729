package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTickerBatchIngested EventType = "TICKER_BATCH_INGESTED"
	EventSignalGenerated     EventType = "SIGNAL_GENERATED"
	EventCriticalVolatility  EventType = "CRITICAL_VOLATILITY"
	EventNewListing          EventType = "NEW_LISTING"
	EventConnectionStatus    EventType = "CONNECTION_STATUS"
	EventOutcomeRecorded     EventType = "OUTCOME_RECORDED"
	EventSnapshotPublished   EventType = "SNAPSHOT_PUBLISHED"
	EventError               EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishIngested publishes a ticker batch ingested pulse
func (eb *EventBus) PublishIngested(batchSize, newListings int) {
	eb.Publish(Event{
		Type: EventTickerBatchIngested,
		Data: map[string]interface{}{
			"batch_size":   batchSize,
			"new_listings": newListings,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(symbol, direction, entryType string, confidence, price float64) {
	eb.Publish(Event{
		Type: EventSignalGenerated,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"entry_type": entryType,
			"confidence": confidence,
			"price":      price,
		},
	})
}

// PublishCriticalVolatility publishes a critical volatility edge alert
func (eb *EventBus) PublishCriticalVolatility(symbol string, change24h float64) {
	eb.Publish(Event{
		Type: EventCriticalVolatility,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"change_24h": change24h,
		},
	})
}

// PublishNewListing publishes a newly listed symbol event
func (eb *EventBus) PublishNewListing(symbol string, price float64) {
	eb.Publish(Event{
		Type: EventNewListing,
		Data: map[string]interface{}{
			"symbol": symbol,
			"price":  price,
		},
	})
}

// PublishConnectionStatus publishes a stream connectivity change
func (eb *EventBus) PublishConnectionStatus(connected bool) {
	eb.Publish(Event{
		Type: EventConnectionStatus,
		Data: map[string]interface{}{
			"connected": connected,
		},
	})
}

// PublishOutcome publishes a graded signal outcome
func (eb *EventBus) PublishOutcome(symbol, outcome string, pnlPercent, confidence float64) {
	eb.Publish(Event{
		Type: EventOutcomeRecorded,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"outcome":     outcome,
			"pnl_percent": pnlPercent,
			"confidence":  confidence,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
