package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/openjobspec/ojs-jobstore-nats/internal/core"
)

// PubSubBroker publishes and subscribes to scheduling events using NATS
// core pub/sub. When the events stream exists it also captures them.
type PubSubBroker struct {
	nc   *nats.Conn
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewPubSubBroker creates a new PubSubBroker using the given NATS connection.
func NewPubSubBroker(nc *nats.Conn) *PubSubBroker {
	return &PubSubBroker{nc: nc}
}

// PublishSchedulingEvent publishes an event on the subject of its type.
func (b *PubSubBroker) PublishSchedulingEvent(event *core.SchedulingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(EventSubject(event.Type), data); err != nil {
		slog.Error("failed to publish scheduling event", "error", err, "type", event.Type)
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe subscribes to events of one type.
func (b *PubSubBroker) Subscribe(eventType string) (<-chan *core.SchedulingEvent, func(), error) {
	return b.subscribe(EventSubject(eventType))
}

// SubscribeAll subscribes to all events.
func (b *PubSubBroker) SubscribeAll() (<-chan *core.SchedulingEvent, func(), error) {
	return b.subscribe(EventsAllSubject())
}

func (b *PubSubBroker) subscribe(subject string) (<-chan *core.SchedulingEvent, func(), error) {
	ch := make(chan *core.SchedulingEvent, 64)

	var once sync.Once
	var closed bool
	var chMu sync.Mutex
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var event core.SchedulingEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Error("failed to unmarshal event", "error", err)
			return
		}
		chMu.Lock()
		defer chMu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- &event:
		default:
			slog.Warn("dropping event, subscriber channel full", "subject", subject)
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	unsubscribe := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			chMu.Lock()
			closed = true
			close(ch)
			chMu.Unlock()
		})
	}
	return ch, unsubscribe, nil
}

// Close unsubscribes all subscriptions.
func (b *PubSubBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	return nil
}
