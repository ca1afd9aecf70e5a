package services

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/qagent/internal/core/domain"
)

type EventType string

const (
	EventTypeStep  EventType = "step"
	EventTypeTrace EventType = "trace"
	EventTypeToken EventType = "token"
)

// AllTopics receives every published event regardless of topic.
const AllTopics = "*"

type Event struct {
	Topic     string
	Type      EventType
	Data      string // JSON payload or raw text
	Timestamp int64
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // Key: topic (run id)
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific topic
func (b *EventBus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.subs[topic] = append(b.subs[topic], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subscribers := b.subs[topic]
			for i, sub := range subscribers {
				if sub == ch {
					close(ch)
					b.subs[topic] = append(subscribers[:i], subscribers[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}

	return ch, unsub
}

// Publish sends an event to all subscribers of its topic and of AllTopics.
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subs[e.Topic], e)
	if e.Topic != AllTopics {
		b.deliver(b.subs[AllTopics], e)
	}
}

func (b *EventBus) deliver(subscribers []chan Event, e Event) {
	for _, ch := range subscribers {
		select {
		case ch <- e:
		default:
			// If channel is full, drop event to prevent blocking application
			b.logger.Warn("event bus channel full, dropping event", "topic", e.Topic)
		}
	}
}

// PublishStep publishes a run step on the run's topic.
func (b *EventBus) PublishStep(step domain.StepEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(step)
	if err != nil {
		return
	}
	b.Publish(Event{Topic: string(step.RunID), Type: EventTypeStep, Data: string(payload)})
}
