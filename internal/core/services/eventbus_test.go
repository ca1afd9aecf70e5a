package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/qagent/internal/core/domain"
)

func TestEventBus_PubSub(t *testing.T) {
	bus := NewEventBus(quietLogger())

	ch, unsub := bus.Subscribe("run-123")
	defer unsub()

	bus.Publish(Event{Topic: "run-123", Type: EventTypeToken, Data: "Jon"})

	select {
	case received := <-ch:
		assert.Equal(t, "run-123", received.Topic)
		assert.Equal(t, "Jon", received.Data)
		assert.NotZero(t, received.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(quietLogger())

	ch, unsub := bus.Subscribe("run-456")
	unsub()
	unsub() // idempotent

	bus.Publish(Event{Topic: "run-456", Type: EventTypeStep, Data: "should not receive"})

	_, ok := <-ch
	assert.False(t, ok, "channel is closed on unsubscribe")
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := NewEventBus(quietLogger())

	ch1, unsub1 := bus.Subscribe("run-multi")
	defer unsub1()
	ch2, unsub2 := bus.Subscribe("run-multi")
	defer unsub2()
	other, unsub3 := bus.Subscribe("run-other")
	defer unsub3()

	bus.Publish(Event{Topic: "run-multi", Data: "broadcast"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, "broadcast", e.Data)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
	assert.Empty(t, other)
}

func TestEventBus_AllTopics(t *testing.T) {
	bus := NewEventBus(quietLogger())

	all, unsub := bus.Subscribe(AllTopics)
	defer unsub()

	bus.Publish(Event{Topic: "run-a", Data: "a"})
	bus.Publish(Event{Topic: "run-b", Data: "b"})

	require.Len(t, all, 2)
	assert.Equal(t, "run-a", (<-all).Topic)
	assert.Equal(t, "run-b", (<-all).Topic)
}

func TestEventBus_FullChannelDrops(t *testing.T) {
	bus := NewEventBus(quietLogger())

	ch, unsub := bus.Subscribe("busy")
	defer unsub()

	for i := 0; i < 150; i++ {
		bus.Publish(Event{Topic: "busy", Data: "x"})
	}
	assert.Len(t, ch, 100)
}

func TestEventBus_PublishStep(t *testing.T) {
	bus := NewEventBus(quietLogger())

	ch, unsub := bus.Subscribe("run-1")
	defer unsub()

	bus.PublishStep(domain.StepEvent{RunID: "run-1", Turn: 2, Kind: domain.StepToolCall, Tool: "search"})

	e := <-ch
	assert.Equal(t, EventTypeStep, e.Type)
	var step domain.StepEvent
	require.NoError(t, json.Unmarshal([]byte(e.Data), &step))
	assert.Equal(t, 2, step.Turn)
	assert.Equal(t, domain.StepToolCall, step.Kind)
	assert.Equal(t, "search", step.Tool)
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() {
		bus.Publish(Event{Topic: "x"})
		bus.PublishStep(domain.StepEvent{RunID: "x"})
	})
}
