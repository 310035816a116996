package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/opsdesk/stepflow/pkg/channels/gochannel"
	"github.com/opsdesk/stepflow/pkg/eventbus"
	"github.com/opsdesk/stepflow/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(logger, pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.StepCompleted, 1)

	require.NoError(t, bus.Handle(events.StepCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.StepCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	published := events.StepCompleted{
		BaseEvent:      events.NewBaseEvent(events.StepCompletedEvent, "wf-1", "inst-1", "org-1"),
		StepID:         "collect",
		ExecutionOrder: 1,
		Output:         map[string]any{"company": "Acme"},
	}
	require.NoError(t, bus.Publish(ctx, "inst-1", published))

	select {
	case got := <-received:
		assert.Equal(t, published.ID, got.ID)
		assert.Equal(t, "collect", got.StepID)
		assert.Equal(t, "Acme", got.Output["company"])
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan string, 2)

	require.NoError(t, bus.Handle(events.InstanceCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.InstanceCompleted).InstanceID

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "inst-1", events.InstanceStarted{
		BaseEvent: events.NewBaseEvent(events.InstanceStartedEvent, "wf-1", "inst-1", ""),
	}))
	require.NoError(t, bus.Publish(ctx, "inst-1", events.InstanceCompleted{
		BaseEvent: events.NewBaseEvent(events.InstanceCompletedEvent, "wf-1", "inst-1", ""),
	}))

	select {
	case id := <-received:
		assert.Equal(t, "inst-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWatermillEventBus_HandleUnknownType(t *testing.T) {
	bus := newBus(t)

	err := bus.Handle("workflow.exploded", func(context.Context, any) error { return errors.New("unreachable") })
	assert.Error(t, err)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
