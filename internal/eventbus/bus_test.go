package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgepilot/forgepilot/internal/eventbus"
)

func TestPublishSubscribeDelivers(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := eventbus.SessionTopic("proj-1", "feat-1")
	ch, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(topic, eventbus.Event{
		Kind:      eventbus.KindStageChanged,
		ProjectID: "proj-1",
		FeatureID: "feat-1",
		At:        time.Now(),
	}))

	select {
	case event := <-ch:
		assert.Equal(t, eventbus.KindStageChanged, event.Kind)
		assert.Equal(t, topic, event.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribersAreIsolatedByTopic(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	projectCh, err := bus.Subscribe(ctx, eventbus.ProjectTopic("proj-1"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(eventbus.SessionTopic("proj-1", "feat-1"), eventbus.Event{
		Kind: eventbus.KindExecutionStatus,
	}))

	select {
	case <-projectCh:
		t.Fatal("project subscriber should not receive session-topic events")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOverflowDeliversResyncMarkerInsteadOfBlocking(t *testing.T) {
	bus := eventbus.New(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := eventbus.ProjectTopic("proj-overflow")
	ch, err := bus.Subscribe(ctx, topic)
	require.NoError(t, err)

	// Flood well past the bounded per-subscriber buffer without ever
	// draining ch; Publish must still return promptly for every call.
	done := make(chan struct{})
	go func() {
		for i := 0; i < eventbus.DefaultSubscriberBuffer*4; i++ {
			_ = bus.Publish(topic, eventbus.Event{Kind: eventbus.KindQueueReordered})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked under subscriber backpressure")
	}

	// Drain; somewhere in the backlog a resync_required marker must appear
	// since the subscriber buffer could not possibly hold every event.
	foundResync := false
	drainDeadline := time.After(2 * time.Second)
drain:
	for {
		select {
		case event := <-ch:
			if event.Kind == eventbus.KindResyncRequired {
				foundResync = true
			}
		case <-drainDeadline:
			break drain
		}
	}

	assert.True(t, foundResync, "expected at least one resync_required marker after overflow")
}
