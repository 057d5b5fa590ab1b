package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// DefaultSubscriberBuffer is the minimum per-subscriber channel capacity
// required by spec.md S4.2 ("at least 64 events").
const DefaultSubscriberBuffer = 64

// Bus is a topic-based publish/subscribe broker built on watermill's
// in-process gochannel transport. Grounded on the opencode event Bus, but
// adds the bounded-buffer-plus-resync-marker semantics the pipeline needs:
// a slow subscriber never blocks a publisher, it just learns it missed
// events and must re-fetch from the Store.
type Bus struct {
	backbone *gochannel.GoChannel
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[string][]*subscription
}

type subscription struct {
	out      chan Event
	resynced bool
}

// New constructs a Bus. logger defaults to slog.Default() when nil.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	backbone := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            int64(DefaultSubscriberBuffer),
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		watermill.NewStdLogger(false, false),
	)

	return &Bus{
		backbone: backbone,
		logger:   logger,
		subs:     make(map[string][]*subscription),
	}
}

// Publish sends event to topic. Publish never blocks on a slow subscriber:
// the watermill backbone itself is drained promptly by per-subscription
// pump goroutines (see Subscribe), and within that pump a full subscriber
// buffer results in a resync_required marker rather than a stall.
func (b *Bus) Publish(topic string, event Event) error {
	event.Topic = topic

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.backbone.Publish(topic, msg)
}

// Subscribe opens a bounded channel of Events for topic. The returned
// channel is closed when ctx is cancelled. Callers that fall behind receive
// a KindResyncRequired event in place of whatever was dropped, rather than
// an inconsistent skip they can't detect.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan Event, error) {
	raw, err := b.backbone.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	sub := &subscription{out: make(chan Event, DefaultSubscriberBuffer)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	go b.pump(ctx, topic, sub, raw)

	return sub.out, nil
}

func (b *Bus) pump(ctx context.Context, topic string, sub *subscription, raw <-chan *message.Message) {
	defer close(sub.out)
	defer b.removeSubscription(topic, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-raw:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()

			b.deliver(sub, event)
		}
	}
}

// deliver keeps the last buffer slot free for the resync marker, so a
// subscriber that falls behind always finds the marker after the events it
// did receive. Only the pump goroutine sends on sub.out, so the length check
// cannot race with another sender.
func (b *Bus) deliver(sub *subscription, event Event) {
	if len(sub.out) < cap(sub.out)-1 {
		sub.out <- event
		sub.resynced = false
		return
	}
	if sub.resynced {
		return // a resync marker is already pending delivery, don't pile up
	}
	sub.resynced = true

	marker := Event{Topic: event.Topic, Kind: KindResyncRequired, ProjectID: event.ProjectID, At: event.At}
	select {
	case sub.out <- marker:
	default:
	}
}

func (b *Bus) removeSubscription(topic string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[topic]
	for i, s := range list {
		if s == target {
			b.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// Close releases the underlying transport. Any active Subscribe channels
// are closed as their context is cancelled independently.
func (b *Bus) Close() error {
	return b.backbone.Close()
}
