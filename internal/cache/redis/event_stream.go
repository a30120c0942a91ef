package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lmsrd/internal/domain"
)

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~. Old entries get trimmed once cold storage has them.
const streamMaxLen int64 = 10000

// EventStream implements domain.EventSink on top of Redis. Every event is
// appended to a stream for durable, ordered consumption (indexers, the
// archiver) and published on a Pub/Sub channel for live fanout to
// websocket clients. Publish failures are logged and swallowed; a sink
// must never unwind a committed transition.
type EventStream struct {
	rdb    *redis.Client
	stream string
	logger *slog.Logger
}

// NewEventStream creates an EventStream writing to the named stream. The
// Pub/Sub channel shares the stream name.
func NewEventStream(c *Client, stream string, logger *slog.Logger) *EventStream {
	return &EventStream{
		rdb:    c.Underlying(),
		stream: stream,
		logger: logger.With("component", "event_stream"),
	}
}

// Publish appends the event to the stream and fans it out over Pub/Sub.
func (es *EventStream) Publish(ctx context.Context, ev domain.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		es.logger.Error("marshal event", "event_id", ev.ID, "error", err)
		return
	}

	args := &redis.XAddArgs{
		Stream: es.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := es.rdb.XAdd(ctx, args).Err(); err != nil {
		es.logger.Error("stream append", "event_id", ev.ID, "error", err)
	}

	if err := es.rdb.Publish(ctx, es.stream, payload).Err(); err != nil {
		es.logger.Error("publish event", "event_id", ev.ID, "error", err)
	}
}

// Subscribe returns a channel of live events. The subscription closes when
// ctx is cancelled; the returned channel is closed at that point as well.
// Slow consumers drop events rather than block the reader.
func (es *EventStream) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := es.rdb.Subscribe(ctx, es.stream)

	// Verify the subscription is established before handing out the channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", es.stream, err)
	}

	out := make(chan domain.Event, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					es.logger.Warn("decode event", "error", err)
					continue
				}
				select {
				case out <- ev:
				default:
					es.logger.Warn("subscriber lagging, dropping event", "event_id", ev.ID)
				}
			}
		}
	}()

	return out, nil
}

// ReadHistory reads up to count events from the stream after lastID. Use
// "0" to read from the beginning or "$" for new entries only. It returns
// an empty slice when nothing is available.
func (es *EventStream) ReadHistory(ctx context.Context, lastID string, count int) ([]domain.Event, error) {
	args := &redis.XReadArgs{
		Streams: []string{es.stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}

	results, err := es.rdb.XRead(ctx, args).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", es.stream, err)
	}

	var events []domain.Event
	for _, s := range results {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["payload"]
			if !ok {
				continue
			}
			str, ok := raw.(string)
			if !ok {
				continue
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(str), &ev); err != nil {
				es.logger.Warn("decode stream entry", "stream_id", msg.ID, "error", err)
				continue
			}
			events = append(events, ev)
		}
	}

	return events, nil
}

// Compile-time interface check.
var _ domain.EventSink = (*EventStream)(nil)
