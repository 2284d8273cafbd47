package redisfeed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "remoteadapter"

// Event is the message published on the feed channel of an item. A nil field
// value removes the field from the snapshot. With Clear the snapshot is
// emptied before Fields are applied.
type Event struct {
	Fields map[string]*string `json:"fields,omitempty"`
	Clear  bool               `json:"clear,omitempty"`
}

type keys struct {
	prefix string
}

func (k keys) feedPrefix() string {
	return k.prefix + ":feed:"
}

func (k keys) feedChannel(item string) string {
	return k.feedPrefix() + item
}

func (k keys) snapshotKey(item string) string {
	return k.prefix + ":snapshot:" + item
}

// Publisher writes item events to Redis: the snapshot hash of the item is
// updated and the event is published on its feed channel in one
// transaction.
type Publisher struct {
	client redis.UniversalClient
	keys   keys
}

// NewPublisher creates a Publisher. An empty prefix means DefaultPrefix.
func NewPublisher(client redis.UniversalClient, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{client: client, keys: keys{prefix: prefix}}
}

// Publish applies the event to the snapshot of the item and broadcasts it.
func (p *Publisher) Publish(ctx context.Context, item string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	snapshotKey := p.keys.snapshotKey(item)
	set := make(map[string]any, len(ev.Fields))
	var del []string
	for name, value := range ev.Fields {
		if value == nil {
			del = append(del, name)
			continue
		}
		set[name] = *value
	}

	pipe := p.client.TxPipeline()
	if ev.Clear {
		pipe.Del(ctx, snapshotKey)
	}
	if len(del) > 0 {
		pipe.HDel(ctx, snapshotKey, del...)
	}
	if len(set) > 0 {
		pipe.HSet(ctx, snapshotKey, set)
	}
	pipe.Publish(ctx, p.keys.feedChannel(item), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event for %s: %w", item, err)
	}
	return nil
}

// Update publishes a change of some fields of the item.
func (p *Publisher) Update(ctx context.Context, item string, fields map[string]*string) error {
	return p.Publish(ctx, item, Event{Fields: fields})
}

// Clear empties the snapshot of the item.
func (p *Publisher) Clear(ctx context.Context, item string) error {
	return p.Publish(ctx, item, Event{Clear: true})
}
