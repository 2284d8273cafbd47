// Package redisfeed provides a Data Provider which relays item events
// published on Redis.
//
// Each item has a feed channel, PREFIX:feed:ITEM, carrying JSON encoded
// Event messages, and a snapshot hash, PREFIX:snapshot:ITEM, holding the
// current field values. Publisher keeps both up to date. The provider
// listens to all feed channels with a single pattern subscription and keeps
// the snapshots of recently subscribed items in an in-memory cache, so that
// resubscribing does not hit Redis.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pushkernel/remoteadapter"

	"github.com/maypok86/otter"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

// Init parameter names.
const (
	ParamURL    = "redis_url"
	ParamPrefix = "redis_prefix"
)

const (
	DefaultURL               = "redis://127.0.0.1:6379/0"
	DefaultSnapshotCacheSize = 10000
	DefaultSnapshotCacheTTL  = 10 * time.Minute
	DefaultTimeout           = 5 * time.Second
)

// Config of a Provider.
type Config struct {
	// Client to use. When nil a client is created at Init from the
	// redis_url parameter, or DefaultURL.
	Client redis.UniversalClient
	// Prefix of Redis keys and channels, DefaultPrefix when empty. The
	// redis_prefix parameter overrides it. Must not contain glob
	// characters.
	Prefix string
	// SnapshotCacheSize is the max number of cached item snapshots.
	SnapshotCacheSize int
	// SnapshotCacheTTL is how long a snapshot stays cached.
	SnapshotCacheTTL time.Duration
	// Timeout bounds Redis calls made on behalf of the Kernel.
	Timeout time.Duration
	// LogLevel and LogHandler configure logging as for the server.
	LogLevel   remoteadapter.LogLevel
	LogHandler remoteadapter.LogHandler
}

func (c Config) withDefaults() Config {
	if c.SnapshotCacheSize <= 0 {
		c.SnapshotCacheSize = DefaultSnapshotCacheSize
	}
	if c.SnapshotCacheTTL <= 0 {
		c.SnapshotCacheTTL = DefaultSnapshotCacheTTL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

type itemState struct {
	ready   bool
	pending []Event
}

// Provider is a remoteadapter.DataProvider fed from Redis.
type Provider struct {
	config    Config
	keys      keys
	client    redis.UniversalClient
	ownClient bool
	pubsub    *redis.PubSub
	load      func(ctx context.Context, item string) (map[string]string, error)
	done      chan struct{}

	mu       sync.Mutex
	listener remoteadapter.ItemEventListener
	items    map[string]*itemState
	cache    otter.Cache[string, map[string]string]
}

var _ remoteadapter.DataProvider = (*Provider)(nil)

// New creates a Provider. Redis is not contacted until Init.
func New(c Config) (*Provider, error) {
	c = c.withDefaults()
	cache, err := otter.MustBuilder[string, map[string]string](c.SnapshotCacheSize).
		Cost(func(key string, value map[string]string) uint32 {
			return uint32(len(value) + 1)
		}).
		WithTTL(c.SnapshotCacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("error creating snapshot cache: %w", err)
	}
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	p := &Provider{
		config: c,
		keys:   keys{prefix: prefix},
		client: c.Client,
		items:  make(map[string]*itemState),
		cache:  cache,
		done:   make(chan struct{}),
	}
	p.load = p.loadSnapshot
	return p, nil
}

func (p *Provider) log(level remoteadapter.LogLevel, msg string, fields map[string]any) {
	if p.config.LogHandler == nil || level < p.config.LogLevel || p.config.LogLevel == remoteadapter.LogLevelNone {
		return
	}
	p.config.LogHandler(remoteadapter.LogEntry{Level: level, Message: msg, Fields: fields})
}

// Init connects to Redis and subscribes to the feed channels.
func (p *Provider) Init(params map[string]string, _ string) error {
	if prefix := params[ParamPrefix]; prefix != "" {
		p.keys.prefix = prefix
	}
	if p.client == nil {
		url := params[ParamURL]
		if url == "" {
			url = DefaultURL
		}
		opts, err := redis.ParseURL(url)
		if err != nil {
			return remoteadapter.NewDataProviderError(fmt.Sprintf("invalid %s: %v", ParamURL, err))
		}
		p.client = redis.NewClient(opts)
		p.ownClient = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()
	pattern := p.keys.feedPrefix() + "*"
	pubsub := p.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return remoteadapter.NewDataProviderError(fmt.Sprintf("error subscribing to %s: %v", pattern, err))
	}
	p.pubsub = pubsub
	p.log(remoteadapter.LogLevelInfo, "subscribed to item feeds", map[string]any{"pattern": pattern})
	return nil
}

// SetListener starts relaying events.
func (p *Provider) SetListener(listener remoteadapter.ItemEventListener) {
	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()
	if p.pubsub != nil {
		go p.run(p.pubsub.Channel())
	}
}

func (p *Provider) run(ch <-chan *redis.Message) {
	defer close(p.done)
	for msg := range ch {
		p.handleMessage(msg.Channel, msg.Payload)
	}
}

// IsSnapshotAvailable is always true: the snapshot is read from the cache or
// the snapshot hash, possibly empty.
func (p *Provider) IsSnapshotAvailable(string) (bool, error) {
	return true, nil
}

// Subscribe sends the snapshot of the item and starts relaying its events.
func (p *Provider) Subscribe(item string) error {
	p.mu.Lock()
	if _, ok := p.items[item]; ok {
		p.mu.Unlock()
		return remoteadapter.NewSubscriptionError("item already subscribed: " + item)
	}
	st := &itemState{}
	p.items[item] = st
	if snapshot, ok := p.cache.Get(item); ok {
		p.sendSnapshot(item, st, snapshot)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.config.Timeout)
	defer cancel()
	snapshot, err := p.load(ctx, item)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		delete(p.items, item)
		return remoteadapter.NewSubscriptionError(fmt.Sprintf("error loading snapshot of %s: %v", item, err))
	}
	// Events received while loading may or may not be in the snapshot,
	// applying them again converges to the same state.
	for _, ev := range st.pending {
		snapshot = apply(snapshot, ev)
	}
	st.pending = nil
	p.cache.Set(item, snapshot)
	p.sendSnapshot(item, st, snapshot)
	return nil
}

func (p *Provider) sendSnapshot(item string, st *itemState, snapshot map[string]string) {
	if len(snapshot) > 0 {
		fields := make(map[string]any, len(snapshot))
		for name, value := range snapshot {
			fields[name] = value
		}
		p.listener.Update(item, fields, true)
	}
	p.listener.EndOfSnapshot(item)
	st.ready = true
}

func (p *Provider) loadSnapshot(ctx context.Context, item string) (map[string]string, error) {
	return p.client.HGetAll(ctx, p.keys.snapshotKey(item)).Result()
}

// Unsubscribe stops relaying events of the item. Its cached snapshot is kept
// up to date.
func (p *Provider) Unsubscribe(item string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.items[item]; !ok {
		return remoteadapter.NewSubscriptionError("item not subscribed: " + item)
	}
	delete(p.items, item)
	return nil
}

func (p *Provider) handleMessage(channel, payload string) {
	item, ok := strings.CutPrefix(channel, p.keys.feedPrefix())
	if !ok {
		return
	}
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		p.log(remoteadapter.LogLevelWarn, "discarding malformed event", map[string]any{"item": item, "error": err.Error()})
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if snapshot, ok := p.cache.Get(item); ok {
		p.cache.Set(item, apply(snapshot, ev))
	}
	st, ok := p.items[item]
	if !ok {
		return
	}
	if !st.ready {
		st.pending = append(st.pending, ev)
		return
	}
	if ev.Clear {
		p.listener.ClearSnapshot(item)
	}
	if len(ev.Fields) > 0 {
		fields := make(map[string]any, len(ev.Fields))
		for name, value := range ev.Fields {
			if value == nil {
				fields[name] = nil
			} else {
				fields[name] = *value
			}
		}
		p.listener.Update(item, fields, false)
	}
}

// apply returns a copy of the snapshot with the event applied.
func apply(snapshot map[string]string, ev Event) map[string]string {
	result := make(map[string]string, len(snapshot)+len(ev.Fields))
	if !ev.Clear {
		for name, value := range snapshot {
			result[name] = value
		}
	}
	for name, value := range ev.Fields {
		if value == nil {
			delete(result, name)
		} else {
			result[name] = *value
		}
	}
	return result
}

// Close stops relaying events and releases Redis resources.
func (p *Provider) Close() error {
	var errs []error
	if p.pubsub != nil {
		errs = append(errs, p.pubsub.Close())
		p.mu.Lock()
		started := p.listener != nil
		p.mu.Unlock()
		if started {
			<-p.done
		}
	}
	p.cache.Close()
	if p.ownClient {
		errs = append(errs, p.client.Close())
	}
	return errors.Join(errs...)
}
