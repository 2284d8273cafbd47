package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pushkernel/remoteadapter"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

type event struct {
	kind       string
	item       string
	fields     map[string]any
	isSnapshot bool
}

type recordingListener struct {
	mu     sync.Mutex
	events []event
}

func (l *recordingListener) add(e event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *recordingListener) Update(item string, fields map[string]any, isSnapshot bool) {
	l.add(event{kind: "update", item: item, fields: fields, isSnapshot: isSnapshot})
}

func (l *recordingListener) EndOfSnapshot(item string) {
	l.add(event{kind: "eos", item: item})
}

func (l *recordingListener) ClearSnapshot(item string) {
	l.add(event{kind: "clear", item: item})
}

func (l *recordingListener) DeclareFieldDiffOrder(string, map[string][]remoteadapter.DiffAlgorithm) {}

func (l *recordingListener) Failure(err error) {
	l.add(event{kind: "failure", fields: map[string]any{"error": err.Error()}})
}

func (l *recordingListener) take() []event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.events
	l.events = nil
	return events
}

func strPtr(s string) *string {
	return &s
}

func newTestProvider(t *testing.T, snapshots map[string]map[string]string) (*Provider, *recordingListener, *int) {
	t.Helper()
	p, err := New(Config{Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	loads := 0
	p.load = func(_ context.Context, item string) (map[string]string, error) {
		loads++
		snapshot, ok := snapshots[item]
		if !ok {
			return nil, errors.New("connection refused")
		}
		return snapshot, nil
	}
	l := &recordingListener{}
	p.SetListener(l)
	return p, l, &loads
}

func publish(p *Provider, item string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		panic(err)
	}
	p.handleMessage(p.keys.feedChannel(item), string(payload))
}

func TestKeys(t *testing.T) {
	k := keys{prefix: "test"}
	require.Equal(t, "test:feed:stock:1", k.feedChannel("stock:1"))
	require.Equal(t, "test:snapshot:stock:1", k.snapshotKey("stock:1"))
	require.Equal(t, "test:feed:", k.feedPrefix())
	require.Equal(t, DefaultPrefix, NewPublisher(nil, "").keys.prefix)
}

func TestApply(t *testing.T) {
	snapshot := map[string]string{"a": "1", "b": "2"}
	result := apply(snapshot, Event{Fields: map[string]*string{"a": strPtr("3"), "b": nil, "c": strPtr("4")}})
	require.Equal(t, map[string]string{"a": "3", "c": "4"}, result)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, snapshot)

	result = apply(snapshot, Event{Clear: true, Fields: map[string]*string{"c": strPtr("5")}})
	require.Equal(t, map[string]string{"c": "5"}, result)
}

func TestProvider_SubscribeSendsSnapshot(t *testing.T) {
	p, l, _ := newTestProvider(t, map[string]map[string]string{
		"item1": {"price": "10"},
		"item2": {},
	})

	available, err := p.IsSnapshotAvailable("item1")
	require.NoError(t, err)
	require.True(t, available)

	require.NoError(t, p.Subscribe("item1"))
	require.Equal(t, []event{
		{kind: "update", item: "item1", fields: map[string]any{"price": "10"}, isSnapshot: true},
		{kind: "eos", item: "item1"},
	}, l.take())

	require.NoError(t, p.Subscribe("item2"))
	require.Equal(t, []event{{kind: "eos", item: "item2"}}, l.take())
}

func TestProvider_SubscribeTwice(t *testing.T) {
	p, _, _ := newTestProvider(t, map[string]map[string]string{"item1": {}})
	require.NoError(t, p.Subscribe("item1"))
	err := p.Subscribe("item1")
	var adapterErr *remoteadapter.Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, remoteadapter.KindSubscription, adapterErr.Kind)
}

func TestProvider_SubscribeLoadError(t *testing.T) {
	p, l, _ := newTestProvider(t, nil)
	err := p.Subscribe("item1")
	var adapterErr *remoteadapter.Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, remoteadapter.KindSubscription, adapterErr.Kind)
	require.Contains(t, adapterErr.Message, "connection refused")
	require.Empty(t, l.take())

	// The failed subscription leaves no state behind.
	publish(p, "item1", Event{Fields: map[string]*string{"price": strPtr("1")}})
	require.Empty(t, l.take())
	require.Error(t, p.Unsubscribe("item1"))
}

func TestProvider_RelaysEvents(t *testing.T) {
	p, l, _ := newTestProvider(t, map[string]map[string]string{"item1": {"price": "10"}})
	require.NoError(t, p.Subscribe("item1"))
	l.take()

	publish(p, "item1", Event{Fields: map[string]*string{"price": strPtr("11"), "note": nil}})
	publish(p, "item1", Event{Clear: true})
	publish(p, "item2", Event{Fields: map[string]*string{"price": strPtr("1")}})
	require.Equal(t, []event{
		{kind: "update", item: "item1", fields: map[string]any{"price": "11", "note": nil}},
		{kind: "clear", item: "item1"},
	}, l.take())

	require.NoError(t, p.Unsubscribe("item1"))
	publish(p, "item1", Event{Fields: map[string]*string{"price": strPtr("12")}})
	require.Empty(t, l.take())
}

func TestProvider_MalformedEvent(t *testing.T) {
	var entries []remoteadapter.LogEntry
	p, err := New(Config{
		LogLevel: remoteadapter.LogLevelWarn,
		LogHandler: func(e remoteadapter.LogEntry) {
			entries = append(entries, e)
		},
	})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	l := &recordingListener{}
	p.SetListener(l)

	p.handleMessage(p.keys.feedChannel("item1"), "{not json")
	p.handleMessage("other:channel", "{}")
	require.Empty(t, l.take())
	require.Len(t, entries, 1)
	require.Equal(t, "discarding malformed event", entries[0].Message)
}

func TestProvider_CachedSnapshotFollowsEvents(t *testing.T) {
	p, l, loads := newTestProvider(t, map[string]map[string]string{"item1": {"price": "10", "note": "x"}})
	require.NoError(t, p.Subscribe("item1"))
	require.NoError(t, p.Unsubscribe("item1"))
	l.take()

	// Events of unsubscribed items still update the cached snapshot.
	publish(p, "item1", Event{Fields: map[string]*string{"price": strPtr("11"), "note": nil}})
	require.Empty(t, l.take())

	require.NoError(t, p.Subscribe("item1"))
	require.Equal(t, 1, *loads)
	require.Equal(t, []event{
		{kind: "update", item: "item1", fields: map[string]any{"price": "11"}, isSnapshot: true},
		{kind: "eos", item: "item1"},
	}, l.take())
}

func TestProvider_EventsDuringSnapshotLoad(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	l := &recordingListener{}
	p.SetListener(l)

	loading := make(chan struct{})
	release := make(chan struct{})
	p.load = func(context.Context, string) (map[string]string, error) {
		close(loading)
		<-release
		return map[string]string{"price": "10"}, nil
	}

	result := make(chan error, 1)
	go func() { result <- p.Subscribe("item1") }()
	<-loading
	publish(p, "item1", Event{Fields: map[string]*string{"price": strPtr("11")}})
	publish(p, "item1", Event{Fields: map[string]*string{"size": strPtr("3")}})
	require.Empty(t, l.take())
	close(release)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return")
	}
	require.Equal(t, []event{
		{kind: "update", item: "item1", fields: map[string]any{"price": "11", "size": "3"}, isSnapshot: true},
		{kind: "eos", item: "item1"},
	}, l.take())
}

func TestProvider_InitInvalidURL(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	err = p.Init(map[string]string{ParamURL: "http://127.0.0.1:6379"}, "")
	var adapterErr *remoteadapter.Error
	require.ErrorAs(t, err, &adapterErr)
	require.Equal(t, remoteadapter.KindDataProvider, adapterErr.Kind)
	require.Contains(t, adapterErr.Message, ParamURL)
}

func TestProvider_InitPrefix(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	require.Equal(t, fmt.Sprintf("%s:feed:", DefaultPrefix), p.keys.feedPrefix())
	// The prefix is applied before the URL is checked.
	_ = p.Init(map[string]string{ParamPrefix: "custom", ParamURL: "bad://"}, "")
	require.Equal(t, "custom:feed:", p.keys.feedPrefix())
}
