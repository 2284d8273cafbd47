//go:build integration

package redisfeed

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testRedisURL = "redis://127.0.0.1:6379/9"

func getUniquePrefix() string {
	return "remoteadapter-test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func TestProvider_Redis(t *testing.T) {
	opts, err := redis.ParseURL(testRedisURL)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	prefix := getUniquePrefix()
	publisher := NewPublisher(client, prefix)
	ctx := context.Background()
	require.NoError(t, publisher.Update(ctx, "item1", map[string]*string{"price": strPtr("10")}))

	p, err := New(Config{Prefix: prefix})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()
	require.NoError(t, p.Init(map[string]string{ParamURL: testRedisURL}, ""))
	l := &recordingListener{}
	p.SetListener(l)

	require.NoError(t, p.Subscribe("item1"))
	require.Equal(t, []event{
		{kind: "update", item: "item1", fields: map[string]any{"price": "10"}, isSnapshot: true},
		{kind: "eos", item: "item1"},
	}, l.take())

	require.NoError(t, publisher.Update(ctx, "item1", map[string]*string{"price": strPtr("11")}))
	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return len(l.events) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []event{
		{kind: "update", item: "item1", fields: map[string]any{"price": "11"}},
	}, l.take())

	require.NoError(t, publisher.Clear(ctx, "item1"))
	snapshot, err := client.HGetAll(ctx, publisher.keys.snapshotKey("item1")).Result()
	require.NoError(t, err)
	require.Empty(t, snapshot)
}
