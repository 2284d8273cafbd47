package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pushkernel/remoteadapter"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
name: feed-1
address: proxy:6661
notify_address: proxy:6662
keepalive: 2s
pool_size: 4
params:
  allowed_users: alice,bob
log:
  level: debug
  format: json
metrics:
  address: ":9090"
  log_interval: 1m
redis:
  url: redis://redis:6379/1
  prefix: feed
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "feed-1", cfg.Name)
	require.Equal(t, "proxy:6661", cfg.Address)
	require.Equal(t, "proxy:6662", cfg.NotifyAddress)
	require.Equal(t, 2*time.Second, *cfg.Keepalive)
	require.Equal(t, 4, *cfg.PoolSize)
	require.Equal(t, map[string]string{"allowed_users": "alice,bob"}, cfg.Params)
	require.Equal(t, LogConfig{Level: "debug", Format: "json"}, cfg.Log)
	require.Equal(t, time.Minute, cfg.Metrics.LogInterval)
	require.Equal(t, RedisConfig{URL: "redis://redis:6379/1", Prefix: "feed"}, cfg.Redis)
	// Missing values keep their defaults.
	require.Equal(t, DefaultConfig.ConnectTimeout, cfg.ConnectTimeout)
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultConfig, cfg)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadConfig(writeConfig(t, "address: [unclosed"))
	require.ErrorContains(t, err, "error parsing")

	_, err = LoadConfig(writeConfig(t, "log:\n  format: xml\n"))
	require.ErrorContains(t, err, `unknown log format "xml"`)

	_, err = LoadConfig(writeConfig(t, "keepalive: -1s\n"))
	require.ErrorContains(t, err, "keepalive")
}

func TestOptions_LoadConfig(t *testing.T) {
	opts := &options{
		configFile:     writeConfig(t, "address: proxy:6661\n"),
		address:        "other:7000",
		logLevel:       "warn",
		metricsAddress: ":9100",
	}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	require.Equal(t, "other:7000", cfg.Address)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, ":9100", cfg.Metrics.Address)
}

func TestParseFields(t *testing.T) {
	require.Nil(t, parseFields(nil))
	fields := parseFields([]string{"price=10", "note=", "stale", "expr=a=b"})
	require.Len(t, fields, 4)
	require.Equal(t, "10", *fields["price"])
	require.Equal(t, "", *fields["note"])
	require.Nil(t, fields["stale"])
	require.Equal(t, "a=b", *fields["expr"])
}

func TestJSONLogHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := newLogHandler(&buf, "json")
	handler(remoteadapter.LogEntry{
		Level:   remoteadapter.LogLevelWarn,
		Message: "stream failure",
		Fields:  map[string]any{"server": "feed-1", "count": 3},
	})
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "warn", record["level"])
	require.Equal(t, "stream failure", record["msg"])
	require.Equal(t, "feed-1", record["server"])
	require.Equal(t, float64(3), record["count"])
	require.NotEmpty(t, record["time"])
}

func TestLogger_Level(t *testing.T) {
	var entries []remoteadapter.LogEntry
	l := &logger{
		level:   remoteadapter.LogLevelInfo,
		handler: func(e remoteadapter.LogEntry) { entries = append(entries, e) },
	}
	l.log(remoteadapter.LogLevelDebug, "hidden", nil)
	l.log(remoteadapter.LogLevelError, "shown", nil)
	require.Len(t, entries, 1)
	require.Equal(t, "shown", entries[0].Message)

	(&logger{}).log(remoteadapter.LogLevelError, "dropped", nil)
}

func TestTextLogHandler(t *testing.T) {
	var buf bytes.Buffer
	newLogHandler(&buf, "text")(remoteadapter.LogEntry{Level: remoteadapter.LogLevelInfo, Message: "server started"})
	require.Contains(t, buf.String(), "[info] server started")
}
