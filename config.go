package remoteadapter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Environment variables overriding Config values.
const (
	EnvKeepaliveMillis  = "lightstreamer.keepalive.millis"
	EnvDataPoolSize     = "lightstreamer.data.pool.size"
	EnvMetadataPoolSize = "lightstreamer.metadata.pool.size"
)

const (
	// DefaultKeepalive is used until the Proxy Adapter hints otherwise when
	// no keepalive is configured.
	DefaultKeepalive = 10 * time.Second
	// MinKeepalive is the lower bound for keepalive intervals suggested by
	// the Proxy Adapter.
	MinKeepalive = 1 * time.Second
	// StrictKeepalive is used with Proxy Adapters which give no hint.
	StrictKeepalive = 1 * time.Second
)

// Config contains server configuration options.
type Config struct {
	// Name identifies the server in logs. A random UUID is used when empty.
	Name string
	// RequestStream is where requests from the Proxy Adapter are read.
	RequestStream io.Reader
	// ReplyStream is where replies to the Proxy Adapter are written.
	ReplyStream io.Writer
	// NotifyStream is where Data notifications are written. When nil a
	// DataServer writes them on ReplyStream. Unused by MetadataServer.
	NotifyStream io.Writer
	// RemoteUser and RemotePassword are sent to the Proxy Adapter to
	// authenticate, if set.
	RemoteUser     string
	RemotePassword string
	// AdapterParams are merged into the init parameters received from the
	// Proxy Adapter, taking precedence over them.
	AdapterParams map[string]string
	// AdapterConfigPath is passed to the adapter Init.
	AdapterConfigPath string
	// Keepalive is the interval of silence after which a keepalive is sent.
	// Nil means not configured: a default is used and the Proxy Adapter
	// hint is followed. Zero disables keepalives unless the Proxy Adapter
	// asks for them.
	Keepalive *time.Duration
	// PoolSize is the number of goroutines executing adapter calls. Zero or
	// negative means unlimited, 1 means strictly sequential. Nil means
	// unlimited unless set through the environment.
	PoolSize *int
	// ExceptionHandler is notified of fatal errors.
	ExceptionHandler ExceptionHandler
	// LogLevel is a log level to use. By default nothing will be logged.
	LogLevel LogLevel
	// LogHandler is a handler func server will send logs to.
	LogHandler LogHandler
	// MetricsRegisterer is where metrics are registered, the default
	// prometheus registerer when nil.
	MetricsRegisterer prometheus.Registerer
	// MetricsNamespace is a namespace of metrics, "lightstreamer" by default.
	MetricsNamespace string
}

// Validate validates config and returns error if problems found.
func (c *Config) Validate() error {
	if c.RequestStream == nil {
		return errors.New("request stream not set")
	}
	if c.ReplyStream == nil {
		return errors.New("reply stream not set")
	}
	if c.Keepalive != nil && *c.Keepalive < 0 {
		return fmt.Errorf("invalid keepalive %s", *c.Keepalive)
	}
	return nil
}

// withDefaults returns a copy of the config with the name set and the
// environment overrides applied.
func (c Config) withDefaults(poolSizeEnv string) (Config, error) {
	if c.Name == "" {
		c.Name = uuid.NewString()
	}
	if err := c.applyEnv(poolSizeEnv); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv(poolSizeEnv string) error {
	if c.Keepalive == nil {
		if v, ok := os.LookupEnv(EnvKeepaliveMillis); ok {
			millis, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s configuration: %s", EnvKeepaliveMillis, v)
			}
			if millis < 0 {
				millis = 0
			}
			d := time.Duration(millis) * time.Millisecond
			c.Keepalive = &d
		}
	}
	if c.PoolSize == nil && poolSizeEnv != "" {
		if v, ok := os.LookupEnv(poolSizeEnv); ok {
			size, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s configuration: %s", poolSizeEnv, v)
			}
			c.PoolSize = &size
		}
	}
	return nil
}

func (c *Config) poolSize() int {
	if c.PoolSize == nil {
		return 0
	}
	return *c.PoolSize
}

// credentials returns the parameters of the credentials message. The close
// packet is always requested.
func (c *Config) credentials() map[string]string {
	params := make(map[string]string, 3)
	if c.RemoteUser != "" {
		params["user"] = c.RemoteUser
	}
	if c.RemotePassword != "" {
		params["password"] = c.RemotePassword
	}
	params["enableClosePacket"] = "true"
	return params
}
