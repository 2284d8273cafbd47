package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"

	"github.com/pushkernel/remoteadapter"
	"github.com/pushkernel/remoteadapter/literal"
	"github.com/pushkernel/remoteadapter/redisfeed"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// adapterServer is implemented by both remoteadapter servers.
type adapterServer interface {
	Name() string
	Start() error
	Close() error
	Done() <-chan struct{}
	Err() error
}

// serverFactory creates a server over the configured streams. The returned
// cleanup releases the adapter once the server is done.
type serverFactory func(cfg Config, c remoteadapter.Config) (adapterServer, func() error, error)

func newDataServer(cfg Config, c remoteadapter.Config) (adapterServer, func() error, error) {
	if cfg.Redis.URL != "" {
		if c.AdapterParams == nil {
			c.AdapterParams = make(map[string]string)
		}
		c.AdapterParams[redisfeed.ParamURL] = cfg.Redis.URL
	}
	provider, err := redisfeed.New(redisfeed.Config{
		Prefix:     cfg.Redis.Prefix,
		LogLevel:   c.LogLevel,
		LogHandler: c.LogHandler,
	})
	if err != nil {
		return nil, nil, err
	}
	s, err := remoteadapter.NewDataServer(provider, c)
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	return s, provider.Close, nil
}

func newMetadataServer(_ Config, c remoteadapter.Config) (adapterServer, func() error, error) {
	s, err := remoteadapter.NewMetadataServer(literal.New(), c)
	if err != nil {
		return nil, nil, err
	}
	return s, func() error { return nil }, nil
}

// dialer connects to the Proxy Adapter.
type dialer func(ctx context.Context, address string) (net.Conn, error)

func dialTCP(ctx context.Context, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", address)
}

// runServer connects to the Proxy Adapter and runs a server until the
// connection ends or ctx is done. A close requested by the Proxy Adapter is
// not an error.
func runServer(ctx context.Context, cfg Config, newServer serverFactory, dial dialer, registry *prometheus.Registry, l *logger) error {
	conns, err := connect(ctx, cfg, dial)
	if err != nil {
		return err
	}
	c := remoteadapter.Config{
		Name:              cfg.Name,
		RequestStream:     conns[0],
		ReplyStream:       conns[0],
		RemoteUser:        cfg.User,
		RemotePassword:    cfg.Password,
		AdapterParams:     maps.Clone(cfg.Params),
		AdapterConfigPath: cfg.AdapterConfig,
		Keepalive:         cfg.Keepalive,
		PoolSize:          cfg.PoolSize,
		LogLevel:          l.level,
		LogHandler:        l.handler,
		MetricsRegisterer: registry,
		MetricsNamespace:  cfg.Metrics.Namespace,
	}
	if len(conns) > 1 {
		c.NotifyStream = conns[1]
	}
	s, cleanup, err := newServer(cfg, c)
	if err != nil {
		closeAll(conns)
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			l.log(remoteadapter.LogLevelWarn, "error releasing adapter", map[string]any{"error": err.Error()})
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Address != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Address, registry, l)
		})
	}
	if cfg.Metrics.LogInterval > 0 {
		g.Go(func() error {
			return logMetrics(ctx, cfg.Metrics.LogInterval, registry, l)
		})
	}
	g.Go(func() error {
		defer cancel()
		if err := s.Start(); err != nil {
			return err
		}
		select {
		case <-s.Done():
		case <-ctx.Done():
			_ = s.Close()
			<-s.Done()
		}
		return serverResult(s.Err())
	})
	return g.Wait()
}

func serverResult(err error) error {
	var closeErr *remoteadapter.CloseError
	if err == nil || errors.As(err, &closeErr) {
		return nil
	}
	return fmt.Errorf("server stopped: %w", err)
}

// connect opens the request and reply connection and, when configured, the
// notification one.
func connect(ctx context.Context, cfg Config, dial dialer) ([]net.Conn, error) {
	addresses := []string{cfg.Address}
	if cfg.NotifyAddress != "" {
		addresses = append(addresses, cfg.NotifyAddress)
	}
	conns := make([]net.Conn, 0, len(addresses))
	for _, address := range addresses {
		dialCtx := ctx
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			dialCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}
		conn, err := dial(dialCtx, address)
		if err != nil {
			closeAll(conns)
			return nil, fmt.Errorf("error connecting to %s: %w", address, err)
		}
		conns = append(conns, conn)
	}
	return conns, nil
}

func closeAll[T io.Closer](closers []T) {
	for _, c := range closers {
		_ = c.Close()
	}
}
