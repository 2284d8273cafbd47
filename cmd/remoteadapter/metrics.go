package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pushkernel/remoteadapter"

	"github.com/FZambia/eagle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func newMetricsRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer, l *logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	l.log(remoteadapter.LogLevelInfo, "serving metrics", map[string]any{"address": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// logMetrics periodically logs a flattened snapshot of the gathered metrics.
func logMetrics(ctx context.Context, interval time.Duration, gatherer prometheus.Gatherer, l *logger) error {
	sink := make(chan eagle.Metrics)
	exporter := eagle.New(eagle.Config{
		Gatherer: gatherer,
		Interval: interval,
		Sink:     sink,
	})
	if _, err := exporter.Export(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case metrics := <-sink:
			items := metrics.Flatten(".")
			fields := make(map[string]any, len(items))
			for name, value := range items {
				fields[name] = value
			}
			l.log(remoteadapter.LogLevelInfo, "metrics snapshot", fields)
		}
	}
}
