package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pushkernel/remoteadapter"
	"github.com/pushkernel/remoteadapter/redisfeed"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type options struct {
	configFile     string
	address        string
	notifyAddress  string
	logLevel       string
	logFormat      string
	metricsAddress string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "remoteadapter",
		Short: "Run a Remote Data or Metadata Adapter against a Proxy Adapter",
		Long: `remoteadapter connects to the ports of a Proxy Adapter and serves its
requests with one of the bundled adapters: a Data Adapter relaying item
events published on Redis, or a literal based Metadata Adapter.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&opts.address, "address", "", "Proxy Adapter request/reply address")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, none")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	root.PersistentFlags().StringVar(&opts.metricsAddress, "metrics-address", "", "address to serve /metrics on")

	data := &cobra.Command{
		Use:   "data",
		Short: "Run the Redis fed Data Adapter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd.Context(), opts, newDataServer, true)
		},
	}
	data.Flags().StringVar(&opts.notifyAddress, "notify-address", "", "Proxy Adapter notification address, empty for a single connection")

	metadata := &cobra.Command{
		Use:   "metadata",
		Short: "Run the literal based Metadata Adapter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd.Context(), opts, newMetadataServer, false)
		},
	}

	root.AddCommand(data, metadata, newPublishCmd(opts))
	return root
}

// loadConfig reads the config file and applies the flags.
func (o *options) loadConfig() (Config, error) {
	cfg, err := LoadConfig(o.configFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if o.address != "" {
		cfg.Address = o.address
	}
	if o.notifyAddress != "" {
		cfg.NotifyAddress = o.notifyAddress
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.metricsAddress != "" {
		cfg.Metrics.Address = o.metricsAddress
	}
	return cfg, cfg.Validate()
}

func runCommand(ctx context.Context, opts *options, newServer serverFactory, notifications bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if !notifications {
		cfg.NotifyAddress = ""
	}
	l := &logger{
		level:   remoteadapter.LogStringToLevel(cfg.Log.Level),
		handler: newLogHandler(os.Stderr, cfg.Log.Format),
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = runServer(ctx, cfg, newServer, dialTCP, newMetricsRegistry(), l)
	if err != nil {
		l.log(remoteadapter.LogLevelError, "adapter stopped", map[string]any{"error": err.Error()})
	}
	return err
}

func newPublishCmd(opts *options) *cobra.Command {
	var clearSnapshot bool
	cmd := &cobra.Command{
		Use:   "publish ITEM [FIELD=VALUE | FIELD]...",
		Short: "Publish an item event for the Data Adapter",
		Long: `Publish updates the snapshot of ITEM on Redis and broadcasts the event to
the running Data Adapters. FIELD=VALUE sets a field, a bare FIELD removes it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			url := cfg.Redis.URL
			if url == "" {
				url = redisfeed.DefaultURL
			}
			redisOpts, err := redis.ParseURL(url)
			if err != nil {
				return err
			}
			client := redis.NewClient(redisOpts)
			defer func() { _ = client.Close() }()
			ev := redisfeed.Event{Clear: clearSnapshot, Fields: parseFields(args[1:])}
			if !ev.Clear && len(ev.Fields) == 0 {
				return errors.New("nothing to publish")
			}
			return redisfeed.NewPublisher(client, cfg.Redis.Prefix).Publish(cmd.Context(), args[0], ev)
		},
	}
	cmd.Flags().BoolVar(&clearSnapshot, "clear", false, "clear the snapshot before applying the fields")
	return cmd
}

func parseFields(args []string) map[string]*string {
	if len(args) == 0 {
		return nil
	}
	fields := make(map[string]*string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			fields[name] = nil
			continue
		}
		fields[name] = &value
	}
	return fields
}
