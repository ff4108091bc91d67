package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dukex/pulse/pkg/channels/kafka"
	"github.com/dukex/pulse/pkg/cmd"
	"github.com/dukex/pulse/pkg/config"
	"github.com/dukex/pulse/pkg/log"
	"github.com/dukex/pulse/pkg/otelhelper"
	"github.com/dukex/pulse/pkg/session"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel"
)

const serviceName = "pulse-api"

func main() {
	defaults := config.Default()

	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Track task and workflow progress and stream it to observers",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML file with default settings",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaults.Port,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Usage:   "Directory holding one SQLite database per entity",
				Value:   defaults.DataDir,
				Sources: cli.EnvVars("DATA_DIR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   defaults.LogFormat,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.DurationFlag{
				Name:    "idle-timeout",
				Usage:   "Hibernate actors idle for longer than this",
				Value:   defaults.IdleTimeout,
				Sources: cli.EnvVars("IDLE_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Usage:   "How often to look for idle actors",
				Value:   defaults.SweepInterval,
				Sources: cli.EnvVars("SWEEP_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "write-timeout",
				Usage:   "Deadline for a single WebSocket frame write",
				Value:   defaults.WriteTimeout,
				Sources: cli.EnvVars("WRITE_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Lifecycle event bus (none, memory, kafka)",
				Value:   defaults.EventBus.Type,
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	cfg, err := resolveConfig(command)
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing Pulse API", "data_dir", cfg.DataDir, "event_bus", cfg.EventBus.Type)

	tracer := otelhelper.NoopTracer()

	if cfg.Tracing {
		var shutdown func(context.Context) error

		tracer, shutdown, err = otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()
	}

	var metrics session.Metrics = session.NopMetrics{}

	sessionMetrics, err := otelhelper.NewSessionMetrics(otel.GetMeterProvider().Meter(serviceName))
	if err != nil {
		logger.WarnContext(ctx, "Session metrics disabled", "error", err)
	} else {
		metrics = sessionMetrics
	}

	eventBus, err := cmd.NewEventBus(cfg.EventBus.Type, cfg.EventBus.Brokers, logger)
	if err != nil {
		return err
	}

	if eventBus != nil {
		defer func() {
			if err := eventBus.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
			}
		}()

		err = cmd.SubscribeAudit(ctx, eventBus, logger)
		if err != nil {
			return err
		}
	}

	api, err := NewAPI(logger, cfg, tracer, metrics, eventBus)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "Listening", "port", cfg.Port)

	return api.Start(ctx, cfg.Port)
}

// resolveConfig layers explicitly set flags and environment variables over
// the config file, which in turn is layered over the defaults.
func resolveConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.LoadOrDefault(command.String("config"))
	if err != nil {
		return cfg, err
	}

	if command.IsSet("port") {
		cfg.Port = command.Int("port")
	}

	if command.IsSet("data-dir") {
		cfg.DataDir = command.String("data-dir")
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = strings.ToLower(command.String("log-level"))
	}

	if command.IsSet("log-format") {
		cfg.LogFormat = command.String("log-format")
	}

	if command.IsSet("idle-timeout") {
		cfg.IdleTimeout = command.Duration("idle-timeout")
	}

	if command.IsSet("sweep-interval") {
		cfg.SweepInterval = command.Duration("sweep-interval")
	}

	if command.IsSet("write-timeout") {
		cfg.WriteTimeout = command.Duration("write-timeout")
	}

	if command.IsSet("event-bus") {
		cfg.EventBus.Type = strings.ToLower(command.String("event-bus"))
	}

	if command.IsSet("kafka-brokers") {
		cfg.EventBus.Brokers = kafka.ParseBrokers(command.String("kafka-brokers"))
	}

	if command.IsSet("tracing") {
		cfg.Tracing = command.Bool("tracing")
	}

	return cfg, cfg.Validate()
}
