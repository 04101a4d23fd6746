// Package main is the entry point for the long-running event catcher.
//
// It drains AWS Config change notifications for every configured endpoint,
// one SQS long-poll loop per endpoint, and serves health probes over HTTP.
//
// Startup:
//  1. Load configuration (env > .env > SSM).
//  2. Initialize structured logger.
//  3. Build SQS, SNS and CloudWatch clients per endpoint region.
//  4. Create one stream per endpoint and register it with the supervisor.
//  5. Start the health server and run the supervisor until SIGINT/SIGTERM or
//     the first stream fails.
//
// On SIGINT/SIGTERM every stream finishes the batch in hand before it stops.
// A long poll still pending after drainTimeout is cancelled.
//
// A stream failure (queue resolution error or provider unreachable) ends the
// process with exit status 1 so the orchestrator restarts it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"eventcatcher/internal/catcher"
	"eventcatcher/internal/config"
	"eventcatcher/internal/core"
	"eventcatcher/internal/queue"
	"eventcatcher/internal/stream"
	"eventcatcher/internal/telemetry"
	"eventcatcher/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMStore(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("event catcher starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"health_port", cfg.Health.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger, newAWSClientFactory(cfg.AWS.EndpointURL))
	if err != nil {
		return err
	}
	return app.run(ctx, net.JoinHostPort("", cfg.Health.Port))
}

// sqsClient is the SQS surface used by both the poll loop and the
// acknowledger.
type sqsClient interface {
	stream.SQSAPI
	queue.SQSDeleter
}

// awsClients holds the SDK clients for one region.
type awsClients struct {
	sqs        sqsClient
	sns        stream.SNSAPI
	cloudwatch telemetry.CloudWatchClient
}

// clientFactory returns the clients for region. Tests substitute mocks.
type clientFactory func(ctx context.Context, region string) (awsClients, error)

// newAWSClientFactory builds SDK clients from the default credential chain,
// caching them per region. A non-empty endpointURL points every client at
// LocalStack.
func newAWSClientFactory(endpointURL string) clientFactory {
	cache := make(map[string]awsClients)

	return func(ctx context.Context, region string) (awsClients, error) {
		if c, ok := cache[region]; ok {
			return c, nil
		}

		awsCfg, err := config.LoadAWS(ctx, region, endpointURL)
		if err != nil {
			return awsClients{}, err
		}

		c := awsClients{
			sqs:        sqs.NewFromConfig(awsCfg),
			sns:        sns.NewFromConfig(awsCfg),
			cloudwatch: cloudwatch.NewFromConfig(awsCfg),
		}
		cache[region] = c
		return c, nil
	}
}

// app is the wired process: the supervisor with its streams, and the health
// server that reports on them.
type app struct {
	logger     *slog.Logger
	supervisor *catcher.Supervisor
	server     *core.Server

	drainTimeout time.Duration
}

// drainTimeout bounds shutdown. It stays under the 30s ECS stop timeout.
const drainTimeout = 5 * time.Second

// newApp creates one stream per configured endpoint. Any endpoint that cannot
// be wired fails startup.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, clients clientFactory) (*app, error) {
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return nil, fmt.Errorf("loading endpoints: %w", err)
	}

	typedLogger := types.NewSlogAdapter(logger)
	tracker := catcher.NewTracker(nil)
	supervisor := catcher.NewSupervisor(tracker, typedLogger)

	probes := []core.HealthProbe{
		&core.StreamProbe{Tracker: tracker, StaleAfter: cfg.Health.StaleAfter},
	}

	for _, ep := range endpoints {
		c, err := clients(ctx, ep.Region)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}

		epLogger := typedLogger.With("region", ep.Region)
		opts := []stream.Option{
			stream.WithLogger(epLogger),
			stream.WithBeforePoll(tracker.BeatFunc(ep.Name)),
		}
		if cfg.Observability.EnableMetrics {
			opts = append(opts, stream.WithMetrics(
				telemetry.NewCloudWatchMetrics(c.cloudwatch, cfg.Observability.MetricNamespace, ep.Name, epLogger),
			))
		}
		if cfg.AckEnabled() {
			acker := queue.NewSQSAcknowledger(c.sqs, ep.Name, queue.DefaultBreakerSettings(), epLogger)
			opts = append(opts, stream.WithAcknowledger(acker))
			probes = append(probes, &core.BreakerProbe{Component: "sqs-delete-" + ep.Name, Breaker: acker})
		}

		s, err := stream.New(cfg.StreamConfig(ep), c.sqs, c.sns, opts...)
		if err != nil {
			return nil, err
		}
		if err := supervisor.Add(ep.Name, s); err != nil {
			return nil, err
		}

		logger.Info("endpoint configured",
			"endpoint", ep.Name,
			"region", ep.Region,
			"queue_name", cfg.QueueName(ep),
			"topic_name", cfg.Catcher.TopicName,
		)
	}

	server, err := core.NewServer(logger, tracker, probes...)
	if err != nil {
		return nil, fmt.Errorf("creating health server: %w", err)
	}

	return &app{
		logger:       logger,
		supervisor:   supervisor,
		server:       server,
		drainTimeout: drainTimeout,
	}, nil
}

// run serves health probes on addr while the streams run. It returns when
// ctx is cancelled or a stream fails; either way the health server is shut
// down before returning.
//
// Cancelling ctx stops the streams at their next batch boundary and only
// cancels their context drainTimeout later, so acknowledgments for the
// batch in hand still go out.
func (a *app) run(ctx context.Context, addr string) error {
	streamCtx, cancelStreams := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelStreams()

	stopDrain := context.AfterFunc(ctx, func() {
		a.logger.Info("shutdown requested; draining streams", "timeout", a.drainTimeout.String())
		a.supervisor.Stop()
		time.AfterFunc(a.drainTimeout, cancelStreams)
	})
	defer stopDrain()

	g, gCtx := errgroup.WithContext(streamCtx)

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	g.Go(func() error {
		return a.server.Serve(serverCtx, addr)
	})
	g.Go(func() error {
		defer stopServer()
		return a.supervisor.Run(gCtx, catcher.LogEvent)
	})

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.logger.Info("event catcher stopped")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
