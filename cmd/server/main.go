package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ocrforge/procdispatch/internal/api/debug"
	"github.com/ocrforge/procdispatch/internal/api/mux"
	"github.com/ocrforge/procdispatch/internal/api/routes"
	"github.com/ocrforge/procdispatch/internal/app/describe"
	"github.com/ocrforge/procdispatch/internal/app/janitor"
	"github.com/ocrforge/procdispatch/internal/app/launch"
	"github.com/ocrforge/procdispatch/internal/app/scheduler"
	"github.com/ocrforge/procdispatch/internal/config"
	"github.com/ocrforge/procdispatch/internal/domain/events"
	"github.com/ocrforge/procdispatch/internal/domain/job"
	"github.com/ocrforge/procdispatch/internal/infra/eventbus"
	"github.com/ocrforge/procdispatch/internal/infra/eventbus/kafka"
	"github.com/ocrforge/procdispatch/internal/infra/pool"
	"github.com/ocrforge/procdispatch/internal/infra/procrunner"
	"github.com/ocrforge/procdispatch/pkg/common/logger"
	"github.com/ocrforge/procdispatch/pkg/common/otel"
)

var build = "develop"

const serviceType = "procdispatch"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("PROCDISPATCH-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log := logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)

	// -------------------------------------------------------------------------
	// Configuration
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      serviceType,
		ExporterEndpoint: cfg.Otel.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
			"/debug":        {},
		},
		Probability: cfg.Otel.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Otel.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(serviceType)

	// -------------------------------------------------------------------------
	// Initialize Event Bus
	var publisher events.DomainEventPublisher
	if cfg.Kafka.Enabled {
		log.Info(ctx, "startup", "status", "initializing event bus", "brokers", cfg.Kafka.Brokers)

		bus, err := kafka.ConnectEventBus(ctx, kafka.Config{
			Brokers:           cfg.Kafka.Brokers,
			JobLifecycleTopic: cfg.Kafka.JobLifecycleTopic,
			ClientID:          cfg.Kafka.ClientID,
		}, log)
		if err != nil {
			return fmt.Errorf("connecting event bus: %w", err)
		}
		defer bus.Close()

		publisher = eventbus.NewDomainEventPublisher(bus)
	}

	// -------------------------------------------------------------------------
	// Start Debug Service

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Web.DebugHost)

		if err := http.ListenAndServe(cfg.Web.DebugHost, debug.Mux()); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Build Scheduler and Application Services

	log.Info(ctx, "startup", "status", "initializing scheduler",
		"core_size", cfg.Pools.CoreSize, "time_consuming_size", cfg.Pools.TimeConsumingSize)

	corePool, err := pool.New(string(job.PoolCore), cfg.Pools.CoreSize, log)
	if err != nil {
		return fmt.Errorf("creating core pool: %w", err)
	}
	tcPool, err := pool.New(string(job.PoolTimeConsuming), cfg.Pools.TimeConsumingSize, log)
	if err != nil {
		return fmt.Errorf("creating time-consuming pool: %w", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Pools: map[job.Pool]*pool.Pool{
			job.PoolCore:          corePool,
			job.PoolTimeConsuming: tcPool,
		},
		Publisher: publisher,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}

	launcher, err := launch.New(launch.Config{
		ProjectRoot:   cfg.Processor.ProjectRoot,
		InputFlag:     cfg.Processor.InputFlag,
		OutputFlag:    cfg.Processor.OutputFlag,
		TimeConsuming: cfg.Processor.TimeConsuming,
		Log:           log,
	})
	if err != nil {
		return fmt.Errorf("creating launcher: %w", err)
	}

	describer, err := describe.New(describe.Config{
		DescriptionFlag: cfg.Processor.DescriptionFlag,
		Factory: func(command string) describe.Process {
			return procrunner.New("", command)
		},
		Log: log,
	})
	if err != nil {
		return fmt.Errorf("creating describer: %w", err)
	}

	jan, err := janitor.New(janitor.Config{
		Schedule:  cfg.Janitor.Schedule,
		Retention: cfg.Janitor.Retention,
		Purger:    sched,
		Log:       log,
	})
	if err != nil {
		return fmt.Errorf("creating janitor: %w", err)
	}
	jan.Start()

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	cfgMux := mux.Config{
		Build:     build,
		Log:       log,
		Tracer:    tracer,
		Scheduler: sched,
		Launcher:  launcher,
		Describer: describer,
	}

	webAPI := mux.WebAPI(cfgMux,
		routes.Routes(),
		mux.WithCORS([]string{"*"}),
	)

	api := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      webAPI,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := api.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}

		if err := jan.Stop(ctx); err != nil {
			log.Error(ctx, "shutdown", "status", "janitor stop", "err", err)
		}

		if err := sched.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop scheduler gracefully: %w", err)
		}
	}

	return nil
}
