package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"courier/internal/breaker"
	"courier/internal/bridge"
	"courier/internal/broker"
	"courier/internal/config"
	"courier/internal/constants"
	"courier/internal/deadletter"
	"courier/internal/dispatch"
	"courier/internal/logger"
	"courier/internal/message"
	"courier/pkg/bootstrap"
	"courier/pkg/health"
	"courier/pkg/metrics"
	"courier/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	mongoClient    *mongo.Client
	producer       broker.Producer
	worker         *dispatch.Worker
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initWorker(); err != nil {
		return fmt.Errorf("failed to initialize worker: %w", err)
	}

	a.initOpsServer()

	tp, err := tracing.Init(a.config.Tracing, "dispatch-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.config.Database.RunMigrations {
		if err := bootstrap.RunMigrations(a.db, "file://migrations/postgres", a.config.Database.Postgres.DBName); err != nil {
			return err
		}
		a.logger.InfowCtx(ctx, "Migrations applied")
	}

	if a.config.Database.MongoDB.URI != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		mongoClient, err := a.dbConnector.InitMongoDB(initCtx)
		if err != nil {
			a.logger.WarnwCtx(ctx, "MongoDB connection failed, dead-letter archive disabled", "error", err)
		} else {
			a.mongoClient = mongoClient
		}
	}

	return nil
}

func (a *App) initWorker() error {
	producer, err := broker.NewProducer(a.config.Broker, "dispatch-service", a.logger)
	if err != nil {
		return err
	}
	a.producer = producer

	schedule, err := config.ParseRetrySchedule(a.config.Dispatch.RetrySchedule)
	if err != nil {
		return err
	}

	repo := message.NewRepository(a.db)

	breakerService := breaker.NewService(
		breaker.NewRepository(a.db),
		a.config.Breaker,
		a.producer,
		a.config.Broker.Kafka.AuditTopic,
		a.logger,
	)

	var archive deadletter.ArchiveRepository
	if a.mongoClient != nil {
		archive = deadletter.NewMongoArchive(a.mongoClient, a.config.Database.MongoDB.Database)
	}
	emitter := deadletter.NewEmitter(a.config.DeadLetter, a.config.Broker, a.producer, archive, a.logger)

	processor := dispatch.NewProcessor(
		repo,
		bridge.NewHTTPClient(a.config.Bridge, a.logger),
		breakerService,
		emitter,
		dispatch.NewBackoff(schedule, a.config.Dispatch.JitterMax),
		a.config.Dispatch,
		a.logger,
	)

	a.worker = dispatch.NewWorker(processor, repo, a.config.Dispatch, a.logger)

	metrics.RegisterDispatchMetrics()
	metrics.RegisterBreakerMetrics()
	metrics.RegisterBrokerMetrics()

	return nil
}

// initOpsServer exposes health and metrics; the worker has no API surface
// beyond these.
func (a *App) initOpsServer() {
	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(h)
	})
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: mux,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.worker.Run(gctx)
	})

	g.Go(func() error {
		return a.worker.RunReaper(gctx)
	})

	g.Go(func() error {
		a.logger.InfowCtx(gctx, "Ops server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ops server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if shutdownErr := a.Shutdown(ctx); shutdownErr != nil {
		if err == nil {
			err = shutdownErr
		}
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down dispatch service")

	var errs []error

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(context.Background(), nil, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Dispatch service exited successfully")
	return nil
}
