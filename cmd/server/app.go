package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"onboarding/internal/agent/correlation"
	"onboarding/internal/agent/gateway"
	agenthandler "onboarding/internal/agent/handler"
	agentmetrics "onboarding/internal/agent/metrics"
	"onboarding/internal/agent/normalizer"
	"onboarding/internal/agent/provider"
	"onboarding/internal/alert"
	eventservice "onboarding/internal/eventlog/service"
	eventstore "onboarding/internal/eventlog/store"
	formhandler "onboarding/internal/forms/handler"
	formservice "onboarding/internal/forms/service"
	formstore "onboarding/internal/forms/store"
	jwttoken "onboarding/internal/jwt_token"
	killhandler "onboarding/internal/killswitch/handler"
	killservice "onboarding/internal/killswitch/service"
	notificationhandler "onboarding/internal/notification/handler"
	notificationservice "onboarding/internal/notification/service"
	notificationstore "onboarding/internal/notification/store"
	"onboarding/internal/platform/config"
	"onboarding/internal/platform/httpserver"
	"onboarding/internal/platform/kafka"
	"onboarding/internal/platform/metrics"
	"onboarding/internal/platform/outbox"
	"onboarding/internal/platform/postgres"
	platformredis "onboarding/internal/platform/redis"
	signalconsumer "onboarding/internal/signal/consumer"
	signalhandler "onboarding/internal/signal/handler"
	signalservice "onboarding/internal/signal/service"
	wfhandler "onboarding/internal/workflow/handler"
	wfmetrics "onboarding/internal/workflow/metrics"
	"onboarding/internal/workflow/models"
	wfservice "onboarding/internal/workflow/service"
	wfstore "onboarding/internal/workflow/store"
	"onboarding/internal/workflow/sweeper"
	"onboarding/pkg/platform/httputil"
	"onboarding/pkg/platform/middleware/access"
	authmw "onboarding/pkg/platform/middleware/auth"
	"onboarding/pkg/platform/middleware/ratelimit"
	"onboarding/pkg/platform/middleware/request"
	"onboarding/pkg/platform/middleware/requesttime"
	txcontext "onboarding/pkg/platform/tx"
)

type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	redis    *platformredis.Client
	producer *kafka.Producer
	router   http.Handler
	gateway  *gateway.Gateway
	sweeper  *sweeper.Sweeper
	relay    *sweeper.Sweeper
	consumer *kafka.Consumer
}

type workflowStore interface {
	wfservice.Store
	notificationservice.WorkflowChecker
}

// build wires every component. Missing database, redis or kafka settings
// select the in-memory stores and the log-only alert path.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	m := metrics.New()

	var (
		workflows     workflowStore
		events        eventservice.Store
		notifications notificationservice.Store
		forms         formservice.Store
		runner        txcontext.Runner = txcontext.NoopRunner{}
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		a.db = db
		workflows = wfstore.NewPostgres(db)
		events = eventstore.NewPostgres(db)
		notifications = notificationstore.NewPostgres(db)
		forms = formstore.NewPostgres(db)
		runner = txcontext.NewSQLRunner(db)
	} else {
		logger.WarnContext(ctx, "database.url not set; using in-memory stores")
		workflows = wfstore.NewInMemory()
		events = eventstore.NewInMemory()
		notifications = notificationstore.NewInMemory()
		forms = formstore.NewInMemory()
	}

	var correlations gateway.CorrelationStore = correlation.NewInMemory()
	rc, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		a.close()
		return nil, err
	}
	if rc != nil {
		a.redis = rc
		correlations = correlation.NewRedis(rc.Client, correlation.WithTTL(cfg.Redis.KeyTTL))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers,
			kafka.WithClientID("onboarding"),
			kafka.WithProducerLogger(logger))
		if err != nil {
			a.close()
			return nil, err
		}
		a.producer = producer
		if err := kafka.EnsureTopics(ctx, producer.Client(), cfg.Kafka.Partitions, cfg.Kafka.Replication,
			cfg.Kafka.EventsTopic, cfg.Kafka.AlertsTopic, cfg.Kafka.ResumeTopic); err != nil {
			logger.WarnContext(ctx, "kafka topic provisioning failed", "error", err)
		}
	}

	notificationSvc := notificationservice.New(notifications, workflows, notificationservice.WithLogger(logger))
	eventSvc := eventservice.New(events,
		eventservice.WithLogger(logger),
		eventservice.WithObserver(notificationSvc))

	engine, err := wfservice.New(workflows, eventSvc,
		wfservice.WithLogger(logger),
		wfservice.WithMetrics(wfmetrics.New()),
		wfservice.WithTx(runner),
		wfservice.WithCapabilityDeadlines(func(c models.Capability) time.Duration {
			return cfg.Agents.CapabilityDeadline(string(c))
		}))
	if err != nil {
		a.close()
		return nil, err
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithMetrics(agentmetrics.New()),
		gateway.WithNormalizers(normalizer.Default(cfg.Agents.RiskThreshold)),
		gateway.WithPool(cfg.Agents.Workers, cfg.Agents.QueueSize),
		gateway.WithRetry(cfg.Agents.MaxAttempts, cfg.Agents.InitialBackoff, cfg.Agents.MaxBackoff),
	}
	for name, p := range cfg.Agents.Providers {
		capability := models.Capability(name)
		if p.URL == "" || !capability.IsValid() {
			continue
		}
		gwOpts = append(gwOpts, gateway.WithProvider(capability, provider.NewClient(name, p.URL, p.Timeout)))
	}
	gw := gateway.New(correlations, gwOpts...)
	a.gateway = gw

	signalSvc := signalservice.New(engine, eventSvc,
		signalservice.WithLogger(logger),
		signalservice.WithCorrelations(gw))
	engine.SetDispatcher(gw)
	gw.SetFailureHook(engine.RecordDispatchFailure)
	gw.SetSignalSink(signalSvc)

	formSvc := formservice.New(forms, engine, eventSvc,
		formservice.WithLogger(logger),
		formservice.WithTx(runner),
		formservice.WithTTL(cfg.Forms.DefaultTTL, cfg.Forms.MaxTTL))

	var alertPublisher alert.Publisher
	if a.producer != nil {
		alertPublisher = a.producer
	}
	killSvc := killservice.New(engine, formSvc, eventSvc,
		killservice.WithLogger(logger),
		killservice.WithCorrelations(gw),
		killservice.WithAlerter(alert.New(alertPublisher, cfg.Kafka.AlertsTopic,
			alert.WithLogger(logger),
			alert.WithMetrics(m))))

	a.sweeper = sweeper.New(cfg.Sweep.Interval, []sweeper.Pass{
		sweeper.PassFunc{PassName: "workflow-waits", Fn: func(ctx context.Context, now time.Time) error {
			_, err := engine.SweepExpired(ctx, now, cfg.Sweep.BatchSize)
			return err
		}},
		sweeper.PassFunc{PassName: "form-expiry", Fn: func(ctx context.Context, now time.Time) error {
			_, err := formSvc.ExpireStale(ctx, now, cfg.Sweep.BatchSize)
			return err
		}},
	}, sweeper.WithLogger(logger))

	if a.db != nil && a.producer != nil {
		relay := outbox.NewRelay(outbox.NewPostgres(a.db), a.producer, runner, cfg.Kafka.EventsTopic,
			outbox.WithLogger(logger),
			outbox.WithMetrics(m),
			outbox.WithBatchSize(cfg.Kafka.RelayBatchSize))
		a.relay = sweeper.New(cfg.Kafka.RelayInterval, []sweeper.Pass{
			sweeper.PassFunc{PassName: "outbox-relay", Fn: func(ctx context.Context, now time.Time) error {
				_, err := relay.RelayOnce(ctx, now)
				return err
			}},
		}, sweeper.WithLogger(logger))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, []string{cfg.Kafka.ResumeTopic},
			signalconsumer.New(signalSvc, logger),
			kafka.WithConsumerLogger(logger),
			kafka.WithConsumerMetrics(m))
		if err != nil {
			a.close()
			return nil, err
		}
		a.consumer = consumer
	}

	validator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience))
	secret := []byte(cfg.Agents.WebhookSecret)

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(chimw.Recoverer)
	r.Use(access.Middleware(m, logger))

	r.Get("/healthz", a.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	var limits ratelimit.Store = ratelimit.NewInMemoryStore()
	if a.redis != nil {
		limits = ratelimit.NewRedisStore(a.redis.Client)
	}
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.New(limits, cfg.RateLimit.Callbacks, cfg.RateLimit.Window,
			ratelimit.WithPrefix("callbacks"), ratelimit.WithLogger(logger)).Middleware)
		agenthandler.New(gw, secret, logger).Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.New(limits, cfg.RateLimit.PublicForms, cfg.RateLimit.Window,
			ratelimit.WithPrefix("forms"), ratelimit.WithLogger(logger)).Middleware)
		formhandler.New(formSvc, logger).RegisterPublic(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(authmw.OptionalAuth(validator, logger))
		signalhandler.New(signalSvc, secret, logger).Register(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(validator, logger))
		wfhandler.New(engine, logger).Register(r)
		formhandler.New(formSvc, logger).Register(r)
		killhandler.New(killSvc, logger).Register(r)
		notificationhandler.New(notificationSvc, logger).Register(r)
	})
	a.router = r
	return a, nil
}

// serve runs the HTTP server and every background worker until ctx ends or
// one of them fails.
func (a *app) serve(ctx context.Context) error {
	srv := httpserver.New(a.cfg.Server.Addr, a.router)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "starting onboarding coordinator", "addr", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return ignoreCancel(a.gateway.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(a.sweeper.Run(ctx)) })
	if a.relay != nil {
		g.Go(func() error { return ignoreCancel(a.relay.Run(ctx)) })
	}
	if a.consumer != nil {
		g.Go(func() error { return ignoreCancel(a.consumer.Run(ctx)) })
	}
	return g.Wait()
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	if a.db != nil {
		check("postgres", a.db.PingContext)
	}
	if a.redis != nil {
		check("redis", a.redis.Health)
	}
	if a.producer != nil {
		check("kafka", a.producer.Ping)
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]any{"healthy": healthy, "checks": checks})
}

func (a *app) close() {
	if a.producer != nil {
		a.producer.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
