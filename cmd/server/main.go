package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"pawbase/internal/handover"
	handoverhandler "pawbase/internal/handover/handler"
	handovermetrics "pawbase/internal/handover/metrics"
	handoverstore "pawbase/internal/handover/store"
	handovermem "pawbase/internal/handover/store/memory"
	handoverpg "pawbase/internal/handover/store/postgres"
	jwttoken "pawbase/internal/jwt_token"
	"pawbase/internal/notify"
	"pawbase/internal/platform/httpserver"
	"pawbase/internal/onboarding"
	onboardinghandler "pawbase/internal/onboarding/handler"
	"pawbase/internal/platform/config"
	"pawbase/internal/platform/kafka/producer"
	"pawbase/internal/platform/logger"
	platformmetrics "pawbase/internal/platform/metrics"
	platformredis "pawbase/internal/platform/redis"
	registryhandler "pawbase/internal/registry/handler"
	registrymetrics "pawbase/internal/registry/metrics"
	registryservice "pawbase/internal/registry/service"
	registrystore "pawbase/internal/registry/store"
	registrymem "pawbase/internal/registry/store/memory"
	registrypg "pawbase/internal/registry/store/postgres"
	"pawbase/internal/registry/store/rediscache"
	"pawbase/internal/transition"
	transitionhandler "pawbase/internal/transition/handler"
	httptransport "pawbase/internal/transport/http"
	"pawbase/pkg/platform/audit"
	"pawbase/pkg/platform/audit/publisher"
	auditkafka "pawbase/pkg/platform/audit/store/kafka"
	auditmem "pawbase/pkg/platform/audit/store/memory"
	auditpg "pawbase/pkg/platform/audit/store/postgres"
	"pawbase/pkg/platform/circuit"
)

// main wires the stores, services, and HTTP surface. Business logic lives in
// the internal packages; this file only chooses implementations from config.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	var db *sql.DB
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		for _, schema := range []string{registrypg.Schema, handoverpg.Schema, auditpg.Schema} {
			if _, err := db.Exec(schema); err != nil {
				log.Error("failed to apply schema", "error", err)
				os.Exit(1)
			}
		}
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Audit trail: primary store plus an optional Kafka sink, published
	// asynchronously so request latency never waits on the trail.
	var auditStore audit.Store
	if db != nil {
		auditStore = auditpg.New(db)
	} else {
		auditStore = auditmem.NewInMemoryStore()
	}

	publisherOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer),
	}
	var kafkaProducer *producer.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err = producer.New(cfg.Kafka.Brokers, producer.WithClientID("pawbase"))
		if err != nil {
			log.Error("failed to build kafka producer", "error", err)
			os.Exit(1)
		}
		defer kafkaProducer.Close()
		publisherOpts = append(publisherOpts,
			publisher.WithSink(auditkafka.NewSink(kafkaProducer, cfg.Kafka.AuditTopic)))
	}
	auditPublisher := publisher.NewPublisher(auditStore, publisherOpts...)
	defer auditPublisher.Close()

	// Registry store: postgres behind a redis read cache when configured,
	// in-memory otherwise.
	regMetrics := registrymetrics.New()
	var regStore registrystore.Store
	if db != nil {
		regStore = registrypg.New(db)
	} else {
		regStore = registrymem.New()
	}
	if redisClient != nil {
		regStore = rediscache.New(regStore, redisClient.Client, cfg.Redis.CacheTTL, regMetrics)
	}

	registrySvc, err := registryservice.New(regStore,
		registryservice.WithLogger(log),
		registryservice.WithMetrics(regMetrics),
		registryservice.WithAuditPublisher(auditPublisher),
	)
	if err != nil {
		log.Error("failed to build registry service", "error", err)
		os.Exit(1)
	}

	transitionSvc, err := transition.New(registrySvc, transition.WithLogger(log))
	if err != nil {
		log.Error("failed to build transition service", "error", err)
		os.Exit(1)
	}

	orchestrator, err := onboarding.New(registrySvc, onboarding.WithLogger(log))
	if err != nil {
		log.Error("failed to build onboarding orchestrator", "error", err)
		os.Exit(1)
	}

	// Handover: OTP store plus the coordinator. Notifications go to the log
	// sender until a real mail gateway is wired.
	var hoStore handoverstore.Store
	if db != nil {
		hoStore = handoverpg.New(db)
	} else {
		hoStore = handovermem.New()
	}

	notifier, err := notify.New(notify.NewLogSender(log), notify.StaticContacts{},
		notify.WithLogger(log),
		notify.WithBreaker(circuit.New("mail", circuit.WithFailureThreshold(5), circuit.WithSuccessThreshold(2))),
	)
	if err != nil {
		log.Error("failed to build notifier", "error", err)
		os.Exit(1)
	}

	coordinator, err := handover.New(hoStore, registrySvc,
		handover.WithLogger(log),
		handover.WithMetrics(handovermetrics.New()),
		handover.WithAuditPublisher(auditPublisher),
		handover.WithNotifier(notifier),
		handover.WithAdoptionWindow(cfg.Handover.AdoptionWindow),
		handover.WithCareWindow(cfg.Handover.CareWindow),
	)
	if err != nil {
		log.Error("failed to build handover coordinator", "error", err)
		os.Exit(1)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		Metrics:      platformmetrics.New(),
		JWTValidator: jwttoken.NewJWTServiceAdapter(jwtService),
		Registry:     registryhandler.New(registrySvc, log),
		Transition:   transitionhandler.New(transitionSvc, log),
		Onboarding:   onboardinghandler.New(orchestrator, log),
		Handover:     handoverhandler.New(coordinator, log),
	})

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting pawbase", "addr", cfg.Addr, "postgres", db != nil, "redis", redisClient != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("server error", "error", err)
		os.Exit(1)
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
