package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/camguard/internal/accessibility"
	"github.com/technosupport/camguard/internal/agent"
	"github.com/technosupport/camguard/internal/api"
	"github.com/technosupport/camguard/internal/cameras"
	"github.com/technosupport/camguard/internal/data"
	"github.com/technosupport/camguard/internal/executor"
	"github.com/technosupport/camguard/internal/guard"
	"github.com/technosupport/camguard/internal/health"
	"github.com/technosupport/camguard/internal/incidents"
	"github.com/technosupport/camguard/internal/notify"
	"github.com/technosupport/camguard/internal/planner"
	"github.com/technosupport/camguard/internal/ratelimit"
	"github.com/technosupport/camguard/internal/scheduler"
	"github.com/technosupport/camguard/internal/timeline"
	"github.com/technosupport/camguard/internal/tokens"
	"github.com/technosupport/camguard/internal/triggers"
	"github.com/technosupport/camguard/internal/tuning"
	"github.com/technosupport/camguard/internal/warehouse"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres is mandatory.
	db, err := sql.Open("postgres", postgresDSN())
	if err != nil {
		log.Fatalf("server: open postgres: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(15 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("server: ping postgres: %v", err)
	}
	log.Println("server: postgres connected")

	// Redis is optional; without it the trigger routes run unthrottled.
	var rdb *redis.Client
	if addr := getEnv("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("server: redis unavailable (%v), rate limiting disabled", err)
			rdb = nil
		}
	}

	// NATS is optional; the warehouse degrades to log-and-skip.
	var nc *nats.Conn
	if url := getEnv("NATS_URL", ""); url != "" {
		nc, err = nats.Connect(url,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second))
		if err != nil {
			log.Printf("server: nats unavailable (%v), warehouse disabled", err)
			nc = nil
		}
	}

	// Repositories.
	incidentModel := data.IncidentModel{DB: db}
	cameraModel := data.CameraModel{DB: db}
	policyModel := data.PolicyModel{DB: db}
	planModel := data.PlanModel{DB: db}
	timelineModel := data.TimelineModel{DB: db}
	actionModel := data.ActionLogModel{DB: db}
	noteModel := data.AgentNoteModel{DB: db}
	chatModel := data.ChatLogModel{DB: db}
	updateModel := data.ConfigUpdateModel{DB: db}

	// Timeline pipeline: durable row -> ring -> hub; ring drains to NATS.
	sink := warehouse.NewSink(nc)
	ring := timeline.NewRing(10_000)
	hub := timeline.NewHub()
	logger := timeline.NewLogger(timelineModel, ring, hub, sink)

	// Guard limits hot-reload from YAML.
	limitsPath := getEnv("GUARD_CONFIG_PATH", "config/default.yaml")
	limits := guard.NewLimitsProvider(limitsPath)
	limits.StartWatcher(ctx)
	safetyGuard := guard.New(limits.Current)

	camSvc := cameras.NewService(cameraModel, policyModel)

	pln := planner.New(planner.Config{
		APIKey:      os.Getenv("ANTHROPIC_API_KEY"),
		FastModel:   getEnv("PLANNER_FAST_MODEL", ""),
		StrongModel: getEnv("PLANNER_STRONG_MODEL", ""),
	})

	notifier := notify.NewClient(notify.Config{
		AccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
		FromNumber:    os.Getenv("TWILIO_FROM_NUMBER"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
	})

	registry := incidents.NewRegistry()
	exec := executor.New(notifier, incidentModel, actionModel, logger, sink, registry)
	incSvc := incidents.NewService(incidentModel, planModel, noteModel, camSvc, pln, safetyGuard, exec, logger, sink, registry)
	router := triggers.NewRouter(incidentModel, incSvc, camSvc, pln, safetyGuard, exec, logger)

	agentSvc := agent.NewService(noteModel, chatModel, timelineModel, camSvc, pln, sink)

	// Polly needs an AWS region; without one the speak endpoint returns 503.
	var speech *accessibility.Service
	if region := os.Getenv("AWS_REGION"); region != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			log.Printf("server: aws config: %v, speech disabled", err)
			speech = accessibility.NewService(nil, pln)
		} else {
			speech = accessibility.NewService(polly.NewFromConfig(awsCfg), pln)
		}
	} else {
		speech = accessibility.NewService(nil, pln)
	}

	tokenMgr := tokens.NewManager(getEnv("JWT_SIGNING_KEY", "dev-signing-key-change-me"))

	var limiter *ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewLimiter(rdb, getEnv("RATE_LIMIT_SALT", ""))
	}

	tuner := tuning.NewTuner(camSvc, incidentModel, updateModel, logger, sink)
	sched := scheduler.New(
		scheduler.Job{Name: "timeline-flush", Interval: 10 * time.Second, Run: func(ctx context.Context) {
			logger.Flush(ctx)
		}},
		scheduler.Job{Name: "config-tuning", Interval: 5 * time.Minute, Run: func(ctx context.Context) {
			tuner.ApplySuggestions(ctx)
		}},
	)
	sched.Start(ctx)

	handler := api.NewRouter(api.Handlers{
		Incidents:     api.NewIncidentHandler(incSvc, incidentModel, planModel, timelineModel),
		Cameras:       api.NewCameraHandler(camSvc),
		Triggers:      api.NewTriggerHandler(router),
		Twilio:        api.NewTwilioHandler(incSvc, getEnv("PUBLIC_BASE_URL", "http://localhost:8080")),
		Agent:         api.NewAgentHandler(agentSvc),
		Accessibility: api.NewAccessibilityHandler(speech, incSvc),
		WS:            api.NewWSHandler(hub, tokenMgr),
		Tokens:        api.NewTokenHandler(tokenMgr),
		Health:        health.NewChecker(db, rdb, nc),
		Limiter:       limiter,
		TriggerRate: ratelimit.Config{
			Rate:   envInt("RATE_LIMIT_RPM", 120),
			Window: time.Minute,
		},
	})

	srv := &http.Server{
		Addr:              ":" + getEnv("PORT", "8080"),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("server: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server: shutdown: %v", err)
	}

	registry.CancelAll()
	if n := logger.Flush(shutdownCtx); n > 0 {
		log.Printf("server: flushed %d buffered events", n)
	}
	if nc != nil {
		nc.Drain()
	}
	log.Println("server: stopped")
}

func postgresDSN() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("DB_USER", "camguard"),
		os.Getenv("DB_PASSWORD"),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "camguard"),
		getEnv("DB_SSLMODE", "disable"))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
