package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/walkin-queue/internal/config"
	"github.com/iliyamo/walkin-queue/internal/database"
	"github.com/iliyamo/walkin-queue/internal/handler"
	"github.com/iliyamo/walkin-queue/internal/middleware"
	"github.com/iliyamo/walkin-queue/internal/model"
	"github.com/iliyamo/walkin-queue/internal/queue"
	"github.com/iliyamo/walkin-queue/internal/repository"
	"github.com/iliyamo/walkin-queue/internal/router"
	"github.com/iliyamo/walkin-queue/internal/service"
)

func main() {
	config.LoadDotEnv()              // .env is optional
	cfg := config.Load()             // Load environment config
	qcfg := config.LoadQueueConfig() // lifecycle, sweep and history knobs
	loc := qcfg.Location()           // calendar of service dates

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("database: migrate: %v", err)
		}
	}

	// Redis is optional; nil disables shared guard tokens, rate limit and cache.
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}

	// ---- Repositories ----
	attendants := repository.NewAttendantRepo(db)
	tickets := repository.NewTicketRepo(db)
	history := repository.NewHistoryRepo(db)
	hints := repository.NewQueueStateRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	bootstrapAdmin(ctx, users, cfg)

	// ---- Events ----
	var events service.EventPublisher = service.NopPublisher{}
	if cfg.RabbitURL != "" {
		pub := queue.NewPublisher(cfg.RabbitURL)
		defer pub.Close()
		events = pub
		if cfg.EventConsumer {
			go func() {
				if err := queue.StartEventLogConsumer(ctx, cfg.RabbitURL, queue.DefaultEventLog); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("queue: event log consumer stopped: %v", err)
				}
			}()
		}
	}

	// ---- Queue core ----
	state := service.NewStateStore(attendants, tickets, hints, qcfg.OverdueAfter, nil)
	recorder := service.NewRecorder(history, service.NewOutbox(qcfg.OutboxPath), loc, qcfg.UseProcedure)
	manager := service.NewManager(service.ManagerConfig{
		Attendants:   attendants,
		Tickets:      tickets,
		Hints:        hints,
		State:        state,
		Recorder:     recorder,
		Guard:        newGuard(rdb, qcfg.GuardTTL),
		Events:       events,
		OverdueAfter: qcfg.OverdueAfter,
	})
	if _, err := state.Refresh(ctx); err != nil {
		log.Printf("queue: initial state load failed, will retry on first request: %v", err)
	}

	// ---- Periodic jobs ----
	sweeper := service.NewSweeper(state, qcfg.WarnAfter, qcfg.OverdueAfter, nil,
		service.LogAlertSink{}, service.PublisherAlertSink{Events: events})
	reconciler := service.NewReconciler(tickets, recorder, 100)
	// history reports get their own prefix so a sync can drop them alone
	hcfg := config.LoadCacheConfig()
	hcfg.Prefix += ":history"
	purger := middleware.NewCachePurger(hcfg, rdb)
	purge := func(ctx context.Context, job string) {
		if _, err := purger.Purge(ctx); err != nil {
			log.Printf("%s: cache purge failed: %v", job, err)
		}
	}

	sched := service.NewScheduler(loc, time.Minute)
	mustSchedule(sched.Add("overdue-sweep", qcfg.SweepSchedule, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	}))
	mustSchedule(sched.Add("history-sync", qcfg.SyncSchedule, func(ctx context.Context) error {
		res, err := recorder.Sync(ctx)
		if res.Synced > 0 {
			log.Printf("history-outbox: replayed %d entries, %d remaining", res.Synced, res.Remaining)
			purge(ctx, "history-sync")
		}
		return err
	}))
	mustSchedule(sched.Add("history-reconcile", qcfg.ReconcileSchedule, func(ctx context.Context) error {
		n, err := reconciler.Run(ctx)
		if n > 0 {
			log.Printf("history-reconcile: recorded %d completed tickets", n)
			purge(ctx, "history-reconcile")
		}
		return err
	}))
	sched.Start()

	sessions := service.NewSessionManager(users, tokens, cfg.JWTSecret,
		time.Duration(cfg.AccessTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTTLDays)*24*time.Hour)

	// ---- HTTP ----
	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.RequestID())
	e.Use(echomw.Logger())
	e.Use(echomw.Recover())

	authH := handler.NewAuthHandler(sessions)
	router.RegisterRoutes(e, &handler.HealthHandler{DB: db, Redis: rdb})
	router.RegisterAuth(e, authH)

	v1 := router.Protected(e, sessions, middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	router.RegisterMe(v1, authH)
	historyCache := middleware.NewRedisCache(hcfg, rdb,
		handler.SkipUncacheableHistory(loc, time.Now))
	historyH := handler.NewHistoryHandler(recorder, loc)
	historyH.Cache = purger
	router.RegisterQueue(v1, handler.NewQueueHandler(manager, state), historyH, historyCache)
	router.RegisterAdmin(v1,
		handler.NewAttendantHandler(attendants, state),
		handler.NewUserHandler(users, sessions, cfg.BcryptCost))

	addr := ":" + cfg.Port                                // Address string with port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env) // Print startup info

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) { // Start HTTP server
			log.Fatal(err) // Log and exit if server fails
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	sched.Stop(shutdownCtx)
}

// newGuard returns the per-attendant operation guard: in-process only, or
// backed by Redis tokens so several instances share it.
func newGuard(rdb *redis.Client, ttl time.Duration) service.Guard {
	local := service.NewLocalGuard()
	if rdb == nil {
		return local
	}
	return service.NewChainGuard(local, service.NewRedisGuard(rdb, "", ttl))
}

// bootstrapAdmin creates the first ADMIN account from
// BOOTSTRAP_ADMIN_USERNAME / BOOTSTRAP_ADMIN_PASSWORD when the users table
// is empty.
func bootstrapAdmin(ctx context.Context, users *repository.UserRepo, cfg config.Config) {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return
	}
	n, err := users.Count(ctx)
	if err != nil {
		log.Printf("bootstrap: count users: %v", err)
		return
	}
	if n > 0 {
		return
	}
	if _, err := users.Create(ctx, cfg.AdminUsername, "Administrator", cfg.AdminPassword, model.RoleAdmin, cfg.BcryptCost); err != nil {
		log.Printf("bootstrap: create admin: %v", err)
		return
	}
	log.Printf("bootstrap: created admin %q", cfg.AdminUsername)
}

func mustSchedule(err error) {
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
}
