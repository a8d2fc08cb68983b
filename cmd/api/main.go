package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-gateway/internal/auth"
	"voice-gateway/internal/callcontrol"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/config"
	"voice-gateway/internal/hours"
	"voice-gateway/internal/identity"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/notify"
	"voice-gateway/internal/permission"
	"voice-gateway/internal/records"
	"voice-gateway/internal/signaling"
	"voice-gateway/internal/signature"
	"voice-gateway/pkg/logger"
	"voice-gateway/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("gateway failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	startTime := time.Now()

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return err
	}
	defer rdb.Close()

	recordsRepo := records.NewPostgresRepo(db)
	if err := recordsRepo.EnsureSchema(ctx); err != nil {
		return err
	}
	callers := identity.NewPostgresResolver(db)
	if err := callers.EnsureSchema(ctx); err != nil {
		return err
	}

	schedule, err := loadSchedule(cfg.Hours)
	if err != nil {
		return err
	}

	pool, err := signaling.NewPortPool(cfg.Media.RTPPortMin, cfg.Media.RTPPortMax)
	if err != nil {
		return err
	}

	callControl := callcontrol.New(callcontrol.Options{
		BaseURL:          cfg.CallAPI.BaseURL,
		AccessToken:      cfg.CallAPI.AccessToken,
		PhoneNumberID:    cfg.CallAPI.PhoneNumberID,
		Timeout:          cfg.CallAPI.Timeout,
		TemplateName:     cfg.CallAPI.PermissionTemplate,
		TemplateLanguage: cfg.CallAPI.PermissionTemplateLang,
		Logger:           log,
	})

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Slack.WebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.WebhookURL, log)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	counters := metrics.NewCounters(reg)

	permissions := permission.NewManager(permission.DefaultPolicy(), callControl, log)
	permissions.OnRequest = func(ctx context.Context, r permission.Request) {
		if err := callers.Remember(ctx, r.Phone, r.Identity); err != nil {
			log.Warn("caller identity not persisted", "permission_id", r.ID, "err", err)
		}
	}
	sig := signaling.NewHandler(pool, cfg.Media.PublicIP, log)
	controller := calls.NewController(calls.Deps{
		Signaling:   sig,
		Gate:        hours.NewGate(schedule, hours.NewRedisCallbackQueue(rdb, hours.DefaultCallbackKey), log),
		CallControl: callControl,
		Identities:  identity.Chain{callers, permissions},
		Permissions: permissions,
		Records:     records.NewService(recordsRepo),
		Notifier:    notifier,
		Metrics:     counters,
		Logger:      log,
	})
	reg.MustRegister(metrics.NewCollector(sig, controller, startTime))

	verifier := signature.NewVerifier(signature.Options{
		Secret:        cfg.Webhook.AppSecret,
		AllowUnsigned: cfg.Webhook.AllowUnsigned,
		Logger:        log,
	})

	limiter := newLimiter(cfg.RateLimit)
	go limiter.Run(ctx.Done(), 5*time.Minute)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:         cfg,
		db:          db,
		rdb:         rdb,
		registry:    reg,
		verifier:    verifier,
		auth:        authManager,
		limiter:     limiter,
		controller:  controller,
		permissions: permissions,
		counters:    counters,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env,
			"rtp_ports", pool.Snapshot().Total)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if n := len(controller.Status().Calls); n > 0 {
		log.Warn("shutting down with live calls", "count", n)
	}
	return nil
}

func loadSchedule(cfg config.HoursConfig) (*hours.Schedule, error) {
	if cfg.File == "" {
		return hours.AlwaysOpenSchedule(cfg.Timezone)
	}
	return hours.LoadSchedule(cfg.File, cfg.Timezone)
}
