package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apollo-xwb/paysecure/internal/auth"
	"github.com/apollo-xwb/paysecure/internal/background"
	"github.com/apollo-xwb/paysecure/internal/config"
	"github.com/apollo-xwb/paysecure/internal/database"
	"github.com/apollo-xwb/paysecure/internal/handlers"
	"github.com/apollo-xwb/paysecure/internal/metrics"
	middlewareCustom "github.com/apollo-xwb/paysecure/internal/middleware"
	"github.com/apollo-xwb/paysecure/internal/models"
	"github.com/apollo-xwb/paysecure/internal/repositories"
	"github.com/apollo-xwb/paysecure/internal/routes"
	"github.com/apollo-xwb/paysecure/internal/services"
	pkgauth "github.com/apollo-xwb/paysecure/pkg/auth"
	pkghttp "github.com/apollo-xwb/paysecure/pkg/http"
	pkglogger "github.com/apollo-xwb/paysecure/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	// Device anomalies go to Redis when configured; otherwise they are only audit-logged
	var (
		anomalies      auth.AnomalyRecorder
		anomalyHandler *handlers.AnomalyHandler
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", slog.Any("error", err))
		}
		cancel()
		anomalyRepo := repositories.NewDeviceAnomalyRepository(client, cfg.Auth.DeviceAnomalyWindow)
		anomalies = anomalyRepo
		anomalyHandler = handlers.NewAnomalyHandler(anomalyRepo, logger)
	}

	// Initialize security components
	auditLogger := pkglogger.NewAuditLogger(logger)
	m := metrics.New(prometheus.DefaultRegisterer)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.JWTIssuer,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	lockout := auth.NewLockoutPolicy(
		cfg.Auth.LockoutThreshold,
		cfg.Auth.CustomerLockoutDuration,
		cfg.Auth.EmployeeLockoutDuration,
	)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay: cfg.Auth.TimingBaseDelay,
		Jitter:    cfg.Auth.TimingJitter,
	})

	// Initialize services
	credentials := services.NewCredentialService(accountRepo, pkgauth.NewHasher(cfg.Auth.BcryptCost), lockout, logger)
	sessions := services.NewSessionManager(sessionRepo, cfg.Auth.MaxActiveSessions, logger, auditLogger, m)
	binder := auth.NewSessionBinder(sessions, anomalies, auditLogger, logger)
	authService := services.NewAuthService(credentials, sessions, tokenManager, binder, timingDelay, logger, auditLogger, m)

	// Bootstrap the first employee account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureBootstrapEmployee(ctx, credentials, logger); err != nil {
		logger.Error("failed to ensure bootstrap employee", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers, one per portal
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	secureCookies := cfg.Server.IsProduction()
	portals := []routes.Portal{
		{
			Prefix:   "/customer",
			Audience: auth.AudienceCustomer,
			Handler: handlers.NewAuthHandler(authService, auth.AudienceCustomer, ipConfig,
				auth.CookieConfig{Secure: secureCookies, Path: "/customer/auth"}, logger),
		},
		{
			Prefix:   "/employee",
			Audience: auth.AudienceEmployee,
			Handler: handlers.NewAuthHandler(authService, auth.AudienceEmployee, ipConfig,
				auth.CookieConfig{Secure: secureCookies, Path: "/employee/auth"}, logger),
		},
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		Portals:   portals,
		Validator: authService,
		IPConfig:  ipConfig,
		RateLimit: middlewareCustom.DefaultAuthRateLimit(),
		Health:    db,
		Metrics:   promhttp.Handler(),
		Anomalies: anomalyHandler,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start session sweeper
	sweeper := background.NewSessionSweeper(sessions, logger, cfg.Auth.SessionSweepInterval)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	go sweeper.Start(sweepCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	sweeper.Stop()
	sweepCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

// ensureBootstrapEmployee creates the first employee account if BOOTSTRAP_EMPLOYEE_KEY
// and BOOTSTRAP_EMPLOYEE_SECRET are set
func ensureBootstrapEmployee(ctx context.Context, credentials *services.CredentialService, logger *slog.Logger) error {
	loginKey := os.Getenv("BOOTSTRAP_EMPLOYEE_KEY")
	secret := os.Getenv("BOOTSTRAP_EMPLOYEE_SECRET")

	if loginKey == "" || secret == "" {
		logger.Info("no BOOTSTRAP_EMPLOYEE_KEY or BOOTSTRAP_EMPLOYEE_SECRET set, skipping bootstrap")
		return nil
	}

	_, err := credentials.FindByLoginKey(ctx, loginKey)
	if err == nil {
		logger.Info("bootstrap employee already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check bootstrap employee: %w", err)
	}

	_, err = credentials.Create(ctx, services.NewAccountInput{
		LoginKey:    loginKey,
		Secret:      secret,
		Class:       models.AccountClassEmployee,
		Role:        models.RoleAdmin,
		DisplayName: "Administrator",
	})
	if err != nil {
		return fmt.Errorf("failed to create bootstrap employee: %w", err)
	}

	logger.Info("bootstrap employee created", slog.String("login_key", pkglogger.MaskLoginKey(loginKey)))
	return nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
