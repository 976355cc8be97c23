package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/walletcore/internal/auth"
	"github.com/congo-pay/walletcore/internal/config"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/lookup"
	"github.com/congo-pay/walletcore/internal/middleware"
	"github.com/congo-pay/walletcore/internal/notification"
	"github.com/congo-pay/walletcore/internal/payments"
	"github.com/congo-pay/walletcore/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Store overrides the ledger backend chosen from DB.
	Store ledger.Store
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	store := d.Store
	switch {
	case store != nil:
	case d.DB != nil:
		store = ledger.NewPostgres(d.DB)
	case d.Cfg.IsDevelopment():
		d.Logger.Warn("no database configured, balances live in memory")
		store = ledger.NewInMemory()
	default:
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{AllowOrigins: d.Cfg.Origins()}))
	app.Use(middleware.RequestID(d.Logger))
	app.Use(middleware.Audit(d.Logger))
	if d.Cfg.IsDevelopment() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}

	RegisterHealthRoutes(app, d)

	// Services and handlers
	var cache wallet.BalanceCache = wallet.NewMemoryCache()
	notifiers := notification.Multi{notification.NewLoggerNotifier(d.Logger)}
	var events *notification.RedisNotifier
	if d.Cache != nil {
		cache = wallet.NewRedisBalanceCache(d.Cache, d.Cfg.BalanceCacheTTL)
		events = notification.NewRedisNotifier(d.Cache, d.Logger)
		notifiers = append(notifiers, events)
	}

	issuer := auth.NewIssuer(d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL)
	resolver := lookup.NewResolver(store)
	walletSvc := wallet.NewService(store, cache, d.Logger, d.Cfg.HistoryMaxPage)
	paymentSvc := payments.NewService(store, resolver, notifiers, d.Logger, payments.RetryPolicy{
		MaxAttempts: d.Cfg.TransferMaxAttempts,
		BaseDelay:   d.Cfg.TransferRetryBaseDelay,
	})

	walletHandler := wallet.NewHandler(walletSvc, issuer, d.Cfg.IsDevelopment())
	paymentHandler := payments.NewHandler(paymentSvc)
	lookupHandler := lookup.NewHandler(resolver)

	api := app.Group("/api/v1")

	// Public routes
	if d.Cfg.OnboardingEnabled {
		api.Post("/accounts", walletHandler.Open)
	}

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(issuer))
	protected.Post("/recipients/resolve", lookupHandler.Resolve)

	// Replays are answered before the rate limiter counts them.
	var transferChain []fiber.Handler
	if d.Cache != nil {
		transferChain = append(transferChain, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	transferChain = append(transferChain,
		middleware.TransferRateLimit(d.Cache, d.Cfg.TransferRatePerMinute, d.Logger),
		paymentHandler.Transfer,
	)
	protected.Post("/transfers", transferChain...)

	me := protected.Group("/me")
	me.Get("/balance", walletHandler.Balance)
	me.Get("/history", walletHandler.History)
	me.Get("/summary", walletHandler.Summary)
	if events != nil {
		me.Get("/events", notification.NewHandler(events, d.Logger).Events)
	}

	return nil
}
