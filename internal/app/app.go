package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wujiit/qilingstore-sub001/internal/module/audit"
	"github.com/wujiit/qilingstore-sub001/internal/module/customer"
	"github.com/wujiit/qilingstore-sub001/internal/module/gift"
	"github.com/wujiit/qilingstore-sub001/internal/module/order"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment"
	"github.com/wujiit/qilingstore-sub001/internal/module/payment/settings"
	"github.com/wujiit/qilingstore-sub001/internal/module/printing"
	sharedcache "github.com/wujiit/qilingstore-sub001/internal/shared/cache"
	"github.com/wujiit/qilingstore-sub001/internal/shared/config"
	"github.com/wujiit/qilingstore-sub001/internal/shared/database"
	"github.com/wujiit/qilingstore-sub001/internal/shared/logger"
	"github.com/wujiit/qilingstore-sub001/internal/utils/metrics"
	"github.com/wujiit/qilingstore-sub001/internal/utils/middleware"
)

// App wires the modules together and owns shared resources.
type App struct {
	config   *config.Config
	db       *gorm.DB
	redis    redis.UniversalClient
	router   *gin.Engine
	log      *zap.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	orderHandler    *order.Handler
	paymentHandler  *payment.Handler
	webhookHandler  *payment.WebhookHandler
	settingsHandler *settings.Handler
	auditHandler    *audit.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{config: cfg, log: log}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.New("", app.registry)

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	if err := app.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Redis is optional: idempotency, rate limiting and the settings
	// cache all degrade gracefully without it.
	if cfg.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, running without cache", zap.Error(err))
		} else {
			app.redis = redisClient
		}
	}

	app.initModules()
	app.router = app.setupRouter()
	app.registerRoutes()

	return app, nil
}

// migrate applies the schema.
func (a *App) migrate() error {
	return a.db.AutoMigrate(
		&order.Order{},
		&customer.Customer{},
		&customer.LedgerEntry{},
		&gift.Rule{},
		&gift.Grant{},
		&printing.Printer{},
		&printing.Job{},
		&payment.Payment{},
		&payment.LedgerEntry{},
		&payment.Refund{},
		&settings.Setting{},
		&audit.Event{},
	)
}

// initModules builds the repositories, services and handlers.
func (a *App) initModules() {
	orderRepo := order.NewRepository(a.db)
	customerRepo := customer.NewRepository(a.db)
	giftRepo := gift.NewRepository(a.db)
	printingRepo := printing.NewRepository(a.db)
	paymentRepo := payment.NewRepository(a.db)
	auditRepo := audit.NewRepository(a.db)

	orderService := order.NewService(orderRepo, a.log)
	customerService := customer.NewService(customerRepo, a.log)
	giftService := gift.NewService(giftRepo, a.log)
	printingService := printing.NewService(printingRepo, a.log)
	auditService := audit.NewService(auditRepo, a.log)

	settingsStore := settings.NewStore(a.db, a.redis, a.log)
	settingsResolver := settings.NewResolver(&a.config.Payment, settingsStore)
	adapterRegistry := payment.NewRegistry(settingsResolver, a.metrics, a.log)

	collab := payment.Collaborators{
		Loyalty: func(tx *gorm.DB) payment.Loyalty {
			return customerService.WithTx(tx)
		},
		Gifting: func(tx *gorm.DB) payment.Gifting {
			return giftService.WithTx(tx)
		},
		Receipts: func(tx *gorm.DB) payment.ReceiptPrinter {
			return printingService.WithTx(tx)
		},
	}

	paymentService := payment.NewService(
		a.db,
		paymentRepo,
		orderRepo,
		collab,
		auditService,
		adapterRegistry,
		&a.config.Payment,
		a.metrics,
		a.log,
	)

	a.orderHandler = order.NewHandler(orderService)
	a.paymentHandler = payment.NewHandler(paymentService)
	a.webhookHandler = payment.NewWebhookHandler(paymentService, a.log)
	a.settingsHandler = settings.NewHandler(settingsResolver, settingsStore)
	a.auditHandler = audit.NewHandler(auditService)
}

// setupRouter creates and configures the gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.log))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.log))
	r.Use(middleware.Metrics(a.metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	return r
}

// registerRoutes registers routes for all modules.
func (a *App) registerRoutes() {
	v1 := a.router.Group("/api/v1")
	v1.Use(middleware.Idempotency(a.redis, middleware.DefaultIdempotencyConfig()))

	a.orderHandler.RegisterRoutes(v1)
	a.paymentHandler.RegisterRoutes(v1)
	a.settingsHandler.RegisterRoutes(v1)
	a.auditHandler.RegisterRoutes(v1)

	// Gateway notifications authenticate via their body signature, not
	// headers, and get their own rate limit bucket.
	webhooks := a.router.Group("")
	webhooks.Use(middleware.RateLimitByEndpoint(a.redis, 600, time.Minute))
	a.webhookHandler.RegisterRoutes(webhooks)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases shared resources.
func (a *App) Stop() {
	if a.log != nil {
		_ = a.log.Sync()
	}
	if a.redis != nil {
		_ = sharedcache.Close(a.redis)
	}
	if a.db != nil {
		_ = database.Close(a.db)
	}
}
