package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"steward/internal/handlers"
	"steward/internal/ledger"
	"steward/internal/payments"
	"steward/internal/transactions"
	"steward/internal/zarinpal"
	"steward/pkg/auth"
	"steward/pkg/config"
	"steward/pkg/database"
	"steward/pkg/logging"
	"steward/pkg/models"
	"steward/pkg/monitoring"
	"steward/pkg/server"
	"steward/pkg/version"
)

func main() {
	logger := logging.NewLoggerWithService("steward")
	config.LoadEnv(logger)

	databaseURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	merchantID := config.RequireEnv("ZARINPAL_MERCHANT_ID")
	baseURL := config.RequireEnv("BASE_URL")
	frontendURL := config.RequireEnv("FRONTEND_URL")

	dbCfg := database.DefaultConfig()
	dbCfg.URL = databaseURL
	db := database.MustConnect(dbCfg, logger)
	defer db.Close()

	if err := database.Bootstrap(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap database schema")
	}

	healthChecker := monitoring.NewHealthChecker("steward", version.Version)
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("configuration", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":         databaseURL,
		"JWT_SECRET":           jwtSecret,
		"ZARINPAL_MERCHANT_ID": merchantID,
		"BASE_URL":             baseURL,
		"FRONTEND_URL":         frontendURL,
	}))

	metricsCollector := monitoring.NewMetricsCollector("steward", version.Version, version.GetShortCommit())
	paymentMetrics := payments.NewMetrics(metricsCollector)

	rebilledMonths := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "steward_rebilled_months_total",
		Help: "Billing periods overwritten by a re-bill",
	})
	metricsCollector.RegisterCustomMetric("rebilled_months_total", rebilledMonths)

	gateway := zarinpal.NewClient(zarinpal.DefaultConfig(merchantID), logger)
	txStore := transactions.NewStore(db, logger)
	ledgerStore := ledger.NewStore(db, logger).WithRebillCounter(rebilledMonths)

	orchestrator := payments.NewOrchestrator(
		txStore,
		ledgerStore,
		gateway,
		payments.Config{CallbackURL: baseURL + "/payment/verify"},
		logger,
		paymentMetrics,
	)

	handlers.Init(db, logger, orchestrator, ledgerStore, handlers.Config{
		JWTSecret:   []byte(jwtSecret),
		TokenTTL:    time.Duration(config.GetEnvInt("TOKEN_TTL_HOURS", 24)) * time.Hour,
		FrontendURL: frontendURL,
	})

	router := server.SetupServiceRouter(logger, "steward", healthChecker, metricsCollector)

	router.POST("/auth/register", handlers.Register)
	router.POST("/auth/login", handlers.Login)

	// The gateway redirects the payer's browser here, unauthenticated.
	router.GET("/payment/verify", handlers.VerifyPayment)

	authenticated := router.Group("/", auth.JWTAuthMiddleware([]byte(jwtSecret)))
	{
		authenticated.POST("/payment/start", handlers.StartPayment)
		authenticated.GET("/units", handlers.ListUnits)
		authenticated.GET("/units/:unitId", handlers.GetUnit)

		manager := authenticated.Group("/", auth.RequireRole(models.RoleManager))
		{
			manager.POST("/units", handlers.CreateUnit)
			manager.POST("/units/:unitId/months", handlers.AddMonths)
		}
	}

	serverCfg := server.DefaultConfig("steward", "8019")
	if err := server.Start(serverCfg, router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
}
