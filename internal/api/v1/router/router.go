package router

import (
	"context"
	"net/http"
	"strings"

	"app/internal/api/v1/handler"
	"app/internal/auth"
	"app/internal/config"
	"app/internal/middleware"
	"app/internal/pubsub"
	"app/internal/repository"
	"app/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initializing")

	// 1. Open DB connection pool
	dsn := cfg.DBConnectionString
	// Local development runs against a Postgres without TLS; production
	// connection strings carry their own SSL settings.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + "sslmode=disable"
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create DB pool")
		return nil, nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Load Stripe secrets from Secret Manager when not set in the
	// environment.
	if cfg.GCPProjectID != "" && (cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "") {
		secrets, err := service.NewSecretManagerService(context.Background(), cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Secret Manager client")
			return nil, nil, err
		}
		if err := service.LoadStripeSecrets(context.Background(), cfg, secrets); err != nil {
			logger.Error().Err(err).Msg("Failed to load Stripe secrets")
			return nil, nil, err
		}
	}

	// 3. Entitlement event publisher is optional; without a GCP project the
	// gateway just skips publishing.
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(context.Background(), cfg)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Pub/Sub publisher")
			return nil, nil, err
		}
		publisher = p
	}

	// 4. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 5. Token verification against the remote key set
	keySet := auth.NewKeySetCache(cfg.JWKSURL, logger)
	verifier := auth.NewTokenVerifier(keySet, cfg.JWTAudience, logger)

	// 6. Initialize repositories & services & handlers
	accountRepo := repository.NewAccountRepo(pool)
	subscriptionRepo := repository.NewSubscriptionRepo(pool)
	sessionRepo := repository.NewCheckoutSessionRepo(pool)
	qrRepo := repository.NewQRCodeRepo(pool)

	accountSvc := service.NewAccountService(accountRepo, logger)
	entitlementSvc := service.NewEntitlementService(subscriptionRepo, logger)
	qrSvc := service.NewQRCodeService(qrRepo, entitlementSvc, logger)
	billingSvc := service.NewBillingService(cfg, accountRepo, subscriptionRepo, sessionRepo, qrRepo, publisher, logger)

	accountHandler := handler.NewAccountHandler(accountSvc, validate, logger)
	qrHandler := handler.NewQRCodeHandler(qrSvc, validate, logger)
	billingHandler := handler.NewBillingHandler(billingSvc, entitlementSvc, validate, logger)

	// 7. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(verifier)

	// 8. Create ServeMux router
	apiV1Mux := http.NewServeMux()
	accountHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	qrHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	qrHandler.RegisterPublicRoutes(apiV1Mux)
	billingHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	billingHandler.RegisterWebhook(apiV1Mux)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Swagger documentation
	mux.HandleFunc("/swagger/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./docs/swagger/swagger.json")
	})
	mux.Handle("/swagger/", http.StripPrefix("/swagger/", http.FileServer(http.Dir("./docs/swagger/swagger-ui"))))

	// 9. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(c.Handler(mux)), pool, nil
}
