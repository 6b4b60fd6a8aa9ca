/**
 * @description
 * This is the main entry point for the wheel service. It loads configuration, connects
 * to PostgreSQL, Redis and RabbitMQ, builds the ledgers, the extraction service and the
 * token refresher, starts the cron jobs and serves the HTTP API.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver backing the durable maps.
 * - github.com/redis/go-redis/v9: extraction request throttling.
 * - internal/api, internal/app, internal/config, internal/kv, internal/store.
 * - pkg/ledgerclient, pkg/priceclient, pkg/profileclient, pkg/rabbitmq.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ilbertt/ic-fortune-wheel/internal/api"
	"github.com/ilbertt/ic-fortune-wheel/internal/app"
	"github.com/ilbertt/ic-fortune-wheel/internal/config"
	"github.com/ilbertt/ic-fortune-wheel/internal/kv"
	"github.com/ilbertt/ic-fortune-wheel/internal/store"
	"github.com/ilbertt/ic-fortune-wheel/pkg/ledgerclient"
	"github.com/ilbertt/ic-fortune-wheel/pkg/priceclient"
	"github.com/ilbertt/ic-fortune-wheel/pkg/profileclient"
	rmrabbit "github.com/ilbertt/ic-fortune-wheel/pkg/rabbitmq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; relying on environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url must be configured\" env=DATABASE_URL")
	}
	if cfg.ServicePrincipal == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"service principal must be configured\" env=SERVICE_PRINCIPAL")
	}
	if cfg.InternalAPIKey == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	log.Printf("level=info component=bootstrap msg=\"starting wheel service\" port=%s", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 20
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSetup()

	kvStore := kv.NewPostgresStore(dbpool)
	if err := kvStore.EnsureSchema(setupCtx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"kv schema setup failed\" err=%v", err)
	}
	assetLedger, err := store.NewKVAssetLedger(setupCtx, kvStore)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"asset ledger init failed\" err=%v", err)
	}
	extractionLedger, err := store.NewKVExtractionLedger(setupCtx, kvStore)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"extraction ledger init failed\" err=%v", err)
	}

	var users store.UserRepository
	if cfg.ProfileServiceURL != "" {
		users = app.NewProfileServiceUsers(profileclient.NewClient(cfg.ProfileServiceURL, cfg.ProfileServiceAPIKey))
		log.Printf("level=info component=bootstrap msg=\"using profile service for access control\" url=%s", cfg.ProfileServiceURL)
	} else {
		userRepo := store.NewPostgresUserRepository(dbpool)
		if err := userRepo.EnsureSchema(setupCtx); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"user schema setup failed\" err=%v", err)
		}
		if cfg.BootstrapAdminPrincipal != "" {
			admin, err := userRepo.EnsureAdmin(setupCtx, cfg.BootstrapAdminPrincipal)
			if err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"bootstrap admin setup failed\" err=%v", err)
			}
			log.Printf("level=info component=bootstrap msg=\"bootstrap admin ensured\" user_id=%s", admin.ID)
		}
		users = userRepo
	}

	var events rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		events = &rmrabbit.EventProducerFallback{}
	} else {
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		events = rabbitProducer
	}
	defer events.Close()

	ledgerClient := ledgerclient.NewClient(cfg.LedgerAPIBaseURL, cfg.LedgerAPIKey)
	priceClient := priceclient.NewClient(cfg.PriceAPIBaseURL, cfg.PriceAPIKey)

	wheelService := app.NewService(
		assetLedger,
		extractionLedger,
		app.NewAccessControl(users),
		ledgerClient,
		app.CryptoRandom{},
		events,
	)
	wheelService.SetServicePrincipal(cfg.ServicePrincipal)
	wheelService.SetCooldown(cfg.ExtractionCooldown())

	if limiter := newRateLimiter(cfg); limiter != nil {
		wheelService.SetClaimRateLimiter(limiter, cfg.ExtractionRateLimitPerMinute)
	}

	refresher := app.NewTokenRefresher(
		assetLedger,
		ledgerClient,
		priceClient,
		cfg.ServicePrincipal,
		cfg.TokenRefreshConcurrency,
		logger.With("component", "token_refresher"),
	)
	wheelService.SetRefresher(refresher)

	scheduler := app.NewScheduler(wheelService, refresher, logger.With("component", "scheduler"), app.SchedulerConfig{
		TokenRefreshSchedule:    cfg.TokenRefreshSchedule,
		StaleExtractionSchedule: cfg.StaleExtractionSchedule,
		StaleExtractionAge:      cfg.StaleExtractionAge(),
	})
	scheduler.Start()
	// Warm the token cache without holding up the listener.
	refresher.Trigger(nil)

	var rabbitConsumer *rmrabbit.Consumer
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbitConsumer, err = rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; refresh requests disabled\" err=%v", err)
		} else {
			defer rabbitConsumer.Close()
			refreshConsumer := app.NewTokenRefreshConsumer(refresher)
			bindings := map[string]rmrabbit.Handler{
				app.TokenRefreshRequestedRoutingKey: refreshConsumer.HandleMessage,
			}
			if err := rabbitConsumer.ConsumeWithBindings(cfg.EventsExchange, cfg.RefreshRequestQueue, bindings); err != nil {
				log.Fatalf("level=fatal component=bootstrap msg=\"refresh consumer start failed\" err=%v", err)
			}
		}
	}

	wheelHandlers := api.NewWheelHandlers(wheelService, refresher, cfg.StaleExtractionAge())
	router := chi.NewRouter()
	router.Mount("/wheel", api.WheelRoutes(wheelHandlers, api.RouterConfig{
		Keyfunc:        api.NewJWKSKeySet(cfg.JWKSURL).Keyfunc,
		Auth:           api.AuthOptions{Audience: cfg.JWTAudience, Issuer: cfg.JWTIssuer},
		InternalAPIKey: cfg.InternalAPIKey,
		AllowedOrigins: cfg.AllowedOrigins(),
	}))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		log.Println("level=warn component=bootstrap msg=\"cron jobs still running at shutdown\"")
	}
	refresher.Stop()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// newRateLimiter returns nil when throttling is disabled or Redis is unreachable.
func newRateLimiter(cfg config.Config) app.ClaimRateLimiter {
	if cfg.ExtractionRateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; extraction rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; extraction rate limiting disabled\" err=%v", err)
		return nil
	}
	redisClient := redis.NewClient(redisOptions)
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; extraction rate limiting disabled\" err=%v", err)
		redisClient.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return app.NewRedisClaimQuotas(redisClient, cfg.RedisRateLimitPrefix)
}
