package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/pagelab/internal/cache"
	"github.com/gosight/pagelab/internal/config"
	"github.com/gosight/pagelab/internal/enricher"
	"github.com/gosight/pagelab/internal/experiment"
	"github.com/gosight/pagelab/internal/handler"
	"github.com/gosight/pagelab/internal/producer"
	"github.com/gosight/pagelab/internal/session"
	"github.com/gosight/pagelab/internal/site"
	"github.com/gosight/pagelab/internal/splittest"
	"github.com/gosight/pagelab/internal/storage"
	"github.com/gosight/pagelab/internal/validation"
)

// repository is what the content API needs from storage.
type repository interface {
	site.Repository
	site.Registrar
	splittest.Repository
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := config.Path("config/contentapi.yaml")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	log.Info().Msg("Starting PageLab content API...")
	ctx := context.Background()

	// Initialize storage
	var repo repository
	if cfg.Postgres.DSN != "" {
		pg, err := storage.NewPostgres(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to migrate Postgres")
		}
		repo = pg
		log.Info().Msg("Connected to Postgres")
	} else {
		repo = storage.NewMemory()
		log.Warn().Msg("No Postgres DSN configured, using in-memory storage")
	}

	files := site.NewFiles(cfg.Sites.Dir)
	n, err := files.Discover(ctx, repo)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Sites.Dir).Msg("Failed to discover websites")
	}
	log.Info().Int("pages", n).Str("dir", cfg.Sites.Dir).Msg("Websites discovered")

	sites := site.NewService(repo, files, log.Logger.With().Str("component", "site").Logger())
	deps := handler.Deps{
		Sites: sites,
		Tests: splittest.NewService(repo, log.Logger.With().Str("component", "splittest").Logger()),
	}

	// Redis backs rate limiting, visitor sessions and the content cache when configured
	var rdb redis.Cmdable
	if cfg.Redis.Addr != "" {
		client := session.NewClient(cfg.Redis)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("Failed to connect to Redis")
		}
		rdb = client
		sites.WithCache(cache.NewContent(client, cfg.Cache.TTL))
		sessions := session.NewSessions(client, cfg.Session.TTL)
		deps.Stores = func(visitorID string) experiment.Store {
			return sessions.For(visitorID)
		}
		log.Info().Msg("Connected to Redis")
	}
	deps.Guard = validation.NewValidator(rdb, cfg)

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := producer.NewKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Kafka producer")
		}
		defer kafkaProducer.Close()
		deps.Producer = kafkaProducer
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Kafka producer initialized")
	} else {
		log.Warn().Msg("No Kafka brokers configured, visitor events are dropped")
	}

	eventEnricher := enricher.NewEnricher(cfg.GeoIP.DatabasePath)
	defer eventEnricher.Close()
	deps.Enricher = eventEnricher

	httpHandler := handler.NewHTTPHandler(cfg, deps, log.Logger.With().Str("component", "http").Logger())
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(handler.CORSMiddleware(cfg.Server.AllowedOrigins))
	httpHandler.Routes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("Server stopped")
}
