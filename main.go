package main

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chatstream/internal/api"
	"chatstream/internal/cache"
	"chatstream/internal/chat"
	"chatstream/internal/config"
	"chatstream/internal/provider"
	"chatstream/internal/provider/anthropic"
	"chatstream/internal/provider/gemini"
	"chatstream/internal/provider/openai"
	"chatstream/internal/storage"
	"chatstream/internal/worker"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("CHATSTREAM_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dbType := os.Getenv("CHATSTREAM_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	cacheClient, err := cache.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create redis client")
	}
	defer cacheClient.Close()

	store := storage.NewStore(db, cacheClient)

	registry := provider.NewRegistry(cfg.BasicConfig.ActiveProvider,
		openai.New(cfg.Providers[openai.Name]),
		anthropic.New(cfg.Providers[anthropic.Name]),
		gemini.New(cfg.Providers[gemini.Name]),
	)
	for _, st := range registry.StatusAll() {
		log.Info().Str("provider", st.Name).Bool("configured", st.Configured).Bool("active", st.Active).Msg("provider registered")
	}

	pool := worker.NewPool(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Minute,
		log,
	)
	defer pool.Shutdown()

	chatService := chat.NewService(registry, store, pool, log)
	handlers := api.NewHandler(chatService, registry, store, log)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
