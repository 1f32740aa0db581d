package main

import (
	"log"

	"go.uber.org/zap"

	"notifier/config"
	"notifier/internal/templates"
	"notifier/pkg/db"
	"notifier/pkg/logger"
	redisclient "notifier/pkg/redis"
)

func main() {
	cfg := config.Load()

	logg := logger.New()
	defer logg.Sync()

	logg.Info("Starting template service", zap.String("port", cfg.Server.Port))

	pool, err := db.NewPool(cfg.DB, logg)
	if err != nil {
		logg.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	repo := templates.NewRepository(pool)
	svc := templates.NewService(repo, rdb, logg)
	h := templates.NewHandler(svc)

	router := templates.NewRouter(h, cfg.JWT.Secret)
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatalf("server start failed: %v", err)
	}
}
