package main

import (
	"log"

	"go.uber.org/zap"

	"notifier/config"
	"notifier/internal/users"
	"notifier/pkg/db"
	"notifier/pkg/logger"
	redisclient "notifier/pkg/redis"
)

func main() {
	cfg := config.Load()

	logg := logger.New()
	defer logg.Sync()

	logg.Info("Starting user service", zap.String("port", cfg.Server.Port))

	pool, err := db.NewPool(cfg.DB, logg)
	if err != nil {
		logg.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	rdb := redisclient.NewClient(cfg.Redis)
	defer rdb.Close()

	repo := users.NewRepository(pool)
	svc := users.NewService(repo, rdb, cfg.JWT.Secret, logg)
	h := users.NewHandler(svc)

	router := users.NewRouter(h, cfg.JWT.Secret)
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatalf("server start failed: %v", err)
	}
}
