package main

import (
	"fmt"
	"log"
	"net/http"

	"mailaudit/internal/api"
	"mailaudit/internal/api/handlers"
	"mailaudit/internal/api/middleware"
	"mailaudit/internal/engine/events"
	"mailaudit/internal/pkg/logger"
	"mailaudit/internal/platform/auth"
	"mailaudit/internal/platform/config"
	"mailaudit/internal/platform/database"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.Logging)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to event store: %v", err)
	}
	defer db.Close()

	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	// Repository with its default sub-stores
	repo := events.NewRepository(db, cfg,
		events.NewFlagRepository(db),
		events.NewTagRepository(db),
		events.NewVariableRepository(db),
	)

	tokenSvc := auth.NewTokenService(cfg.JWT)

	deps := &api.Dependencies{
		EventHandler:   handlers.NewEventHandler(repo),
		HealthHandler:  handlers.NewHealthHandler(db),
		AuthMiddleware: middleware.NewAuthMiddleware(tokenSvc),
	}
	router := api.NewRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
