package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"mailaudit/internal/engine/events"
	"mailaudit/internal/pkg/logger"
	"mailaudit/internal/platform/config"
	"mailaudit/internal/platform/database"
)

// ingest runs a decoded provider payload from a local JSON file through
// the normalization pipeline. Transport of live webhooks (HTTP intake,
// signature checks, queues) is out of scope; this tool is for backfills
// and local inspection.
func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	eventType := flag.String("type", "", "Provider event type (e.g. delivered, failed, opened)")
	payloadPath := flag.String("payload", "", "Path to the payload JSON file")
	contentPath := flag.String("content", "", "Optional path to a content JSON file, stored after the event")
	userEmail := flag.String("user-email", "", "Optional email to associate the event with an application user")

	flag.Parse()

	if *eventType == "" || *payloadPath == "" {
		log.Fatal("--type and --payload are required")
	}

	cfg, err := config.Load(*configPath)
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

	repo := events.NewRepository(db, cfg,
		events.NewFlagRepository(db),
		events.NewTagRepository(db),
		events.NewVariableRepository(db),
	)

	raw, err := os.ReadFile(*payloadPath)
	if err != nil {
		log.Fatalf("Failed to read payload file: %v", err)
	}

	var payload events.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Fatalf("Failed to decode payload: %v", err)
	}

	var userID *string
	if *userEmail != "" {
		user, err := repo.FindUserByEmail(*userEmail)
		if err != nil {
			log.Fatalf("Failed to look up user: %v", err)
		}
		if user == nil {
			log.Printf("No user found for %s, storing event without association", *userEmail)
		} else if id, ok := user["id"].(string); ok {
			userID = &id
		}
	}

	eventID, err := repo.Store(*eventType, payload, userID)
	if eventID == "" {
		log.Fatal("Event was not recorded (missing event-data.id or write failure, see log)")
	}
	if err != nil {
		log.Fatalf("Event %s recorded but a dependent write failed: %v", eventID, err)
	}

	fmt.Println(eventID)

	if *contentPath != "" {
		raw, err := os.ReadFile(*contentPath)
		if err != nil {
			log.Fatalf("Failed to read content file: %v", err)
		}
		var content map[string]any
		if err := json.Unmarshal(raw, &content); err != nil {
			log.Fatalf("Failed to decode content: %v", err)
		}
		record, err := repo.StoreContent(eventID, content)
		if err != nil {
			log.Fatalf("Failed to store content: %v", err)
		}
		fmt.Println(record.ID)
	}
}
