package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"nearme/backend/internal/auth"
	"nearme/backend/internal/config"
	"nearme/backend/internal/models"
	"nearme/backend/internal/storage"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

Commands:
  set-tier <user_id> <full|restricted>   change a user's account tier
  quota <user_id>                        messages sent in the rate-limit window
  token <user_id>                        issue a bearer token for a user`

func main() {
	if len(os.Args) < 3 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storageSvc := storage.NewStorageService(db)
	ctx := context.Background()

	command, userID := os.Args[1], os.Args[2]
	switch command {
	case "set-tier":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin set-tier <user_id> <full|restricted>")
			os.Exit(1)
		}
		tier := models.AccountTier(os.Args[3])
		if err := storageSvc.SetAccountTier(ctx, userID, tier); err != nil {
			log.Fatalf("Error setting tier: %v", err)
		}
		// Live connections keep their handshake snapshot until they reconnect.
		fmt.Printf("User %s is now %s (applies from the next connection).\n", userID, tier)

	case "quota":
		used, err := storageSvc.CountRecentMessages(ctx, userID, time.Now().Add(-config.RateLimitWindow))
		if err != nil {
			log.Fatalf("Error counting messages: %v", err)
		}
		fmt.Printf("User %s sent %d messages in the last %s (restricted cap: %d).\n",
			userID, used, config.RateLimitWindow, config.RestrictedDailyCap)

	case "token":
		gate := auth.NewGate(cfg.JWTSecret, cfg.JWTIssuer, cfg.TokenTTL, storageSvc)
		if _, err := storageSvc.GetUserByID(ctx, userID); err != nil {
			log.Fatalf("Error looking up user: %v", err)
		}
		token, err := gate.IssueToken(userID)
		if err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		fmt.Println(token)

	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}
