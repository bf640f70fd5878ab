package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/medisync/emr-backend/internal/adapters/database"
	"github.com/medisync/emr-backend/internal/domain/entities"
	"github.com/medisync/emr-backend/internal/infrastructure/clients/postgres"
	"github.com/medisync/emr-backend/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pgClient.Close()

	catalogRepo := database.NewCatalogAdapter(pgClient)
	ctx := context.Background()

	if os.Getenv("RESET_DB") == "true" {
		log.Println("RESET_DB=true detected, truncating tables before seeding")
		_, err := pgClient.DB().ExecContext(ctx, `
			TRUNCATE TABLE
				payments,
				catalog_entries
			RESTART IDENTITY CASCADE
		`)
		if err != nil {
			log.Fatalf("Failed to reset tables: %v", err)
		}
	}

	now := time.Now()
	amount := func(v int64) *int64 { return &v }

	// Common non-covered items: uninsured charges priced per institution.
	entries := []entities.CatalogEntry{
		{Code: "CZ1010001", DisplayName: "MRI Scan (Brain)", Amount: amount(450000), Version: 1, CreatedAt: now, UpdatedAt: now},
		{Code: "CZ2050003", DisplayName: "Ultrasound (Abdomen)", Amount: amount(120000), Version: 1, CreatedAt: now, UpdatedAt: now},
		{Code: "HB0210000", DisplayName: "Comprehensive Health Screening", Amount: amount(250000), Version: 1, CreatedAt: now, UpdatedAt: now},
		{Code: "PD1100000", DisplayName: "Influenza Vaccination", Amount: amount(35000), Version: 1, CreatedAt: now, UpdatedAt: now},
		{Code: "SZ0840000", DisplayName: "Medical Certificate Issuance", Amount: amount(20000), Version: 1, CreatedAt: now, UpdatedAt: now},
		{Code: "UX1230000", DisplayName: "Shingles Vaccination", Amount: amount(180000), Version: 1, CreatedAt: now, UpdatedAt: now},
		// Registered without a price yet; the sync daemon fills it in.
		{Code: "CZ7020001", DisplayName: "Sleep Study (Polysomnography)", Version: 1, CreatedAt: now, UpdatedAt: now},
	}

	for _, entry := range entries {
		if err := catalogRepo.Create(ctx, &entry); err != nil {
			log.Printf("Failed to create catalog entry %s: %v", entry.Code, err)
		} else {
			log.Printf("Seeded catalog entry %s (%s)", entry.Code, entry.DisplayName)
		}
	}

	log.Println("Seeding complete.")
}
