// seed-params inserts the default runtime parameters (tolerance, retry
// budget, event log retention) without overwriting values an operator has
// already tuned.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-params
package main

import (
	"errors"
	"fmt"
	"os"

	"gorm.io/gorm"

	"github.com/fiscaldata/reconciler_backend/config"
	"github.com/fiscaldata/reconciler_backend/models"
)

func main() {
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if err := db.AutoMigrate(&models.Parameter{}); err != nil {
		fmt.Fprintf(os.Stderr, "migrating parameter table: %v\n", err)
		os.Exit(1)
	}

	seeded := 0
	for key, value := range models.DefaultParameters {
		var existing models.Parameter
		err := db.Where("`key` = ?", key).Take(&existing).Error
		if err == nil {
			continue // operator-tuned value stays
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "checking parameter %s: %v\n", key, err)
			os.Exit(1)
		}
		if err := models.SetParameter(db, key, value); err != nil {
			fmt.Fprintf(os.Stderr, "seeding parameter %s: %v\n", key, err)
			os.Exit(1)
		}
		seeded++
	}
	fmt.Printf("seeded %d parameter(s)\n", seeded)
}
