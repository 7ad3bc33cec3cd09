package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&StagedDocument{}, &ReconciliationResult{}, &Run{},
		&Job{},
		&SchedulerState{},
		&LogEntry{},
		&Parameter{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
