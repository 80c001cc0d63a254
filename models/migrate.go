package models

import (
	"log"

	"bitbucket.org/mmdatafocus/sitedata_backend/config"
)

// MigrateTable runs AutoMigrate for every table the service owns.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("migrate skipped: database is not connected")
		return
	}
	if err := db.AutoMigrate(
		&Job{},
		&SiteRecord{},
	); err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
