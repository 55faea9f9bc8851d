// Schema migration for the permit workflow tables
// cmd/migrate/main.go
package main

import (
	"flag"

	"permit-workflow-api/config"
	"permit-workflow-api/models"

	"github.com/joho/godotenv"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "only report which tables are missing")
	flag.Parse()

	// Load .env
	if err := godotenv.Load(); err != nil {
		config.Log.Info("No .env file found")
	}

	settings, err := config.LoadSettings()
	if err != nil {
		config.Log.WithError(err).Fatal("Invalid configuration")
	}
	config.InitLogging(settings)

	// Initialize database
	db, err := config.InitDB(settings)
	if err != nil {
		config.Log.WithError(err).Fatal("Failed to initialize database")
	}

	migrator := db.Migrator()
	for _, model := range models.All() {
		stmt := db.Model(model).Statement
		if err := stmt.Parse(model); err != nil {
			config.Log.WithError(err).Fatal("Failed to parse model")
		}
		table := stmt.Schema.Table
		if migrator.HasTable(model) {
			config.Log.WithField("table", table).Info("Table exists, columns and indexes will be reconciled")
		} else {
			config.Log.WithField("table", table).Info("Table missing, will be created")
		}
	}
	if *dryRun {
		return
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		config.Log.WithError(err).Fatal("Migration failed")
	}
	config.Log.Info("Migration completed!")
}
