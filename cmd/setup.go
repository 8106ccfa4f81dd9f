package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/replay/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup creates the config file from the template when missing, then initializes the database and runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", configPath)
			if config, err := shared.ReadConfig(configPath); err != nil {
				r.logger.Warn("failed to load created config, using current", "error", err)
			} else {
				r.config = config
			}
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := r.database(ctx)
	if err != nil {
		return err
	}

	applied, err := shared.NewMigrator(db).Applied(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)

	r.writePlain("✓ Database ready at %s (%d migrations applied)\n", r.config.Database.Path, len(applied))
	if err := r.config.Validate(); err != nil {
		r.writePlainln("⚠ Configuration is incomplete: %v", err)
		r.writePlain("Set token_broker_url in %s or TOKEN_BROKER_URL before running ingest.\n", configPath)
	}
	return nil
}
