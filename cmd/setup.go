package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/desertthunder/rbxbridge/internal/credentials"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup writes a config file when none exists, then initializes the database and credential key.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath
	if configPath == "" {
		configPath = shared.DefaultConfigPath()
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.writePlain("✓ Created config file %s\n", configPath)
	} else if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	} else {
		r.writePlain("✓ Using config file %s\n", configPath)
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		return err
	}
	config.ApplyEnv()
	if err := config.ResolvePaths(""); err != nil {
		return err
	}
	r.config = config

	if err := shared.EnsureDir(filepath.Dir(config.Database.Path)); err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", config.Database.Path)
	db, err := shared.OpenDatabase(ctx, config.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	migration, err := shared.MigrationVersion(ctx, db)
	if err != nil {
		return err
	}
	r.writePlain("✓ Database ready at %s (schema version %d)\n", config.Database.Path, migration)

	if _, err := credentials.LoadOrCreateKey(config.Database.KeyPath); err != nil {
		return err
	}
	r.writePlain("✓ Credential key at %s\n", config.Database.KeyPath)

	if !config.HasClientCredentials() {
		r.writePlainln("Next steps:")
		r.writePlain("1. Set roblox.client_id and roblox.client_secret in %s (or %s / %s)\n", configPath, shared.EnvClientID, shared.EnvClientSecret)
		r.writePlain("2. Run '%s serve' and then '%s connect'\n", shared.AppName, shared.AppName)
	}
	return nil
}
