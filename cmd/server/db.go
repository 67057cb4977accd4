package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	httpapi "github.com/tbourn/go-listing-dashboard/internal/http"
	"github.com/tbourn/go-listing-dashboard/internal/repo"
	"github.com/tbourn/go-listing-dashboard/internal/services"
	"github.com/tbourn/go-listing-dashboard/internal/templates"
)

// openDB opens the configured database, attaches query tracing, and
// migrates the schema.
func openDB(path string) (*gorm.DB, error) {
	db, err := repo.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("gorm tracing: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer closeDB(db)
			fmt.Fprintf(cmd.OutOrStdout(), "Schema up to date (%s)\n", cfg.DBPath)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var sellers []string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the default auto-response rules for sellers",
		Long:  "Seeds the template rules for each seller that was never seeded and has no rules. Sellers already seeded are left untouched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, sellers)
		},
	}
	cmd.Flags().StringSliceVar(&sellers, "seller", nil, "seller id to seed (repeatable; default DEFAULT_SELLER_ID)")
	return cmd
}

func runSeed(cmd *cobra.Command, sellers []string) error {
	out := cmd.OutOrStdout()
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(sellers) == 0 {
		sellers = []string{cfg.DefaultSellerID}
	}

	catalog, err := templates.Load(cfg.RuleTemplatesPath)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	db, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer closeDB(db)

	svc := services.NewRuleService(db, httpapi.RuleRepoShim{}, catalog)
	ctx := logger.WithContext(cmd.Context())
	for _, seller := range sellers {
		n, err := svc.EnsureDefaults(ctx, seller)
		if err != nil {
			return fmt.Errorf("seed %s: %w", seller, err)
		}
		fmt.Fprintf(out, "%s: seeded %d rule(s)\n", seller, n)
	}
	return nil
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-idempotency",
		Short: "Delete expired idempotency records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer closeDB(db)

			n, err := repo.PurgeExpiredIdempotency(cmd.Context(), db, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired record(s)\n", n)
			return nil
		},
	}
}

// purgeLoop removes expired idempotency records every interval until ctx ends.
func purgeLoop(ctx context.Context, db *gorm.DB, interval time.Duration, logf func(n int64, err error)) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now.UTC())
			logf(n, err)
		}
	}
}
