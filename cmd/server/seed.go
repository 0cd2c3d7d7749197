package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	appctx "unchained/internal/core/context"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/infrastructure/storage/postgres"
	"unchained/internal/infrastructure/storage/postgres/entity_repo"
	"unchained/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Persist the records of a seed file, in order",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// seedBatch is one entity's records in a seed file.
type seedBatch struct {
	Entity  string           `yaml:"entity"`
	Records []map[string]any `yaml:"records"`
}

func parseSeed(data []byte) ([]seedBatch, error) {
	var batches []seedBatch
	if err := yaml.Unmarshal(data, &batches); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, b := range batches {
		if b.Entity == "" {
			return nil, fmt.Errorf("seed batch %d has no entity", i)
		}
	}
	return batches, nil
}

// seed persists every record as a new row. Records go through the regular
// write path, so slugs and hooks apply.
func seed(ctx context.Context, repos *entity_repo.Manager, batches []seedBatch) (int, error) {
	n := 0
	for _, b := range batches {
		repo, err := repos.Repository(b.Entity, appctx.Authenticated)
		if err != nil {
			return n, err
		}
		for i, rec := range b.Records {
			pk, err := repo.Persist(ctx, 0, rec)
			if err != nil {
				return n, fmt.Errorf("%s record %d: %w", b.Entity, i, err)
			}
			logger.Debug(ctx, "record seeded", "entity", b.Entity, "pk", pk)
			n++
		}
	}
	return n, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	batches, err := parseSeed(data)
	if err != nil {
		return err
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	pool, err := postgres.NewPool(ctx, cfg.PoolConfig())
	if err != nil {
		return err
	}
	defer pool.Close()
	db := postgres.NewTxManager(pool)

	reg, err := loadSchema(ctx, cfg, db, cache.NewSchemaCache(pool.Unwrap()))
	if reg == nil {
		return err
	}
	if err != nil {
		log.Warnw("seeding with unprovisioned entities", "error", err)
	}
	store, err := cache.NewMemoryStorage()
	if err != nil {
		return err
	}
	n, err := seed(ctx, entity_repo.NewManager(db, reg, store), batches)
	log.Infow("seeding finished", "records", n)
	return err
}
