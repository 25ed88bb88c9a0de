package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/auditstack/evidence-registry/pkg/overrides"
	"github.com/auditstack/evidence-registry/pkg/pbc"
	"github.com/auditstack/evidence-registry/pkg/registry"
	"github.com/auditstack/evidence-registry/pkg/scope"
	"github.com/auditstack/evidence-registry/pkg/versions"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the registry schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, cfg, err := openDB()
		if err != nil {
			return err
		}

		if err := registry.AutoMigrate(db); err != nil {
			return err
		}
		if err := versions.NewStore(db).AutoMigrate(); err != nil {
			return err
		}
		if err := scope.AutoMigrate(db); err != nil {
			return err
		}
		if err := overrides.NewStore(db, versions.NewStore(db)).AutoMigrate(); err != nil {
			return err
		}
		if err := pbc.NewStore(pbc.Config{DB: db}).AutoMigrate(); err != nil {
			return err
		}

		slog.Info("schema migration complete", "dialect", cfg.Database.Dialect)
		return nil
	},
}
