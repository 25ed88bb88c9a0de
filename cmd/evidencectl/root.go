package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/auditstack/evidence-registry/pkg/config"
	"github.com/auditstack/evidence-registry/pkg/database"
	"github.com/auditstack/evidence-registry/pkg/tenancy"
)

var (
	configPath   string
	tenantID     string
	membershipID string
)

var rootCmd = &cobra.Command{
	Use:   "evidencectl",
	Short: "Admin CLI for the evidence registry",
	Long: `evidencectl operates directly on the evidence registry database:
schema migration, version history inspection and PBC generation.

The registry owns no network protocol; this tool is the operational
surface next to the in-process API layer.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (env vars override it)")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "Tenant id to operate under")
	rootCmd.PersistentFlags().StringVar(&membershipID, "membership", "", "Membership id recorded as the acting user")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(generateCmd)
}

// openDB loads config and connects; shared by every subcommand.
func openDB() (*gorm.DB, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	setupLogging(cfg.LogLevel)
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return db, cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// callerContext builds the tenancy context from the global flags.
// Priority: flags > EVIDENCE_TENANT / EVIDENCE_MEMBERSHIP env vars.
func callerContext() (tenancy.Context, error) {
	tenant := tenantID
	if tenant == "" {
		tenant = os.Getenv("EVIDENCE_TENANT")
	}
	membership := membershipID
	if membership == "" {
		membership = os.Getenv("EVIDENCE_MEMBERSHIP")
	}
	tc := tenancy.Context{TenantID: tenant, MembershipID: membership}
	if err := tenancy.Validate(tc); err != nil {
		return tenancy.Context{}, fmt.Errorf("tenant context: %w", err)
	}
	return tc, nil
}
