package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskbridge/deskbridge/internal/auth"
	"github.com/deskbridge/deskbridge/internal/config"
	"github.com/deskbridge/deskbridge/internal/db"
)

func main() {
	root := &cobra.Command{
		Use:   "deskbridge",
		Short: "Multi-channel conversation ingestion and assignment service",
	}
	root.AddCommand(serveCmd(), migrateCmd(), tokenCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := db.Migrate(cfg.Postgres); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

// tokenCmd mints agent session tokens. Identity normally comes from the
// surrounding employee platform; this exists for local setups and smoke
// tests.
func tokenCmd() *cobra.Command {
	var agentID string
	var companyID int64

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an agent session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			expiresIn, err := time.ParseDuration(cfg.Auth.JWTExpiresIn)
			if err != nil {
				return fmt.Errorf("parse jwt_expires_in: %w", err)
			}
			signed, expiresAt, err := auth.GenerateAgentToken(auth.AgentToken{
				AgentID:   agentID,
				CompanyID: companyID,
			}, cfg.Auth.JWTSecret, expiresIn)
			if err != nil {
				return err
			}
			fmt.Printf("%s\nexpires: %s\n", signed, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent uuid")
	cmd.Flags().Int64Var(&companyID, "company-id", 0, "company id")
	_ = cmd.MarkFlagRequired("agent-id")
	_ = cmd.MarkFlagRequired("company-id")
	return cmd
}
