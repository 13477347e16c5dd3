package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/merlinn-co/merlinn/pkg/api"
	"github.com/merlinn-co/merlinn/pkg/config"
	"github.com/merlinn-co/merlinn/pkg/models"
)

var tokenFlags struct {
	userID string
	orgID  string
	role   string
	email  string
	ttl    time.Duration
}

// tokenCmd mints a principal token signed with the configured JWT secret,
// for local testing against the authenticated routes.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if tokenFlags.userID == "" || tokenFlags.orgID == "" {
			return errors.New("--user and --org are required")
		}
		role := models.Role(tokenFlags.role)
		if role != models.RoleOwner && role != models.RoleMember {
			return fmt.Errorf("unknown role %q", tokenFlags.role)
		}

		cfg, err := config.Initialize(cmd.Context(), configDir)
		if err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		tokens := api.NewTokenService(cfg.Auth.JWTSecret(), tokenFlags.ttl)
		raw, err := tokens.Issue(models.Principal{
			UserID:         tokenFlags.userID,
			OrganizationID: tokenFlags.orgID,
			Role:           role,
			Email:          tokenFlags.email,
		})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), raw)
		return err
	},
}

func init() {
	f := tokenCmd.Flags()
	f.StringVar(&tokenFlags.userID, "user", "", "User id")
	f.StringVar(&tokenFlags.orgID, "org", "", "Organization id")
	f.StringVar(&tokenFlags.role, "role", string(models.RoleOwner), "owner or member")
	f.StringVar(&tokenFlags.email, "email", "", "User email")
	f.DurationVar(&tokenFlags.ttl, "ttl", 24*time.Hour, "Token lifetime")
}
