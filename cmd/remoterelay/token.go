package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/remoterelay-bridge/internal/auth"
)

var (
	flagTokenSubject string
	flagTokenRole    string
	flagTokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API access token",
	Long: `Mint a JWT for the bridge API, signed with security.jwt.secret.
Roles: viewer (read devices), operator (also control devices),
admin (also pair and remove devices).`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&flagTokenSubject, "subject", "homeassistant", "Token subject")
	tokenCmd.Flags().StringVar(&flagTokenRole, "role", string(auth.RoleOperator), "Role: viewer, operator, admin")
	tokenCmd.Flags().DurationVar(&flagTokenTTL, "ttl", 0, "Token lifetime (default: security.jwt.access_token_ttl)")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, _ []string) error {
	role := auth.Role(flagTokenRole)
	if !auth.IsValidRole(role) {
		return fmt.Errorf("unknown role %q", flagTokenRole)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ttl := flagTokenTTL
	if ttl == 0 {
		ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(flagTokenSubject, role, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
