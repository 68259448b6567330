package main

import (
	"fmt"
	"time"

	"cashdesk/internal/middleware"
	"cashdesk/internal/model"

	"github.com/spf13/cobra"
)

func newTokenCommand(d deps) *cobra.Command {
	var id model.Identity
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id.Role != middleware.RoleOperator && id.Role != middleware.RoleSupervisor {
				return fmt.Errorf("role must be %q or %q", middleware.RoleOperator, middleware.RoleSupervisor)
			}
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			tok, err := middleware.IssueToken(cfg.JWTSecret, id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.OperatorID, "operator", "", "operator id (required)")
	cmd.Flags().StringVar(&id.StoreID, "store", "", "store id (required)")
	cmd.Flags().StringVar(&id.Role, "role", middleware.RoleOperator, "operator | supervisor")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("operator")
	_ = cmd.MarkFlagRequired("store")
	return cmd
}
