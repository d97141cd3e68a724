package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/mediaflow/internal/auth"
)

func newTokenCommand() *cobra.Command {
	var (
		userID   string
		tenantID string
		role     string
		ttl      time.Duration
		secret   string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Long: `Sign a token for the given principal with JWT_SECRET (or --secret).

Examples:
  mediactl token --user u1 --tenant acme --role editor
  mediactl token --user root --tenant acme --role admin --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("JWT_SECRET")
			}
			verifier, err := auth.NewJWTVerifier(secret)
			if err != nil {
				return fmt.Errorf("JWT_SECRET or --secret is required: %w", err)
			}

			principal := auth.Principal{UserID: userID, TenantID: tenantID, Role: auth.Role(role)}
			if principal.UserID == "" || principal.TenantID == "" {
				return fmt.Errorf("--user and --tenant are required")
			}
			if !principal.Role.IsValid() {
				return fmt.Errorf("unknown role %q (want viewer, editor or admin)", role)
			}

			token, err := verifier.Issue(principal, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User id claim")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id claim")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleViewer), "Role claim (viewer, editor, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime; 0 disables expiry")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to $JWT_SECRET)")

	return cmd
}
