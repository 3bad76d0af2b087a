package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bizmatters/agent-builder/dev-orchestrator/internal/auth"
)

type tokenOptions struct {
	userID   string
	username string
	roles    []string
	ttl      time.Duration
}

func newTokenCommand(root *rootOptions) *cobra.Command {
	opts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Long: `Token signs a JWT with the configured JWT_SECRET for calling the API.

Examples:
  JWT_SECRET=... devorch token --user alice
  JWT_SECRET=... devorch token --user ci --roles viewer --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			jm, err := auth.NewJWTManager(cfg.Auth.JWTSecret)
			if err != nil {
				return err
			}

			username := opts.username
			if username == "" {
				username = opts.userID
			}
			token, err := jm.GenerateToken(cmd.Context(), opts.userID, username, opts.roles, opts.ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVar(&opts.userID, "user", "", "user id (required)")
	cmd.Flags().StringVar(&opts.username, "username", "", "display name (defaults to the user id)")
	cmd.Flags().StringSliceVar(&opts.roles, "roles", []string{auth.RoleDeveloper}, "comma-separated roles")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
