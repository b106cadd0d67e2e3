package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukasbauer/syncup/internal/httpapi"
)

func NewTokenCmd(deps *Dependencies) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a user",
		Long:  "Issue a bearer token for the HTTP API, signed with the configured JWT secret.",
		Example: `  syncup token --user alice
  curl -H "Authorization: Bearer $(syncup token --user alice)" localhost:8080/api/syncups`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			if ttl <= 0 {
				ttl = deps.Config.JWTExpiry
			}
			token, _, err := httpapi.IssueToken(deps.Config.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to put in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default from JWT_EXPIRY)")

	return cmd
}
