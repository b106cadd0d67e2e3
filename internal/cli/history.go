package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func NewHistoryCmd(deps *Dependencies) *cobra.Command {
	var (
		syncupID string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved meetings of a syncup",
		Example: `  syncup history --syncup 7b0c...
  syncup history --syncup 7b0c... --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if syncupID == "" {
				return errors.New("--syncup is required")
			}
			defer deps.Close()

			b, err := deps.Backend()
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			ctx := cmd.Context()
			su, err := b.Syncups().GetSyncup(ctx, syncupID, "")
			if err != nil {
				return fmt.Errorf("loading syncup %s: %w", syncupID, err)
			}
			meetings, err := b.Syncups().ListMeetings(ctx, su.ID, limit)
			if err != nil {
				return fmt.Errorf("listing meetings: %w", err)
			}

			f := newFormatter(cmd)
			if len(meetings) == 0 {
				f.Info(fmt.Sprintf("%s has no saved meetings", su.Title))
				return nil
			}
			f.MeetingListHeader(su.Title)
			for _, m := range meetings {
				f.MeetingListItem(m)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&syncupID, "syncup", "", "Syncup id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many meetings, 0 for all")

	return cmd
}
