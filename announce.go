package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgabriele321/remindd/notify"
	"github.com/jgabriele321/remindd/recipient"
)

func newAnnounceCommand() *cobra.Command {
	var (
		title string
		body  string
		role  string
		ids   []string
	)
	cmd := &cobra.Command{
		Use:   "announce",
		Short: "Send one announcement to every matching recipient and print the counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := recipient.Role(role)
			if role != "" && !r.Valid() {
				return fmt.Errorf("unknown role %q", role)
			}

			ctx := cmd.Context()
			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			result, err := rt.announcer().Announce(ctx, notify.Announcement{
				Title:  title,
				Body:   body,
				Filter: recipient.Filter{Role: r, IDs: ids},
			})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "announcement title")
	cmd.Flags().StringVar(&body, "body", "", "announcement body")
	cmd.Flags().StringVar(&role, "role", "", "only recipients with this role (admin, employee, user)")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "only these recipient ids")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
