package cli

import (
	"encoding/json"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCommand(a *app) *cobra.Command {
	var offset int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conversations, err := a.client.ListConversations(cmd.Context(), offset)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(conversations)
			}
			if len(conversations) == 0 {
				printf(out, "No conversations.\n")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			printf(tw, "ID\tTITLE\tUPDATED\n")
			for _, c := range conversations {
				title := "(untitled)"
				if c.Title != nil && *c.Title != "" {
					title = *c.Title
				}
				printf(tw, "%s\t%s\t%s\n", c.ID, title, c.UpdatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "number of conversations to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
