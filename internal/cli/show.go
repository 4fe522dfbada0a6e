package cli

import (
	"github.com/spf13/cobra"

	"gwi.com/cited-answers/internal/store"
	"gwi.com/cited-answers/internal/view"
)

func newShowCommand(a *app) *cobra.Command {
	var plain bool
	var width int

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation with rendered answers and references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conv, err := a.client.ReadConversation(ctx, args[0])
			if err != nil {
				return err
			}
			r, err := newRenderer(plain, width)
			if err != nil {
				return err
			}
			deps, opts := a.viewDeps(ctx)

			out := cmd.OutOrStdout()
			if conv.Title != nil {
				printf(out, "# %s\n\n", *conv.Title)
			}
			for _, msg := range conv.Messages {
				if msg.Role != store.RoleAssistant {
					printf(out, "> %s\n\n", msg.Content)
					continue
				}

				answer := view.NewAnswer(msg.RawAnswer(), deps, opts)
				rendered, err := r.render(answerMarkdown(answer.Snapshot()))
				answer.Release()
				if err != nil {
					return err
				}
				printf(out, "%s\n", rendered)
				printf(out, "message %s\n\n", msg.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print markdown without terminal styling")
	cmd.Flags().IntVar(&width, "width", 100, "word wrap width")
	return cmd
}
