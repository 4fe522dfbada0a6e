package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"gwi.com/cited-answers/internal/auth"
	"gwi.com/cited-answers/internal/feedback"
)

func newFeedbackCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "feedback <message-id> <value>",
		Short: "Record feedback on an answer",
		Long: fmt.Sprintf(`Record feedback on an answer. The value is positive, neutral, or a
comma-separated list of reason codes:

  not helpful: %s
  inappropriate: %s`, joinReasons(feedback.UnhelpfulReasons()), joinReasons(feedback.InappropriateReasons())),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			messageID, value := args[0], args[1]
			if !feedback.ValidValue(value) {
				return fmt.Errorf("invalid feedback value %q", value)
			}
			if err := a.client.UpdateFeedback(cmd.Context(), messageID, value); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Feedback for %s: %s\n", messageID, feedbackLabel(feedback.ParseValue(value)))
			return nil
		},
	}
}

func newCiteCommand(a *app) *cobra.Command {
	var title string
	var plain bool

	cmd := &cobra.Command{
		Use:   "cite <url>",
		Short: "Print the full content behind a citation url",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := a.client.FetchContent(cmd.Context(), args[0], title)
			if err != nil {
				return err
			}
			if content.Title == "" {
				content.Title = title
			}
			r, err := newRenderer(plain, 100)
			if err != nil {
				return err
			}
			rendered, err := r.render(fmt.Sprintf("### %s\n\n%s\n", content.Title, content.Content))
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s", rendered)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "Citation Content", "dialog title")
	cmd.Flags().BoolVar(&plain, "plain", false, "print markdown without terminal styling")
	return cmd
}

func newTokenCommand(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a bearer token for a user (requires JWT_SECRET)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateJWT(a.cfg.JWTSecret, args[0], ttl)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func joinReasons(reasons []feedback.Reason) string {
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
