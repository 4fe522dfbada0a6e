// Package cli implements the answerctl command line client.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/client"
	"gwi.com/cited-answers/internal/config"
)

type app struct {
	serverURL string
	token     string
	logLevel  string

	cfg    config.Config
	logger *zap.Logger
	client *client.Client
}

// NewRootCommand builds the answerctl command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "answerctl",
		Short: "Browse conversations and rate cited answers",
		Long: `answerctl talks to the cited answers service. It lists and shows conversations,
renders answers with their numbered references, opens citation content and records
feedback on answers.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "service base URL (default $ANSWER_SERVICE_URL)")
	root.PersistentFlags().StringVar(&a.token, "token", "", "bearer token (default $ANSWER_TOKEN)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newHistoryCommand(a),
		newShowCommand(a),
		newFeedbackCommand(a),
		newCiteCommand(a),
		newTokenCommand(a),
		newChatCommand(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := config.NewLogger(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = logger

	if a.serverURL == "" {
		a.serverURL = cfg.AnswerServiceURL
	}
	if a.token == "" {
		a.token = cfg.AnswerToken
	}
	a.client = client.New(a.serverURL, a.token, logger)
	return nil
}

func printf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
