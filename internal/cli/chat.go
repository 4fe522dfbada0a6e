package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/client"
	"gwi.com/cited-answers/internal/feedback"
	"gwi.com/cited-answers/internal/store"
	"gwi.com/cited-answers/internal/view"
)

const chatHelp = `Type a question to ask it. Commands act on the latest answer:
  /like             mark helpful (again to clear)
  /dislike          mark not helpful and pick reasons (again to clear)
  /reason <code>    toggle a reason in the open dialog
  /report           switch the dialog to inappropriate-content reasons
  /submit           submit the selected reasons
  /dismiss          close the dialog without submitting
  /cite <n>         show the content of reference n
  /close            close the citation content
  /help             show this help
  /quit             leave
`

func newChatCommand(a *app) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Ask questions and rate the answers interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := newRenderer(plain, 100)
			if err != nil {
				return err
			}
			deps, opts := a.viewDeps(ctx)
			s := &session{
				client: a.client,
				deps:   deps,
				opts:   opts,
				r:      r,
				out:    cmd.OutOrStdout(),
				logger: a.logger,
				pick:   promptPick,
			}
			defer s.close()

			if len(args) == 1 {
				if err := s.open(ctx, args[0]); err != nil {
					return err
				}
			}
			printf(s.out, "%s\n", chatHelp)

			for {
				prompt := promptui.Prompt{Label: "you"}
				line, err := prompt.Run()
				if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
					return nil
				}
				if err != nil {
					return err
				}
				quit, err := s.handle(ctx, line)
				if err != nil {
					printf(s.out, "error: %v\n", err)
				}
				if quit {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print markdown without terminal styling")
	return cmd
}

func promptPick(label string, items []string) (int, error) {
	sel := promptui.Select{Label: label, Items: items, Size: len(items)}
	i, _, err := sel.Run()
	return i, err
}

// session is one interactive conversation. Feedback and citation commands act on the
// most recent answer.
type session struct {
	client *client.Client
	deps   view.Deps
	opts   view.Options
	r      *renderer
	out    io.Writer
	logger *zap.Logger
	pick   func(label string, items []string) (int, error) // nil disables the reason picker

	conversationID string
	answer         *view.Answer
}

func (s *session) open(ctx context.Context, conversationID string) error {
	conv, err := s.client.ReadConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	s.conversationID = conv.ConversationID
	return s.showLatest(conv.Messages)
}

func (s *session) handle(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, s.ask(ctx, line)
	}

	name, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return true, nil
	case "help":
		printf(s.out, "%s", chatHelp)
		return false, nil
	}

	if s.answer == nil {
		return false, fmt.Errorf("no answer yet")
	}
	switch name {
	case "like":
		err = s.answer.Like()
	case "dislike":
		if err = s.answer.Dislike(); err == nil && s.pick != nil && s.answer.Snapshot().FeedbackDialog.Open() {
			err = s.chooseReasons()
		}
	case "reason":
		err = s.answer.ToggleReason(feedback.Reason(arg))
	case "report":
		err = s.answer.ReportInappropriate()
	case "submit":
		err = s.answer.Submit()
	case "dismiss":
		err = s.answer.Dismiss()
	case "cite":
		return false, s.cite(ctx, arg)
	case "close":
		s.answer.CloseCitation()
		return false, nil
	default:
		return false, fmt.Errorf("unknown command /%s (try /help)", name)
	}
	if err != nil {
		return false, err
	}
	s.printFeedback()
	return false, nil
}

func (s *session) ask(ctx context.Context, question string) error {
	resp, err := s.client.Ask(ctx, s.conversationID, question)
	if err != nil {
		return err
	}
	s.conversationID = resp.ConversationID
	return s.showLatest(resp.Messages)
}

// showLatest renders the last answer in messages and makes it the current one.
func (s *session) showLatest(messages []store.Message) error {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != store.RoleAssistant {
			continue
		}
		if s.answer != nil {
			s.answer.Wait()
			s.answer.Release()
		}
		s.answer = view.NewAnswer(messages[i].RawAnswer(), s.deps, s.opts)

		rendered, err := s.r.render(answerMarkdown(s.answer.Snapshot()))
		if err != nil {
			return err
		}
		printf(s.out, "%s\n", rendered)
		return nil
	}
	return nil
}

func (s *session) cite(ctx context.Context, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("usage: /cite <n>")
	}
	outcome, err := s.answer.SelectCitation(ctx, n)
	if err != nil {
		return err
	}
	select {
	case o := <-outcome:
		if !o.Applied {
			return nil
		}
		rendered, err := s.r.render(contentMarkdown(o.Result))
		if err != nil {
			return err
		}
		printf(s.out, "%s\n", rendered)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// chooseReasons drives the open feedback dialog with a picker until it is submitted
// or dismissed.
func (s *session) chooseReasons() error {
	for {
		dialog := s.answer.Snapshot().FeedbackDialog
		if !dialog.Open() {
			return nil
		}

		reasons := feedback.UnhelpfulReasons()
		label := "Why wasn't this response helpful?"
		if dialog.Page == feedback.DialogReport {
			reasons = feedback.InappropriateReasons()
			label = "Report inappropriate content"
		}

		items := make([]string, 0, len(reasons)+3)
		for _, r := range reasons {
			mark := "[ ]"
			if slices.Contains(dialog.Pending, r) {
				mark = "[x]"
			}
			items = append(items, mark+" "+r.Label())
		}
		if dialog.Page == feedback.DialogReasons {
			items = append(items, "Report inappropriate content...")
		}
		submitAt := len(items)
		items = append(items, "Submit", "Cancel")

		i, err := s.pick(label, items)
		if err != nil {
			return s.answer.Dismiss()
		}
		switch {
		case i < len(reasons):
			err = s.answer.ToggleReason(reasons[i])
		case i == submitAt:
			err = s.answer.Submit()
		case i == submitAt+1:
			err = s.answer.Dismiss()
		default:
			err = s.answer.ReportInappropriate()
		}
		if err != nil && !errors.Is(err, feedback.ErrNoReasons) {
			return err
		}
		if errors.Is(err, feedback.ErrNoReasons) {
			printf(s.out, "Select at least one reason first.\n")
		}
	}
}

func (s *session) printFeedback() {
	snap := s.answer.Snapshot()
	if snap.FeedbackDialog.Open() {
		printf(s.out, "%s\n", dialogMarkdown(snap.FeedbackDialog))
		return
	}
	printf(s.out, "Feedback: %s\n", feedbackLabel(snap.Feedback))
}

func (s *session) close() {
	if s.answer != nil {
		s.answer.Wait()
		s.answer.Release()
	}
}
