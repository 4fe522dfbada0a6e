package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"gwi.com/cited-answers/internal/api"
	"gwi.com/cited-answers/internal/citation"
	"gwi.com/cited-answers/internal/feedback"
	"gwi.com/cited-answers/internal/resolver"
	"gwi.com/cited-answers/internal/view"
)

type renderer struct {
	tr *glamour.TermRenderer // nil prints markdown as is
}

func newRenderer(plain bool, width int) (*renderer, error) {
	if plain {
		return &renderer{}, nil
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &renderer{tr: tr}, nil
}

func (r *renderer) render(markdown string) (string, error) {
	if r.tr == nil {
		return markdown, nil
	}
	return r.tr.Render(markdown)
}

// answerMarkdown lays out an answer with its references and feedback.
func answerMarkdown(snap view.Snapshot) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(snap.Markdown))
	sb.WriteString("\n")

	if len(snap.Citations) > 0 {
		fmt.Fprintf(&sb, "\n**%s**\n\n", snap.References)
		for _, c := range snap.Citations {
			if c.URL != "" {
				fmt.Fprintf(&sb, "%d. %s <%s>\n", c.Ordinal, c.Label(), c.URL)
			} else {
				fmt.Fprintf(&sb, "%d. %s\n", c.Ordinal, c.Label())
			}
		}
	}

	if snap.FeedbackEnabled {
		fmt.Fprintf(&sb, "\n_Feedback: %s_\n", feedbackLabel(snap.Feedback))
	}
	return sb.String()
}

func feedbackLabel(s feedback.State) string {
	switch s.Kind {
	case feedback.Positive:
		return "helpful"
	case feedback.Negative:
		if len(s.Reasons) == 0 {
			return "not helpful"
		}
		labels := make([]string, len(s.Reasons))
		for i, r := range s.Reasons {
			labels[i] = r.Label()
		}
		return "not helpful (" + strings.Join(labels, ", ") + ")"
	default:
		return "none"
	}
}

func dialogMarkdown(d feedback.Dialog) string {
	var sb strings.Builder
	var reasons []feedback.Reason
	switch d.Page {
	case feedback.DialogReasons:
		sb.WriteString("**Why wasn't this response helpful?**\n\n")
		reasons = feedback.UnhelpfulReasons()
	case feedback.DialogReport:
		sb.WriteString("**Report inappropriate content**\n\n")
		reasons = feedback.InappropriateReasons()
	default:
		return ""
	}
	for _, r := range reasons {
		mark := " "
		if slices.Contains(d.Pending, r) {
			mark = "x"
		}
		fmt.Fprintf(&sb, "- [%s] `%s` %s\n", mark, r, r.Label())
	}
	return sb.String()
}

func contentMarkdown(res resolver.Result) string {
	switch res.Status {
	case resolver.Loaded:
		return fmt.Sprintf("### %s\n\n%s\n", res.Title, res.Content)
	case resolver.Failed:
		return fmt.Sprintf("### %s\n\n**Error:** %s\n", res.Citation.Label(), res.Error)
	default:
		return ""
	}
}

// viewDeps builds the shared collaborators for the answers of one command run.
func (a *app) viewDeps(ctx context.Context) (view.Deps, view.Options) {
	settings, err := a.client.FrontendSettings(ctx)
	if err != nil {
		a.logger.Warn("Could not load frontend settings, using defaults")
		settings = api.FrontendSettings{FeedbackEnabled: true, SanitizeAnswer: true}
	}

	grammar, err := citation.GrammarByName(settings.MarkerGrammar)
	if err != nil {
		a.logger.Warn("Unknown marker grammar, using doc")
		grammar = citation.DocGrammar
	}

	deps := view.Deps{
		Parser:    citation.NewParser(grammar),
		Store:     feedback.NewMemoryStore(),
		Persister: a.client,
		Fetcher:   a.client,
		Logger:    a.logger,
	}
	opts := view.Options{
		FeedbackEnabled: settings.FeedbackEnabled,
		SanitizeAnswer:  settings.SanitizeAnswer,
		FetchTimeout:    a.cfg.CitationFetchTimeout,
	}
	return deps, opts
}
