// Package view composes a parsed answer, its feedback machine and its citation content
// resolver into the snapshot a presentation layer renders.
package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/citation"
	"gwi.com/cited-answers/internal/feedback"
	"gwi.com/cited-answers/internal/resolver"
)

// ErrFeedbackDisabled is returned by feedback actions when feedback is switched off or
// the message has no id.
var ErrFeedbackDisabled = errors.New("feedback is not enabled for this answer")

// Deps are the collaborators shared by every answer of a session.
type Deps struct {
	Parser    *citation.Parser
	Store     feedback.Store
	Persister feedback.Persister
	Fetcher   resolver.Fetcher
	Logger    *zap.Logger
}

// Options mirror the server's frontend settings.
type Options struct {
	FeedbackEnabled bool
	SanitizeAnswer  bool
	FetchTimeout    time.Duration
}

// Snapshot is everything needed to draw one answer.
type Snapshot struct {
	MessageID       string              `json:"message_id,omitempty"`
	Markdown        string              `json:"markdown"`
	Citations       []citation.Citation `json:"citations"`
	References      string              `json:"references,omitempty"`
	FeedbackEnabled bool                `json:"feedback_enabled"`
	Feedback        feedback.State      `json:"feedback"`
	FeedbackDialog  feedback.Dialog     `json:"feedback_dialog"`
	CitationContent resolver.Result     `json:"citation_content"`
}

// Answer is the view model of a single assistant message.
type Answer struct {
	parsed   citation.ParsedAnswer
	markdown string
	opts     Options
	feedback *feedback.Machine
	content  *resolver.Resolver
	logger   *zap.Logger

	mu        sync.Mutex
	listeners map[int]func(Snapshot)
	nextID    int
	unsubs    []func()

	emitMu sync.Mutex
}

// sanitizePolicy keeps the inline formatting tags answers may legitimately carry.
var sanitizePolicy = bluemonday.NewPolicy().
	AllowElements("sub", "sup", "b", "strong", "i", "em", "u", "s", "br", "p", "code", "pre",
		"ul", "ol", "li", "table", "thead", "tbody", "tr", "th", "td", "blockquote")

// NewAnswer parses raw once and wires its feedback and content state.
func NewAnswer(raw citation.RawAnswer, deps Deps, opts Options) *Answer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := deps.Parser
	if parser == nil {
		parser = citation.NewParser(citation.DocGrammar)
	}
	store := deps.Store
	if store == nil {
		store = feedback.NewMemoryStore()
	}

	parsed := parser.Parse(raw)
	markdown := parsed.MarkdownText
	if opts.SanitizeAnswer {
		markdown = sanitizePolicy.Sanitize(markdown)
	}

	var resolverOpts []resolver.Option
	if opts.FetchTimeout > 0 {
		resolverOpts = append(resolverOpts, resolver.WithTimeout(opts.FetchTimeout))
	}

	a := &Answer{
		parsed:    parsed,
		markdown:  markdown,
		opts:      opts,
		feedback:  feedback.NewMachine(raw.MessageID, raw.RawFeedback, store, deps.Persister, logger),
		content:   resolver.New(deps.Fetcher, logger, resolverOpts...),
		logger:    logger,
		listeners: make(map[int]func(Snapshot)),
	}

	a.unsubs = append(a.unsubs,
		store.Subscribe(func(e feedback.Event) {
			if e.MessageID == raw.MessageID {
				a.emit()
			}
		}),
		a.content.Subscribe(func(resolver.Result) { a.emit() }),
	)
	return a
}

// Snapshot derives the current view.
func (a *Answer) Snapshot() Snapshot {
	return Snapshot{
		MessageID:       a.feedback.MessageID(),
		Markdown:        a.markdown,
		Citations:       a.parsed.Citations,
		References:      a.parsed.ReferenceSummary(),
		FeedbackEnabled: a.feedbackEnabled(),
		Feedback:        a.feedback.State(),
		FeedbackDialog:  a.feedback.Dialog(),
		CitationContent: a.content.State(),
	}
}

// Subscribe registers l to receive a fresh snapshot after every change.
func (a *Answer) Subscribe(l func(Snapshot)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = l
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Answer) Like() error    { return a.act(a.feedback.Like) }
func (a *Answer) Dislike() error { return a.act(a.feedback.Dislike) }
func (a *Answer) Submit() error  { return a.act(a.feedback.Submit) }
func (a *Answer) Dismiss() error { return a.act(a.feedback.Dismiss) }

func (a *Answer) ReportInappropriate() error {
	return a.act(a.feedback.ReportInappropriate)
}

func (a *Answer) ToggleReason(r feedback.Reason) error {
	return a.act(func() error { return a.feedback.ToggleReason(r) })
}

// SelectCitation opens the content dialog for the citation with the given ordinal.
func (a *Answer) SelectCitation(ctx context.Context, ordinal int) (<-chan resolver.Outcome, error) {
	if ordinal < 1 || ordinal > len(a.parsed.Citations) {
		return nil, fmt.Errorf("no citation %d (answer has %d)", ordinal, len(a.parsed.Citations))
	}
	return a.content.Resolve(ctx, a.parsed.Citations[ordinal-1]), nil
}

// CloseCitation closes the content dialog.
func (a *Answer) CloseCitation() {
	a.content.Close()
}

// Wait blocks until outstanding feedback writes have returned.
func (a *Answer) Wait() {
	a.feedback.Flush()
}

// Release detaches the answer from the shared store.
func (a *Answer) Release() {
	for _, u := range a.unsubs {
		u()
	}
	a.unsubs = nil
}

func (a *Answer) feedbackEnabled() bool {
	return a.opts.FeedbackEnabled && a.feedback.MessageID() != ""
}

// act runs a feedback action. Dialog-only transitions touch no store entry, so the
// snapshot is re-emitted here as well.
func (a *Answer) act(fn func() error) error {
	if !a.feedbackEnabled() {
		return ErrFeedbackDisabled
	}
	if err := fn(); err != nil {
		return err
	}
	a.emit()
	return nil
}

func (a *Answer) emit() {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	listeners := make([]func(Snapshot), 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	a.mu.Unlock()
	if len(listeners) == 0 {
		return
	}

	snap := a.Snapshot()
	for _, l := range listeners {
		l(snap)
	}
}
