// Package feedback implements the like/dislike/reason lifecycle of one answer message.
//
// Transitions are applied synchronously and written to the shared Store. Persisting the
// result is a fire-and-forget side effect: the locally computed state stays
// authoritative whatever the persistence call returns.
package feedback

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/metrics"
)

var (
	ErrReadOnly      = errors.New("message has no id; feedback is read-only")
	ErrNoDialog      = errors.New("feedback dialog is not open")
	ErrNoReasons     = errors.New("select at least one reason before submitting")
	ErrUnknownReason = errors.New("unknown feedback reason")
	ErrReportPage    = errors.New("report page is only reachable from the reasons page")
)

// DefaultPersistTimeout bounds one persistence call.
const DefaultPersistTimeout = 10 * time.Second

// Persister writes a message's feedback value to durable storage.
type Persister interface {
	UpdateFeedback(ctx context.Context, messageID, value string) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, messageID, value string) error

func (f PersisterFunc) UpdateFeedback(ctx context.Context, messageID, value string) error {
	return f(ctx, messageID, value)
}

// DialogPage identifies which reason dialog, if any, is showing.
type DialogPage int

const (
	DialogClosed DialogPage = iota
	DialogReasons
	DialogReport
)

func (p DialogPage) String() string {
	switch p {
	case DialogReasons:
		return "reasons"
	case DialogReport:
		return "report"
	default:
		return "closed"
	}
}

// Dialog is the reason-capture dialog and its pending selection.
type Dialog struct {
	Page    DialogPage `json:"page"`
	Pending []Reason   `json:"pending,omitempty"`
}

func (d Dialog) Open() bool { return d.Page != DialogClosed }

// Machine drives the feedback of a single message.
type Machine struct {
	messageID string
	initial   State
	store     Store
	persister Persister
	logger    *zap.Logger
	timeout   time.Duration

	// act serializes actions; mu guards dialog and seq so that store listeners
	// may read Dialog while an action is committing.
	act    sync.Mutex
	mu     sync.Mutex
	dialog Dialog
	seq    uint64

	inflight sync.WaitGroup
	// lastWrite is closed when the most recently issued write returns; writes for one
	// message reach the persister in action order.
	lastWrite chan struct{}
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithPersistTimeout bounds each persistence call. A call that outlives it is abandoned
// so later writes for the message are not held up.
func WithPersistTimeout(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewMachine builds the machine for messageID. rawFeedback is the persisted value loaded
// with the message; a state already in store takes precedence over it.
func NewMachine(messageID, rawFeedback string, store Store, persister Persister, logger *zap.Logger, opts ...MachineOption) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Machine{
		messageID: messageID,
		initial:   ParseValue(rawFeedback),
		store:     store,
		persister: persister,
		logger:    logger.With(zap.String("message_id", messageID)),
		timeout:   DefaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) MessageID() string { return m.messageID }

// State returns the current feedback state.
func (m *Machine) State() State {
	if m.messageID != "" {
		if st, ok := m.store.Get(m.messageID); ok {
			return st
		}
	}
	return m.initial.clone()
}

// Dialog returns a copy of the dialog state.
func (m *Machine) Dialog() Dialog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Dialog{Page: m.dialog.Page, Pending: slices.Clone(m.dialog.Pending)}
}

// Like toggles between Positive and Neutral. An open dialog is abandoned.
func (m *Machine) Like() error {
	if m.messageID == "" {
		return ErrReadOnly
	}
	m.act.Lock()
	defer m.act.Unlock()

	m.setDialog(Dialog{})
	next := State{Kind: Positive}
	if m.State().Kind == Positive {
		next = State{Kind: Neutral}
	}
	m.commit(next, true)
	return nil
}

// Dislike opens the reason dialog, or clears an existing negative rating.
func (m *Machine) Dislike() error {
	if m.messageID == "" {
		return ErrReadOnly
	}
	m.act.Lock()
	defer m.act.Unlock()

	if m.State().Kind == Negative {
		m.setDialog(Dialog{})
		m.commit(State{Kind: Neutral}, true)
		return nil
	}

	// Negative without reasons is never persisted; Submit or Dismiss settles it.
	m.setDialog(Dialog{Page: DialogReasons})
	m.commit(State{Kind: Negative}, false)
	return nil
}

// ToggleReason adds r to the pending selection, or removes it if already selected.
func (m *Machine) ToggleReason(r Reason) error {
	if !r.Valid() {
		return ErrUnknownReason
	}
	m.act.Lock()
	defer m.act.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dialog.Open() {
		return ErrNoDialog
	}
	if i := slices.Index(m.dialog.Pending, r); i >= 0 {
		m.dialog.Pending = slices.Delete(m.dialog.Pending, i, i+1)
	} else {
		m.dialog.Pending = append(m.dialog.Pending, r)
	}
	m.seq++
	return nil
}

// ReportInappropriate switches the open dialog to the report page, keeping the selection.
func (m *Machine) ReportInappropriate() error {
	m.act.Lock()
	defer m.act.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dialog.Page != DialogReasons {
		if !m.dialog.Open() {
			return ErrNoDialog
		}
		return ErrReportPage
	}
	m.dialog.Page = DialogReport
	m.seq++
	return nil
}

// Submit commits the pending reasons as the message's negative feedback.
func (m *Machine) Submit() error {
	m.act.Lock()
	defer m.act.Unlock()

	m.mu.Lock()
	if !m.dialog.Open() {
		m.mu.Unlock()
		return ErrNoDialog
	}
	if len(m.dialog.Pending) == 0 {
		m.mu.Unlock()
		return ErrNoReasons
	}
	next := State{Kind: Negative, Reasons: slices.Clone(m.dialog.Pending)}
	m.dialog = Dialog{}
	m.mu.Unlock()

	m.commit(next, true)
	return nil
}

// Dismiss closes the dialog without submitting and returns the message to Neutral.
// Nothing is persisted.
func (m *Machine) Dismiss() error {
	m.act.Lock()
	defer m.act.Unlock()

	m.mu.Lock()
	if !m.dialog.Open() {
		m.mu.Unlock()
		return ErrNoDialog
	}
	m.dialog = Dialog{}
	m.mu.Unlock()

	m.commit(State{Kind: Neutral}, false)
	return nil
}

// Flush blocks until every persistence call issued so far has returned.
func (m *Machine) Flush() {
	m.inflight.Wait()
}

func (m *Machine) setDialog(d Dialog) {
	m.mu.Lock()
	m.dialog = d
	m.mu.Unlock()
}

// commit must be called with m.act held and m.mu released.
func (m *Machine) commit(next State, persist bool) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	m.store.Set(m.messageID, next)
	if persist {
		m.persist(next.Value(), seq)
	}
}

func (m *Machine) persist(value string, seq uint64) {
	if m.persister == nil {
		return
	}
	prev := m.lastWrite
	done := make(chan struct{})
	m.lastWrite = done

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.persister.UpdateFeedback(ctx, m.messageID, value); err != nil {
			m.logger.Warn("Failed to persist message feedback",
				zap.String("value", value),
				zap.Uint64("action", seq),
				zap.Error(err))
			metrics.FeedbackPersistFailures.Inc()
			return
		}
		m.logger.Debug("Persisted message feedback", zap.String("value", value), zap.Uint64("action", seq))
		metrics.FeedbackPersisted.WithLabelValues(ParseValue(value).Kind.String()).Inc()
	}()
}
