// Package resolver fetches the full content of a selected citation for the content
// dialog. Only the most recent selection may change what the dialog shows: every fetch
// is tagged with a generation number and a response whose generation is no longer the
// latest is dropped.
package resolver

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/citation"
	"gwi.com/cited-answers/internal/metrics"
)

const (
	DefaultTimeout = 10 * time.Second
	defaultTitle   = "Citation Content"
)

// ErrNoFetcher is reported when content is requested but no content service is wired.
var ErrNoFetcher = errors.New("citation content service is not configured")

// Content is a successful content service response.
type Content struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

// Fetcher retrieves citation content from the content service.
type Fetcher interface {
	FetchContent(ctx context.Context, url, title string) (Content, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url, title string) (Content, error)

func (f FetcherFunc) FetchContent(ctx context.Context, url, title string) (Content, error) {
	return f(ctx, url, title)
}

// Status is the lifecycle stage of the dialog's content.
type Status int

const (
	Empty Status = iota
	Pending
	Loaded
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "empty"
	}
}

// Result is what the content dialog currently shows.
type Result struct {
	Status   Status            `json:"status"`
	Citation citation.Citation `json:"citation"`
	Content  string            `json:"content,omitempty"`
	Title    string            `json:"title,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// DialogOpen reports whether the content dialog is showing. It opens once the current
// fetch has either content or an error to display.
func (r Result) DialogOpen() bool {
	return r.Status == Loaded || r.Status == Failed
}

// Outcome is delivered once per Resolve call. Applied is false when a newer selection
// or a Close superseded the request before its response arrived.
type Outcome struct {
	Generation uint64
	Result     Result
	Applied    bool
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds each fetch. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// Resolver owns the state of one content dialog.
type Resolver struct {
	fetcher Fetcher
	timeout time.Duration
	logger  *zap.Logger

	mu         sync.Mutex
	generation uint64
	result     Result
	listeners  map[int]func(Result)
	nextID     int

	notifyMu sync.Mutex
}

func New(fetcher Fetcher, logger *zap.Logger, opts ...Option) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		fetcher:   fetcher,
		timeout:   DefaultTimeout,
		logger:    logger,
		listeners: make(map[int]func(Result)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current dialog content.
func (r *Resolver) State() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Resolve starts fetching c's content and makes it the current request. The state
// moves to Pending immediately, clearing any earlier content or error. The returned
// channel receives exactly one Outcome and is then closed.
func (r *Resolver) Resolve(ctx context.Context, c citation.Citation) <-chan Outcome {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.result = Result{Status: Pending, Citation: c}
	r.mu.Unlock()
	r.notify()

	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res := r.fetch(ctx, c)
		applied := r.apply(gen, res)
		out <- Outcome{Generation: gen, Result: res, Applied: applied}
	}()
	return out
}

// Close resets the dialog to Empty. Responses still in flight are discarded.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.generation++
	r.result = Result{}
	r.mu.Unlock()
	r.notify()
}

// Subscribe registers l to run after every state change. l runs synchronously and
// must not call Resolve or Close.
func (r *Resolver) Subscribe(l func(Result)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *Resolver) fetch(ctx context.Context, c citation.Citation) Result {
	if r.fetcher == nil {
		return Result{Status: Failed, Citation: c, Error: ErrNoFetcher.Error()}
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	title := c.Title
	if title == "" {
		title = defaultTitle
	}

	start := time.Now()
	content, err := r.fetcher.FetchContent(ctx, c.URL, title)
	metrics.CitationFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "citation content request timed out"
		}
		return Result{Status: Failed, Citation: c, Error: msg}
	}
	if content.Title == "" {
		content.Title = title
	}
	return Result{Status: Loaded, Citation: c, Content: content.Content, Title: content.Title}
}

func (r *Resolver) apply(gen uint64, res Result) bool {
	r.mu.Lock()
	if gen != r.generation {
		latest := r.generation
		r.mu.Unlock()
		r.logger.Debug("Discarding superseded citation content response",
			zap.Uint64("generation", gen),
			zap.Uint64("latest", latest),
			zap.String("url", res.Citation.URL))
		metrics.CitationFetches.WithLabelValues("stale").Inc()
		return false
	}
	r.result = res
	r.mu.Unlock()

	if res.Status == Failed {
		r.logger.Warn("Citation content fetch failed",
			zap.String("url", res.Citation.URL),
			zap.String("error", res.Error))
		metrics.CitationFetches.WithLabelValues("error").Inc()
	} else {
		metrics.CitationFetches.WithLabelValues("result").Inc()
	}
	r.notify()
	return true
}

// notify hands listeners the state current at delivery time, so the last value any
// listener sees is the resolver's final state.
func (r *Resolver) notify() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	res := r.result
	listeners := make([]func(Result), 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	r.mu.Unlock()

	for _, l := range listeners {
		l(res)
	}
}
