package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/citation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type reply struct {
	content Content
	err     error
}

// gatedFetcher blocks each fetch until the test releases a reply for its URL.
type gatedFetcher struct {
	mu     sync.Mutex
	gates  map[string]chan reply
	titles []string
	calls  int
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{gates: make(map[string]chan reply)}
}

func (f *gatedFetcher) gate(url string) chan reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.gates[url]
	if !ok {
		ch = make(chan reply, 1)
		f.gates[url] = ch
	}
	return ch
}

func (f *gatedFetcher) release(url string, r reply) {
	f.gate(url) <- r
}

func (f *gatedFetcher) FetchContent(ctx context.Context, url, title string) (Content, error) {
	f.mu.Lock()
	f.calls++
	f.titles = append(f.titles, title)
	f.mu.Unlock()

	select {
	case r := <-f.gate(url):
		return r.content, r.err
	case <-ctx.Done():
		return Content{}, ctx.Err()
	}
}

func cite(ordinal int, url string) citation.Citation {
	return citation.Citation{Ordinal: ordinal, ID: url, Title: "Doc " + url, URL: url}
}

func wait(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch outcome")
		return Outcome{}
	}
}

func TestResolve_Success(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, zap.NewNop())

	assert.Equal(t, Empty, r.State().Status)

	done := r.Resolve(context.Background(), cite(1, "a"))
	assert.Equal(t, Pending, r.State().Status)
	assert.False(t, r.State().DialogOpen())

	f.release("a", reply{content: Content{Content: "full text", Title: "A title"}})
	o := wait(t, done)

	assert.True(t, o.Applied)
	st := r.State()
	assert.Equal(t, Loaded, st.Status)
	assert.Equal(t, "full text", st.Content)
	assert.Equal(t, "A title", st.Title)
	assert.Equal(t, "a", st.Citation.URL)
	assert.True(t, st.DialogOpen())
}

func TestResolve_FailureShowsInlineError(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, nil)

	done := r.Resolve(context.Background(), cite(1, "a"))
	f.release("a", reply{err: errors.New("HTTP error! status: 502")})
	wait(t, done)

	st := r.State()
	assert.Equal(t, Failed, st.Status)
	assert.Equal(t, "HTTP error! status: 502", st.Error)
	assert.True(t, st.DialogOpen())
}

func TestResolve_NewSelectionClearsPriorResult(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, nil)

	first := r.Resolve(context.Background(), cite(1, "a"))
	f.release("a", reply{content: Content{Content: "A"}})
	wait(t, first)
	require.Equal(t, Loaded, r.State().Status)

	second := r.Resolve(context.Background(), cite(2, "b"))
	st := r.State()
	assert.Equal(t, Pending, st.Status)
	assert.Empty(t, st.Content)
	assert.Equal(t, "b", st.Citation.URL)

	f.release("b", reply{content: Content{Content: "B"}})
	wait(t, second)
}

func TestResolve_LateResponseForSupersededRequestIsDiscarded(t *testing.T) {
	tests := []struct {
		name  string
		bErr  error
		wantB Status
	}{
		{name: "newer succeeds", wantB: Loaded},
		{name: "newer fails", bErr: errors.New("boom"), wantB: Failed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGatedFetcher()
			r := New(f, nil)

			a := r.Resolve(context.Background(), cite(1, "a"))
			b := r.Resolve(context.Background(), cite(2, "b"))

			f.release("b", reply{content: Content{Content: "B"}, err: tt.bErr})
			ob := wait(t, b)
			assert.True(t, ob.Applied)

			f.release("a", reply{content: Content{Content: "A"}})
			oa := wait(t, a)
			assert.False(t, oa.Applied)
			assert.Less(t, oa.Generation, ob.Generation)

			st := r.State()
			assert.Equal(t, tt.wantB, st.Status)
			assert.Equal(t, "b", st.Citation.URL)
		})
	}
}

func TestResolve_EarlyResponseForSupersededRequestIsDiscarded(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, nil)

	a := r.Resolve(context.Background(), cite(1, "a"))
	b := r.Resolve(context.Background(), cite(2, "b"))

	f.release("a", reply{content: Content{Content: "A"}})
	assert.False(t, wait(t, a).Applied)
	assert.Equal(t, Pending, r.State().Status, "older response must not replace the pending newer one")

	f.release("b", reply{err: errors.New("not found")})
	wait(t, b)
	st := r.State()
	assert.Equal(t, Failed, st.Status)
	assert.Equal(t, "b", st.Citation.URL)
}

func TestClose_ResetsAndDiscardsInFlight(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, nil)

	first := r.Resolve(context.Background(), cite(1, "a"))
	r.Close()
	assert.Equal(t, Empty, r.State().Status)

	f.release("a", reply{content: Content{Content: "stale"}})
	assert.False(t, wait(t, first).Applied)
	assert.Equal(t, Result{}, r.State())

	// Reopening issues a fresh request rather than reusing anything.
	again := r.Resolve(context.Background(), cite(1, "a"))
	assert.Equal(t, Pending, r.State().Status)
	f.release("a", reply{content: Content{Content: "fresh"}})
	wait(t, again)

	assert.Equal(t, "fresh", r.State().Content)
	assert.Equal(t, 2, f.calls)

	r.Close()
	assert.Equal(t, Empty, r.State().Status)
}

func TestResolve_Timeout(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, nil, WithTimeout(20*time.Millisecond))

	o := wait(t, r.Resolve(context.Background(), cite(1, "slow")))

	assert.True(t, o.Applied)
	assert.Equal(t, Failed, r.State().Status)
	assert.Equal(t, "citation content request timed out", r.State().Error)
}

func TestResolve_WithoutFetcherFails(t *testing.T) {
	r := New(nil, zap.NewNop())

	o := wait(t, r.Resolve(context.Background(), cite(1, "a")))
	assert.True(t, o.Applied)
	st := r.State()
	assert.Equal(t, Failed, st.Status)
	assert.Equal(t, ErrNoFetcher.Error(), st.Error)
	assert.True(t, st.DialogOpen())
}

func TestResolve_DefaultTitle(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, nil)

	done := r.Resolve(context.Background(), citation.Citation{Ordinal: 1, URL: "u"})
	f.release("u", reply{content: Content{Content: "body"}})
	wait(t, done)

	assert.Equal(t, []string{"Citation Content"}, f.titles)
	assert.Equal(t, "Citation Content", r.State().Title)
}

func TestSubscribe_LastNotificationIsFinalState(t *testing.T) {
	f := newGatedFetcher()
	r := New(f, nil)

	var mu sync.Mutex
	var seen []Status
	unsubscribe := r.Subscribe(func(res Result) {
		mu.Lock()
		seen = append(seen, res.Status)
		mu.Unlock()
	})
	defer unsubscribe()

	done := r.Resolve(context.Background(), cite(1, "a"))
	f.release("a", reply{content: Content{Content: "A"}})
	wait(t, done)
	r.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{Pending, Loaded, Empty}, seen)
}
