package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-authgate/pacefeed/strava"
)

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) ValidAccessToken(context.Context) (string, error) {
	return s.token, s.err
}

type fakeLister struct {
	fn    func(ctx context.Context, page int) ([]strava.ActivitySummary, error)
	calls atomic.Int32

	mu    sync.Mutex
	pages []int
}

func (f *fakeLister) ListActivities(
	ctx context.Context,
	_ string,
	page, perPage int,
) ([]strava.ActivitySummary, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.pages = append(f.pages, page)
	f.mu.Unlock()
	if perPage != PageSize {
		return nil, fmt.Errorf("perPage = %d, want %d", perPage, PageSize)
	}
	return f.fn(ctx, page)
}

func (f *fakeLister) requested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pages...)
}

// pageOf returns n activities with ids starting at first; every third one is a ride.
func pageOf(first int64, n int) []strava.ActivitySummary {
	out := make([]strava.ActivitySummary, n)
	for i := range out {
		typ := "Run"
		if i%3 == 2 {
			typ = "Ride"
		}
		out[i] = strava.ActivitySummary{
			ID:         first + int64(i),
			Distance:   5000,
			MovingTime: 1500,
			Type:       typ,
		}
	}
	return out
}

func sizedPages(sizes ...int) func(context.Context, int) ([]strava.ActivitySummary, error) {
	return func(_ context.Context, page int) ([]strava.ActivitySummary, error) {
		if page > len(sizes) {
			return []strava.ActivitySummary{}, nil
		}
		return pageOf(int64(page*1000), sizes[page-1]), nil
	}
}

func newTestLoader(lister *fakeLister) *Loader {
	return New(Options{
		Tokens:   staticTokens{token: "tok"},
		API:      lister,
		Debounce: 50 * time.Millisecond,
	})
}

func TestLoadNextPage_PagesUntilShortPage(t *testing.T) {
	lister := &fakeLister{fn: sizedPages(30, 30, 12)}
	l := newTestLoader(lister)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.LoadNextPage(ctx); err != nil {
			t.Fatalf("LoadNextPage() #%d error = %v", i+1, err)
		}
	}

	state := l.State()
	if !state.ReachedEnd || state.Phase() != PhaseEnd {
		t.Fatalf("state = %+v, want end reached", state)
	}
	// 10 rides per full page, 4 in the short one.
	if want := 20 + 20 + 8; len(state.Items) != want {
		t.Fatalf("len(Items) = %d, want %d", len(state.Items), want)
	}

	var want []int64
	for _, p := range [][]strava.ActivitySummary{pageOf(1000, 30), pageOf(2000, 30), pageOf(3000, 12)} {
		for _, a := range p {
			if a.IsRun() {
				want = append(want, a.ID)
			}
		}
	}
	for i, item := range state.Items {
		if item.ID != want[i] {
			t.Fatalf("Items[%d].ID = %d, want %d", i, item.ID, want[i])
		}
	}

	// Past the end nothing more is fetched.
	if err := l.LoadNextPage(ctx); err != nil {
		t.Fatalf("LoadNextPage() after end error = %v", err)
	}
	if n := lister.calls.Load(); n != 3 {
		t.Errorf("fetches = %d, want 3", n)
	}
}

func TestLoadNextPage_EmptyPageEnds(t *testing.T) {
	lister := &fakeLister{fn: sizedPages()}
	l := newTestLoader(lister)

	if err := l.LoadNextPage(context.Background()); err != nil {
		t.Fatalf("LoadNextPage() error = %v", err)
	}
	state := l.State()
	if !state.ReachedEnd || len(state.Items) != 0 || state.NextPage != 1 {
		t.Errorf("state = %+v, want end, no items, page still 1", state)
	}
	if n := lister.calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestLoadNextPage_ConcurrentCallsFetchOnce(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	lister := &fakeLister{fn: func(_ context.Context, page int) ([]strava.ActivitySummary, error) {
		close(started)
		<-release
		return pageOf(1, PageSize), nil
	}}
	l := newTestLoader(lister)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- l.LoadNextPage(ctx) }()
	<-started

	if !l.State().Loading {
		t.Error("Loading = false during fetch")
	}
	if err := l.LoadNextPage(ctx); err != nil {
		t.Errorf("second LoadNextPage() error = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first LoadNextPage() error = %v", err)
	}

	if n := lister.calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
	if l.State().Loading {
		t.Error("Loading = true after fetch")
	}
}

func TestLoadNextPage_NotLoggedIn(t *testing.T) {
	lister := &fakeLister{fn: sizedPages(30)}
	l := New(Options{
		Tokens: staticTokens{err: errors.New("no stored credential")},
		API:    lister,
	})

	err := l.LoadNextPage(context.Background())
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("LoadNextPage() error = %v, want ErrNotLoggedIn", err)
	}
	state := l.State()
	if state.NextPage != 1 || state.ReachedEnd || state.Loading {
		t.Errorf("paging changed: %+v", state)
	}
	if state.ErrorMessage() != "not logged in" {
		t.Errorf("ErrorMessage() = %q", state.ErrorMessage())
	}
	if n := lister.calls.Load(); n != 0 {
		t.Errorf("fetches = %d, want 0", n)
	}
}

func TestLoadNextPage_ErrorKeepsItems(t *testing.T) {
	var fail atomic.Bool
	lister := &fakeLister{fn: func(_ context.Context, page int) ([]strava.ActivitySummary, error) {
		if fail.Load() {
			return nil, &strava.APIError{StatusCode: 429, Message: "Rate Limit Exceeded"}
		}
		return pageOf(int64(page*1000), PageSize), nil
	}}
	l := newTestLoader(lister)
	ctx := context.Background()

	if err := l.LoadNextPage(ctx); err != nil {
		t.Fatal(err)
	}
	before := len(l.State().Items)

	fail.Store(true)
	if err := l.LoadNextPage(ctx); err == nil {
		t.Fatal("LoadNextPage() expected error")
	}
	state := l.State()
	if len(state.Items) != before {
		t.Errorf("len(Items) = %d after error, want %d", len(state.Items), before)
	}
	if state.ErrorMessage() != "429: Rate Limit Exceeded" {
		t.Errorf("ErrorMessage() = %q", state.ErrorMessage())
	}
	if state.NextPage != 2 {
		t.Errorf("NextPage = %d, want 2", state.NextPage)
	}

	fail.Store(false)
	if err := l.LoadNextPage(ctx); err != nil {
		t.Fatal(err)
	}
	if state := l.State(); state.Err != nil || state.NextPage != 3 {
		t.Errorf("state = %+v, want error cleared at page 3", state)
	}
}

func TestLoadNextPage_SkipsDuplicateIDs(t *testing.T) {
	lister := &fakeLister{fn: func(_ context.Context, page int) ([]strava.ActivitySummary, error) {
		// Page 2 repeats the tail of page 1, as happens when a new activity is
		// uploaded between requests.
		if page == 1 {
			return pageOf(1, PageSize), nil
		}
		return pageOf(PageSize-2, 5), nil
	}}
	l := newTestLoader(lister)
	ctx := context.Background()
	_ = l.LoadNextPage(ctx)
	_ = l.LoadNextPage(ctx)

	seen := make(map[int64]bool)
	for _, item := range l.State().Items {
		if seen[item.ID] {
			t.Fatalf("duplicate id %d", item.ID)
		}
		seen[item.ID] = true
	}
}

func TestLoadNextPage_FiltersRuns(t *testing.T) {
	lister := &fakeLister{fn: func(context.Context, int) ([]strava.ActivitySummary, error) {
		return []strava.ActivitySummary{
			{ID: 1, Type: "Ride"},
			{ID: 2, Type: "run"},
			{ID: 3, Type: "RUN"},
			{ID: 4, Type: "Swim"},
			{ID: 5, Type: "Run"},
		}, nil
	}}
	l := newTestLoader(lister)
	if err := l.LoadNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	var ids []int64
	for _, item := range l.State().Items {
		ids = append(ids, item.ID)
	}
	if fmt.Sprint(ids) != "[2 3 5]" {
		t.Errorf("ids = %v, want [2 3 5]", ids)
	}
}

func TestReload_AfterEnd(t *testing.T) {
	lister := &fakeLister{fn: sizedPages(30, 3)}
	l := newTestLoader(lister)
	ctx := context.Background()
	_ = l.LoadNextPage(ctx)
	_ = l.LoadNextPage(ctx)
	if !l.State().ReachedEnd {
		t.Fatal("expected end after short page")
	}

	if err := l.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	state := l.State()
	if state.ReachedEnd || state.NextPage != 2 || state.Err != nil {
		t.Errorf("state = %+v, want page 1 reloaded", state)
	}
	if len(state.Items) != 20 {
		t.Errorf("len(Items) = %d, want 20", len(state.Items))
	}
	if got := fmt.Sprint(lister.requested()); got != "[1 2 1]" {
		t.Errorf("requested pages = %s, want [1 2 1]", got)
	}
}

func TestReload_DiscardsInFlightFetch(t *testing.T) {
	var first atomic.Bool
	first.Store(true)
	started := make(chan struct{})
	lister := &fakeLister{fn: func(ctx context.Context, page int) ([]strava.ActivitySummary, error) {
		if first.CompareAndSwap(true, false) {
			close(started)
			<-ctx.Done()
			return pageOf(9000, PageSize), nil
		}
		return pageOf(1, 4), nil
	}}
	l := newTestLoader(lister)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- l.LoadNextPage(ctx) }()
	<-started

	if err := l.Reload(ctx); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("superseded LoadNextPage() error = %v, want nil", err)
	}

	state := l.State()
	for _, item := range state.Items {
		if item.ID >= 9000 {
			t.Fatalf("stale item %d landed after reload", item.ID)
		}
	}
	if !state.ReachedEnd || state.Loading {
		t.Errorf("state = %+v, want reloaded short page", state)
	}
}

func TestOnScrollNearBottom_Debounces(t *testing.T) {
	fetched := make(chan time.Time, 4)
	lister := &fakeLister{fn: func(context.Context, int) ([]strava.ActivitySummary, error) {
		fetched <- time.Now()
		return pageOf(1, PageSize), nil
	}}
	l := New(Options{
		Tokens:   staticTokens{token: "tok"},
		API:      lister,
		Debounce: 80 * time.Millisecond,
	})
	defer l.Close()
	ctx := context.Background()

	var last time.Time
	for i := 0; i < 5; i++ {
		l.OnScrollNearBottom(ctx)
		last = time.Now()
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case at := <-fetched:
		if d := at.Sub(last); d < 80*time.Millisecond {
			t.Errorf("fetch %v after last signal, want >= 80ms", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("debounced load never ran")
	}

	time.Sleep(200 * time.Millisecond)
	if n := lister.calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestOnScrollNearBottom_NoopAtEnd(t *testing.T) {
	lister := &fakeLister{fn: sizedPages()}
	l := newTestLoader(lister)
	defer l.Close()
	ctx := context.Background()
	_ = l.LoadNextPage(ctx)

	l.OnScrollNearBottom(ctx)
	time.Sleep(150 * time.Millisecond)
	if n := lister.calls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestClose_CancelsPendingDebounce(t *testing.T) {
	lister := &fakeLister{fn: sizedPages(30)}
	l := newTestLoader(lister)

	l.OnScrollNearBottom(context.Background())
	l.Close()
	time.Sleep(150 * time.Millisecond)
	if n := lister.calls.Load(); n != 0 {
		t.Errorf("fetches = %d after Close, want 0", n)
	}
}

func TestDefaultDebounce(t *testing.T) {
	l := New(Options{Tokens: staticTokens{}, API: &fakeLister{}})
	if l.debounce != 400*time.Millisecond {
		t.Errorf("debounce = %v, want 400ms", l.debounce)
	}
}

func TestDisplayError(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{&strava.APIError{StatusCode: 401, Message: "Authorization Error"}, "401: Authorization Error"},
		{fmt.Errorf("list: %w", &strava.APIError{StatusCode: 500, Message: "oops"}), "500: oops"},
		{errors.New("dial tcp: connection refused"), "dial tcp: connection refused"},
	}
	for _, tt := range tests {
		if got := DisplayError(tt.err); got != tt.expected {
			t.Errorf("DisplayError(%v) = %q, want %q", tt.err, got, tt.expected)
		}
	}
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) FeedChanged(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func TestObserverSeesLoadingThenResult(t *testing.T) {
	rec := &stateRecorder{}
	l := New(Options{
		Tokens:   staticTokens{token: "tok"},
		API:      &fakeLister{fn: sizedPages(5)},
		Observer: rec,
	})
	if err := l.LoadNextPage(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != 2 {
		t.Fatalf("notifications = %d, want 2", len(rec.states))
	}
	if rec.states[0].Phase() != PhaseLoading {
		t.Errorf("first phase = %v, want loading", rec.states[0].Phase())
	}
	if rec.states[1].Phase() != PhaseEnd || len(rec.states[1].Items) != 4 {
		t.Errorf("second state = %+v", rec.states[1])
	}
}
