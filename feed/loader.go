// Package feed pages through the athlete's activities and keeps the runs.
//
// A Loader allows at most one page fetch in flight. Scroll signals are
// debounced: only the last signal in a quiet window triggers a load. Items
// are append-only until Reload starts a new cycle.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-authgate/pacefeed/strava"
)

const (
	// PageSize is the number of activities requested per page.
	PageSize = strava.DefaultPerPage
	// DefaultDebounce is the quiet window for OnScrollNearBottom.
	DefaultDebounce = 400 * time.Millisecond
)

// ErrNotLoggedIn is recorded when no access token is available.
var ErrNotLoggedIn = errors.New("not logged in")

// TokenSource supplies a valid access token.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (string, error)
}

// ActivityLister fetches one page of activity summaries.
type ActivityLister interface {
	ListActivities(
		ctx context.Context,
		accessToken string,
		page, perPage int,
	) ([]strava.ActivitySummary, error)
}

// Observer is told about every state change.
type Observer interface {
	FeedChanged(State)
}

// Phase is the pagination state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseEnd:
		return "end"
	default:
		return "idle"
	}
}

// State is a copy of the loader's observable fields.
type State struct {
	Items      []Item
	Loading    bool
	ReachedEnd bool
	// NextPage is the 1-based page the next fetch will request.
	NextPage int
	// Err is the last fetch error, cleared by the next successful fetch.
	Err error
}

// Phase derives the pagination phase.
func (s State) Phase() Phase {
	switch {
	case s.Loading:
		return PhaseLoading
	case s.ReachedEnd:
		return PhaseEnd
	default:
		return PhaseIdle
	}
}

// ErrorMessage is DisplayError(s.Err), or "" when there is no error.
func (s State) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return DisplayError(s.Err)
}

// DisplayError renders API errors as "<code>: <message>" and anything else
// with its own description.
func DisplayError(err error) string {
	var apiErr *strava.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}

// Options carries the collaborators of a Loader. Tokens and API are required.
type Options struct {
	Tokens   TokenSource
	API      ActivityLister
	Observer Observer
	Logger   *slog.Logger
	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration
}

// Loader is safe for concurrent use.
type Loader struct {
	tokens   TokenSource
	api      ActivityLister
	observer Observer
	logger   *slog.Logger
	debounce time.Duration

	mu       sync.Mutex
	items    []Item
	seen     map[int64]struct{}
	nextPage int
	loading  bool
	end      bool
	lastErr  error
	closed   bool

	// cycle increments on Reload and Close; a fetch from an older cycle is discarded.
	cycle       uint64
	cancelFetch context.CancelFunc

	timer    *time.Timer
	timerSeq uint64
}

// New creates an idle loader positioned at page 1.
func New(opts Options) *Loader {
	l := &Loader{
		tokens:   opts.Tokens,
		api:      opts.API,
		observer: opts.Observer,
		logger:   opts.Logger,
		debounce: opts.Debounce,
		seen:     make(map[int64]struct{}),
		nextPage: 1,
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.debounce <= 0 {
		l.debounce = DefaultDebounce
	}
	return l
}

// State returns the current observable state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

// Reload starts a new cycle at page 1 and loads it. A fetch still in flight
// from the previous cycle is canceled and its result dropped.
func (l *Loader) Reload(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.resetLocked()
	l.nextPage = 1
	l.end = false
	l.items = nil
	l.seen = make(map[int64]struct{})
	l.lastErr = nil
	state := l.stateLocked()
	l.mu.Unlock()

	l.notify(state)
	return l.LoadNextPage(ctx)
}

// LoadNextPage fetches the next page. It does nothing while a fetch is in
// flight or after the last page. The returned error is also recorded in State.
func (l *Loader) LoadNextPage(ctx context.Context) error {
	l.mu.Lock()
	if l.loading || l.end || l.closed {
		l.mu.Unlock()
		return nil
	}
	// The slot is claimed before the token lookup so a concurrent caller
	// cannot start a second fetch.
	l.loading = true
	cycle := l.cycle
	page := l.nextPage
	fetchCtx, cancel := context.WithCancel(ctx)
	l.cancelFetch = cancel
	state := l.stateLocked()
	l.mu.Unlock()
	defer cancel()

	l.notify(state)

	token, err := l.tokens.ValidAccessToken(fetchCtx)
	if err != nil {
		l.logger.DebugContext(ctx, "no access token for feed", "error", err)
		return l.finish(cycle, func() error {
			l.lastErr = ErrNotLoggedIn
			return ErrNotLoggedIn
		})
	}

	l.logger.DebugContext(ctx, "fetching activities", "page", page)
	activities, err := l.api.ListActivities(fetchCtx, token, page, PageSize)
	return l.finish(cycle, func() error {
		if err != nil {
			l.lastErr = err
			return err
		}
		l.lastErr = nil
		l.appendPageLocked(activities)
		return nil
	})
}

// OnScrollNearBottom schedules LoadNextPage once no further signal arrives
// within the debounce window. Each signal restarts the window.
func (l *Loader) OnScrollNearBottom(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loading || l.end || l.closed {
		return
	}
	l.stopTimerLocked()
	l.timerSeq++
	seq := l.timerSeq
	l.timer = time.AfterFunc(l.debounce, func() {
		l.mu.Lock()
		if seq != l.timerSeq || l.closed {
			l.mu.Unlock()
			return
		}
		l.timer = nil
		l.mu.Unlock()

		if err := l.LoadNextPage(ctx); err != nil {
			l.logger.WarnContext(ctx, "debounced page load failed", "error", err)
		}
	})
}

// Close stops a pending debounce and cancels any fetch in flight.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.resetLocked()
}

// finish applies a fetch outcome unless the cycle moved on meanwhile.
func (l *Loader) finish(cycle uint64, apply func() error) error {
	l.mu.Lock()
	if cycle != l.cycle {
		l.mu.Unlock()
		l.logger.Debug("discarding result from superseded fetch")
		return nil
	}
	l.loading = false
	l.cancelFetch = nil
	err := apply()
	state := l.stateLocked()
	l.mu.Unlock()

	l.notify(state)
	return err
}

func (l *Loader) appendPageLocked(activities []strava.ActivitySummary) {
	if len(activities) == 0 {
		l.end = true
		return
	}
	for _, a := range activities {
		if !a.IsRun() {
			continue
		}
		if _, dup := l.seen[a.ID]; dup {
			continue
		}
		l.seen[a.ID] = struct{}{}
		l.items = append(l.items, Project(a))
	}
	l.nextPage++
	if len(activities) < PageSize {
		l.end = true
	}
}

// resetLocked abandons the in-flight fetch and the pending debounce.
func (l *Loader) resetLocked() {
	l.cycle++
	if l.cancelFetch != nil {
		l.cancelFetch()
		l.cancelFetch = nil
	}
	l.loading = false
	l.stopTimerLocked()
}

func (l *Loader) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.timerSeq++
}

func (l *Loader) stateLocked() State {
	return State{
		Items:      append([]Item(nil), l.items...),
		Loading:    l.loading,
		ReachedEnd: l.end,
		NextPage:   l.nextPage,
		Err:        l.lastErr,
	}
}

func (l *Loader) notify(state State) {
	if l.observer != nil {
		l.observer.FeedChanged(state)
	}
}
