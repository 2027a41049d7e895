package tui

import (
	"fmt"
	"io"
	"sync"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/pacefeed/feed"
	"github.com/go-authgate/pacefeed/session"
)

// Displayer abstracts all output of the CLI. It observes both the session and
// the feed loader, so it may be called from several goroutines.
type Displayer interface {
	session.Observer
	feed.Observer

	Banner()
	Restoring()
	NoStoredSession()
	AuthorizeURL(url string, expiry time.Time)
	LoggedOut()
	Done(runs int)
	Fatal(err error)
}

// FormatItem renders one run as a fixed-width row.
func FormatItem(item feed.Item) string {
	pace := item.Pace
	if pace == "" {
		pace = "--"
	}
	row := fmt.Sprintf("%-12s %7.2f km %6s /km", item.DateDisplay, item.DistanceKm, pace)
	if item.Location != "" {
		row += "  " + item.Location
	}
	return row
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer

	mu           sync.Mutex
	sessionState session.State
	loginErr     string
	printed      int
	loading      bool
	ended        bool
	feedErr      string
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Pacefeed: your Strava runs ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Restoring() {
	fmt.Fprintln(p.w, "Checking stored Strava session...")
}

func (p *PlainDisplayer) NoStoredSession() {
	fmt.Fprintln(p.w, "No usable session found, starting login...")
}

func (p *PlainDisplayer) AuthorizeURL(url string, expiry time.Time) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "Please open this link to authorize:\n%s\n", url)
	fmt.Fprintf(p.w, "\nWaiting until %s\n", expiry.Format(time.Kitchen))
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionChanged(s session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State != p.sessionState {
		switch s.State {
		case session.StateLoggingIn:
			fmt.Fprintln(p.w, "Logging in to Strava...")
		case session.StateLoggedIn:
			if s.Identity != nil {
				fmt.Fprintf(p.w, "Logged in as %s\n", s.Identity.DisplayName)
			}
		}
		p.sessionState = s.State
	}
	if s.LoginError != "" && s.LoginError != p.loginErr {
		fmt.Fprintf(p.w, "Login failed: %s\n", s.LoginError)
	}
	p.loginErr = s.LoginError
}

func (p *PlainDisplayer) FeedChanged(s feed.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(s.Items) < p.printed {
		fmt.Fprintln(p.w, "\nReloading feed...")
		p.printed = 0
		p.ended = false
	}
	if s.Loading && !p.loading {
		fmt.Fprintf(p.w, "Loading page %d...\n", s.NextPage)
	}
	p.loading = s.Loading

	for _, item := range s.Items[p.printed:] {
		fmt.Fprintln(p.w, FormatItem(item))
	}
	p.printed = len(s.Items)

	if msg := s.ErrorMessage(); msg != "" && msg != p.feedErr {
		fmt.Fprintf(p.w, "Feed error: %s\n", msg)
	}
	p.feedErr = s.ErrorMessage()

	if s.ReachedEnd && !p.ended {
		fmt.Fprintln(p.w, "No more runs.")
	}
	p.ended = s.ReachedEnd
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Logged out. Stored Strava tokens removed.")
}

func (p *PlainDisplayer) Done(runs int) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintf(p.w, "Loaded %d runs\n", runs)
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                            {}
func (NoopDisplayer) Restoring()                         {}
func (NoopDisplayer) NoStoredSession()                   {}
func (NoopDisplayer) AuthorizeURL(_ string, _ time.Time) {}
func (NoopDisplayer) SessionChanged(_ session.Snapshot)  {}
func (NoopDisplayer) FeedChanged(_ feed.State)           {}
func (NoopDisplayer) LoggedOut()                         {}
func (NoopDisplayer) Done(_ int)                         {}
func (NoopDisplayer) Fatal(_ error)                      {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) Restoring() {
	t.p.Send(MsgRestoring{})
}

func (t *ProgramDisplayer) NoStoredSession() {
	t.p.Send(MsgNoStoredSession{})
}

func (t *ProgramDisplayer) AuthorizeURL(url string, expiry time.Time) {
	t.p.Send(MsgAuthorizeURL{URL: url, Expiry: expiry})
}

func (t *ProgramDisplayer) SessionChanged(s session.Snapshot) {
	t.p.Send(MsgSession{Snapshot: s})
}

func (t *ProgramDisplayer) FeedChanged(s feed.State) {
	t.p.Send(MsgFeed{State: s})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) Done(runs int) {
	t.p.Send(MsgDone{Runs: runs})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
