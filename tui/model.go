package tui

import (
	"fmt"
	"strings"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/go-authgate/pacefeed/feed"
	"github.com/go-authgate/pacefeed/session"
)

// nearBottomRows is how close to the last row scrolling asks for more.
const nearBottomRows = 3

// defaultVisibleRows is used before the first WindowSizeMsg.
const defaultVisibleRows = 15

// tickMsg is fired every second to update the countdown timer.
type tickMsg time.Time

// state represents the current phase of the CLI.
type state int

const (
	stateInit        state = iota
	stateRestoring         // checking the stored credential
	stateAuthorizing       // authorize link shown, waiting for the redirect
	stateFeed              // logged in, pages loading or loaded
	stateDone              // requested pages loaded, still scrollable
	stateLoggedOut         // credential removed
	stateError             // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Hooks let the model drive the feed loader. Nil hooks are skipped.
type Hooks struct {
	// NearBottom runs when scrolling reaches the last rows.
	NearBottom func()
	// Reload runs on "r".
	Reload func()
}

// Model is the BubbleTea model for the run feed TUI.
type Model struct {
	state   state
	spinner spinner.Model
	hooks   Hooks
	width   int
	height  int

	// Authorization link
	authURL   string
	expiry    time.Time
	remaining time.Duration

	// Session
	sessionState session.State
	identity     *session.Identity
	loginErr     string

	// Feed
	items   []feed.Item
	loading bool
	ended   bool
	feedErr string
	offset  int
	runs    int

	errMsg string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles, defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("202")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("202")).
			Padding(0, 2)

	styleLinkBox = lipgloss.NewStyle().
			Foreground(lipgloss.Color("228")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("228")).
			Padding(0, 1)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel(hooks Hooks) Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("202"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
		hooks:   hooks,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		if m.state != stateAuthorizing {
			return m, nil
		}
		m.remaining = max(time.Until(m.expiry), 0)
		if m.remaining > 0 {
			return m, tickAfterSecond()
		}
		return m, nil

	case tea.KeyPressMsg:
		return m.handleKey(msg.String())

	case nearBottomMsg:
		return m, nil

	// ── CLI flow messages ───────────────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgRestoring:
		m.state = stateRestoring
		m.addStatus(statusInfo, "Checking stored session")
		return m, nil

	case MsgNoStoredSession:
		m.addStatus(statusInfo, "No usable session, starting login")
		return m, nil

	case MsgAuthorizeURL:
		m.authURL = msg.URL
		m.expiry = msg.Expiry
		m.remaining = time.Until(msg.Expiry)
		m.state = stateAuthorizing
		return m, tickAfterSecond()

	case MsgSession:
		m.applySession(msg.Snapshot)
		return m, nil

	case MsgFeed:
		m.applyFeed(msg.State)
		return m, nil

	case MsgLoggedOut:
		m.state = stateLoggedOut
		m.identity = nil
		m.addStatus(statusOK, "Stored tokens removed")
		return m, nil

	case MsgDone:
		m.runs = msg.Runs
		if m.state != stateError {
			m.state = stateDone
		}
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "ctrl+c", "q", "esc":
		return m, tea.Quit
	case "down", "j":
		m.offset++
	case "up", "k":
		m.offset--
	case "pgdown", "space":
		m.offset += m.visibleRows()
	case "pgup":
		m.offset -= m.visibleRows()
	case "end", "G":
		m.offset = len(m.items)
	case "home", "g":
		m.offset = 0
	case "r":
		if m.hooks.Reload != nil && (m.state == stateFeed || m.state == stateDone) {
			m.offset = 0
			return m, hookCmd(m.hooks.Reload)
		}
		return m, nil
	default:
		return m, nil
	}
	m.clampOffset()

	if m.nearBottom() && m.hooks.NearBottom != nil && !m.loading && !m.ended {
		return m, hookCmd(m.hooks.NearBottom)
	}
	return m, nil
}

func (m *Model) applySession(s session.Snapshot) {
	if s.State != m.sessionState {
		switch s.State {
		case session.StateLoggingIn:
			m.addStatus(statusInfo, "Logging in to Strava")
		case session.StateLoggedIn:
			m.state = stateFeed
			name := "athlete"
			if s.Identity != nil {
				name = s.Identity.DisplayName
			}
			m.addStatus(statusOK, "Logged in as "+name)
		}
		m.sessionState = s.State
	}
	if s.LoginError != "" && s.LoginError != m.loginErr {
		m.addStatus(statusWarn, "Login failed: "+s.LoginError)
	}
	m.loginErr = s.LoginError
	m.identity = s.Identity
}

func (m *Model) applyFeed(s feed.State) {
	if len(s.Items) < len(m.items) {
		m.offset = 0
	}
	m.items = s.Items
	m.loading = s.Loading
	if s.ReachedEnd && !m.ended {
		m.addStatus(statusInfo, "No more runs")
	}
	m.ended = s.ReachedEnd
	if msg := s.ErrorMessage(); msg != "" && msg != m.feedErr {
		m.addStatus(statusWarn, "Feed error: "+msg)
	}
	m.feedErr = s.ErrorMessage()
	m.clampOffset()
}

func (m Model) visibleRows() int {
	// Title, identity, column header and status log take roughly ten lines.
	if m.height > 0 {
		return max(m.height-10-len(m.statusLines), 3)
	}
	return defaultVisibleRows
}

func (m *Model) clampOffset() {
	maxOffset := max(len(m.items)-m.visibleRows(), 0)
	m.offset = min(max(m.offset, 0), maxOffset)
}

func (m Model) nearBottom() bool {
	return m.offset+m.visibleRows() >= len(m.items)-nearBottomRows
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateFeed, stateDone:
		return tea.NewView(m.viewFeed())
	case stateLoggedOut:
		return tea.NewView(m.viewLoggedOut())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown while restoring and authorizing.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Pacefeed · Strava Runs  "))
	b.WriteString("\n\n")

	switch m.state {
	case stateAuthorizing:
		b.WriteString(styleBold.Render("Open this link to authorize:"))
		b.WriteString("\n")
		b.WriteString(styleLinkBox.Render(m.authURL))
		b.WriteString("\n\n")

		b.WriteString(m.spinner.View())
		b.WriteString(" Waiting for authorization...  ")
		if m.remaining > 0 {
			b.WriteString(styleDim.Render(formatDuration(m.remaining) + " remaining"))
		}
		b.WriteString("\n")

	case stateRestoring:
		b.WriteString(m.spinner.View())
		b.WriteString(" Checking stored session...\n")

	default:
		b.WriteString(m.spinner.View())
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewFeed lists the loaded runs from the scroll offset.
func (m Model) viewFeed() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Pacefeed · Strava Runs  "))
	b.WriteString("\n\n")

	if m.identity != nil {
		b.WriteString(styleBold.Render(m.identity.DisplayName))
		if loc := feed.JoinLocation(m.identity.City, m.identity.State, m.identity.Country); loc != "" {
			b.WriteString(styleDim.Render("  " + loc))
		}
		b.WriteString("\n\n")
	}

	if len(m.items) == 0 && !m.loading {
		b.WriteString(styleDim.Render("  No runs yet."))
		b.WriteString("\n")
	}

	end := min(m.offset+m.visibleRows(), len(m.items))
	for _, item := range m.items[m.offset:end] {
		b.WriteString("  " + FormatItem(item) + "\n")
	}

	switch {
	case m.loading:
		b.WriteString(m.spinner.View())
		b.WriteString(" Loading runs...\n")
	case m.ended:
		b.WriteString(styleDim.Render(fmt.Sprintf("  %d runs, end of feed", len(m.items))))
		b.WriteString("\n")
	case m.state == stateDone:
		b.WriteString(styleDim.Render("  ↓ scroll for more · r reload · q quit"))
		b.WriteString("\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewLoggedOut is shown after -logout.
func (m Model) viewLoggedOut() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ Logged out"))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a fatal error occurs.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Something went wrong"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}

// hookCmd runs fn off the update loop.
func hookCmd(fn func()) tea.Cmd {
	return func() tea.Msg {
		fn()
		return nearBottomMsg{}
	}
}

// tickAfterSecond returns a command that fires tickMsg after one second.
func tickAfterSecond() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// formatDuration formats a duration as "Xm Ys" or "Xs".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
