package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"golang.org/x/term"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/pacefeed/config"
	"github.com/go-authgate/pacefeed/feed"
	"github.com/go-authgate/pacefeed/session"
	"github.com/go-authgate/pacefeed/strava"
	"github.com/go-authgate/pacefeed/tokenstore"
	"github.com/go-authgate/pacefeed/tui"
)

var (
	flagClientID     *int
	flagClientSecret *string
	flagTokenStore   *string
	flagTokenFile    *string
	flagPages        *int
	flagLogout       *bool
	flagLogLevel     *string
)

func init() {
	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagClientID = flag.Int("client-id", 0, "Strava client ID (or set STRAVA_CLIENT_ID env)")
	flagClientSecret = flag.String(
		"client-secret",
		"",
		"Strava client secret (or set STRAVA_CLIENT_SECRET env)",
	)
	flagTokenStore = flag.String(
		"token-store",
		"",
		"Token store backend: file or sqlite (default: file or TOKEN_STORE env)",
	)
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Token storage file (default: .pacefeed-tokens.json or TOKEN_FILE env)",
	)
	flagPages = flag.Int("pages", 1, "Number of feed pages to load")
	flagLogout = flag.Bool("logout", false, "Revoke and forget the stored Strava session")
	flagLogLevel = flag.String("log-level", "warn", "Log level: debug, info, warn or error")
}

// loadConfig reads env/.env and applies flag overrides (priority: flag > env > default).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Apply(config.Overrides{
		ClientID:     *flagClientID,
		ClientSecret: *flagClientSecret,
		TokenStore:   *flagTokenStore,
		TokenFile:    *flagTokenFile,
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// newBaseHTTPClient is shared by the token and API clients.
func newBaseHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// openStore returns the configured credential store and its closer.
func openStore(ctx context.Context, cfg *config.Config) (tokenstore.Store, func() error, error) {
	if cfg.TokenStore == config.StoreSQLite {
		store, err := tokenstore.OpenSQLite(ctx, cfg.TokenDB, cfg.Service())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return tokenstore.NewFileStore(cfg.TokenFile, cfg.Service()), func() error { return nil }, nil
}

// app wires the session and the feed loader to one displayer.
type app struct {
	sess    *session.Session
	loader  *feed.Loader
	display tui.Displayer
	closer  func() error
}

func newApp(
	ctx context.Context,
	cfg *config.Config,
	d tui.Displayer,
	logger *slog.Logger,
) (*app, error) {
	store, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}

	base := newBaseHTTPClient()
	// Token calls are never retried; the API GETs are idempotent and go
	// through go-httpretry.
	auth := strava.NewAuthClient(cfg.ClientID, cfg.ClientSecret, cfg.APIURL, cfg.OAuthURL, base)
	retryClient, err := retry.NewBackgroundClient(retry.WithHTTPClient(base))
	if err != nil {
		_ = closer()
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	api := strava.NewAPIClient(cfg.APIURL, retryClient)

	redirect, err := url.Parse(cfg.RedirectURI())
	if err != nil {
		_ = closer()
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}

	sess := session.New(cfg.SessionConfig(), session.Options{
		Auth:     auth,
		API:      api,
		Store:    store,
		Launcher: newLoopbackLauncher(redirect.Host, redirect.Path, d),
		Observer: d,
		Logger:   logger.With("component", "session"),
	})
	loader := feed.New(feed.Options{
		Tokens:   sess,
		API:      api,
		Observer: d,
		Logger:   logger.With("component", "feed"),
	})
	return &app{sess: sess, loader: loader, display: d, closer: closer}, nil
}

// close stops the loader, waits for background revocation and closes the store.
func (a *app) close() {
	a.loader.Close()
	a.sess.Wait()
	if err := a.closer(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close token store: %v\n", err)
	}
}

// isTTY reports whether stderr is an interactive terminal.
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(os.Stderr, "⚠️  WARNING: %s\n", w)
	}
	if !cfg.IsConfigured() && !*flagLogout {
		fmt.Println("Error: Strava is not configured. Please provide credentials via:")
		fmt.Println("  1. Command line flags: -client-id=<id> -client-secret=<secret>")
		fmt.Println("  2. Environment variables: STRAVA_CLIENT_ID and STRAVA_CLIENT_SECRET")
		fmt.Println("  3. .env file with the same variables")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isTTY() {
		os.Exit(runTUI(ctx, cfg))
	}

	d := tui.NewPlainDisplayer(os.Stderr)
	a, err := newApp(ctx, cfg, d, newLogger(os.Stderr, *flagLogLevel))
	if err != nil {
		d.Fatal(err)
		os.Exit(1)
	}
	d.Banner()
	runErr := a.run(ctx, *flagPages, *flagLogout)
	a.close()
	if runErr != nil {
		os.Exit(1)
	}
}

// runTUI drives the app under a BubbleTea program and returns the exit code.
func runTUI(ctx context.Context, cfg *config.Config) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var a *app
	m := tui.NewModel(tui.Hooks{
		NearBottom: func() { a.loader.OnScrollNearBottom(ctx) },
		// Reload errors land in the feed state.
		Reload: func() { _ = a.loader.Reload(ctx) },
	})
	// Keyboard input stays enabled so the feed can be scrolled.
	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	d := tui.NewProgramDisplayer(p)

	// Logs would tear the TUI apart; only errors that end the run are shown.
	var err error
	a, err = newApp(ctx, cfg, d, slog.New(slog.DiscardHandler))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		}
		// Quitting the TUI abandons a login or fetch still in flight.
		cancel()
	}()
	stopQuit := context.AfterFunc(ctx, p.Quit)
	defer stopQuit()

	d.Banner()
	runErr := a.run(ctx, *flagPages, *flagLogout)
	if runErr != nil || *flagLogout {
		p.Quit()
	}
	// Otherwise the feed stays open until the user quits.
	wg.Wait()
	if runErr != nil {
		return 1
	}
	return 0
}

// run restores or logs in, then loads up to pages pages of the feed.
func (a *app) run(ctx context.Context, pages int, logout bool) error {
	d := a.display

	if logout {
		a.sess.Logout(ctx)
		d.LoggedOut()
		return nil
	}

	d.Restoring()
	if !a.sess.Restore(ctx) {
		d.NoStoredSession()
		if err := a.sess.PresentLogin(ctx); err != nil {
			d.Fatal(err)
			return err
		}
		if !a.sess.IsLoggedIn() {
			err := errors.New("login did not complete")
			d.Fatal(err)
			return err
		}
	}

	// Feed errors are recorded in the loader state and shown by the displayer.
	err := a.loader.Reload(ctx)
	for i := 1; err == nil && i < pages && !a.loader.State().ReachedEnd; i++ {
		err = a.loader.LoadNextPage(ctx)
	}
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	d.Done(len(a.loader.State().Items))
	return nil
}
