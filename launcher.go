package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-authgate/pacefeed/tui"
)

// authorizationTimeout bounds how long Browse waits for the redirect.
const authorizationTimeout = 5 * time.Minute

const callbackPage = `<!doctype html>
<html><body style="font-family:sans-serif;text-align:center;margin-top:4em">
<h2>Pacefeed</h2><p>You can close this window and return to the terminal.</p>
</body></html>`

// loopbackLauncher completes the authorization code flow in the user's
// browser. It shows the authorize link and listens on the redirect host for
// the provider's redirect.
type loopbackLauncher struct {
	addr    string
	path    string
	timeout time.Duration
	display tui.Displayer
}

func newLoopbackLauncher(addr, path string, d tui.Displayer) *loopbackLauncher {
	if path == "" {
		path = "/"
	}
	return &loopbackLauncher{
		addr:    addr,
		path:    path,
		timeout: authorizationTimeout,
		display: d,
	}
}

// OpenApp always declines; a terminal has no provider app to hand off to.
func (l *loopbackLauncher) OpenApp(context.Context, string) bool {
	return false
}

func (l *loopbackLauncher) Browse(ctx context.Context, authURL, callbackScheme string) (string, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen for the authorization redirect: %w", err)
	}
	return l.serve(ctx, ln, authURL, callbackScheme)
}

// serve waits on ln for one redirect carrying a code or an error and returns
// it rebuilt as an absolute URL with callbackScheme.
func (l *loopbackLauncher) serve(
	ctx context.Context,
	ln net.Listener,
	authURL, callbackScheme string,
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	result := make(chan string, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// Browsers also ask for /favicon.ico and the like.
		if !q.Has("code") && !q.Has("error") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, callbackPage)
		select {
		case result <- callbackScheme + "://" + r.Host + r.URL.RequestURI():
		default:
		}
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
		}
	}()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
	}()

	deadline, _ := ctx.Deadline()
	l.display.AuthorizeURL(authURL, deadline)

	select {
	case callback := <-result:
		return callback, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errors.New("timed out waiting for authorization")
		}
		return "", ctx.Err()
	}
}
