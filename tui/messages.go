package tui

import (
	"time"

	"github.com/go-authgate/pacefeed/feed"
	"github.com/go-authgate/pacefeed/session"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgRestoring signals that a stored credential is being checked.
type MsgRestoring struct{}

// MsgNoStoredSession signals that no usable credential was found.
type MsgNoStoredSession struct{}

// MsgAuthorizeURL signals that the user must open URL before Expiry.
type MsgAuthorizeURL struct {
	URL    string
	Expiry time.Time
}

// MsgSession carries a session state change.
type MsgSession struct{ Snapshot session.Snapshot }

// MsgFeed carries a feed state change.
type MsgFeed struct{ State feed.State }

// MsgLoggedOut signals that the credential was forgotten.
type MsgLoggedOut struct{}

// MsgDone signals that the requested pages have been loaded.
type MsgDone struct{ Runs int }

// MsgFatal signals a fatal error that should terminate the flow.
type MsgFatal struct{ Err error }

// nearBottomMsg is returned after the scroll handler ran.
type nearBottomMsg struct{}
