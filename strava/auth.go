package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Timeout configuration for token endpoint calls
const (
	tokenExchangeTimeout = 10 * time.Second
	refreshTokenTimeout  = 10 * time.Second
	deauthorizeTimeout   = 5 * time.Second
)

// AuthClient performs the OAuth token calls. Requests are sent exactly once:
// an authorization code is single-use, so retrying an exchange is never safe.
type AuthClient struct {
	clientID       int
	clientSecret   string
	tokenURL       string
	deauthorizeURL string
	httpClient     *http.Client
}

// NewAuthClient builds a client. apiBaseURL hosts /oauth/token (e.g.
// https://www.strava.com/api/v3); oauthBaseURL hosts /oauth/deauthorize.
func NewAuthClient(
	clientID int,
	clientSecret string,
	apiBaseURL, oauthBaseURL string,
	httpClient *http.Client,
) *AuthClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AuthClient{
		clientID:       clientID,
		clientSecret:   clientSecret,
		tokenURL:       strings.TrimRight(apiBaseURL, "/") + "/oauth/token",
		deauthorizeURL: strings.TrimRight(oauthBaseURL, "/") + "/oauth/deauthorize",
		httpClient:     httpClient,
	}
}

// Exchange trades an authorization code for tokens. The response usually
// embeds the athlete.
func (c *AuthClient) Exchange(ctx context.Context, code string) (*TokenResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tokenExchangeTimeout)
	defer cancel()

	form := c.baseForm()
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")

	status, body, err := c.postForm(reqCtx, form)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	if !isSuccess(status) {
		return nil, &ExchangeError{StatusCode: status, Message: errorMessage(status, body)}
	}

	tok, err := decodeTokenResponse(body)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Refresh obtains a new access token. A response without refresh_token keeps
// the one that was sent.
func (c *AuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, refreshTokenTimeout)
	defer cancel()

	form := c.baseForm()
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	status, body, err := c.postForm(reqCtx, form)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	if !isSuccess(status) {
		return nil, &RefreshError{StatusCode: status, Message: errorMessage(status, body)}
	}

	tok, err := decodeTokenResponse(body)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// Deauthorize revokes the access token. Callers on the logout path ignore the error.
func (c *AuthClient) Deauthorize(ctx context.Context, accessToken string) error {
	reqCtx, cancel := context.WithTimeout(ctx, deauthorizeTimeout)
	defer cancel()

	u, err := url.Parse(c.deauthorizeURL)
	if err != nil {
		return fmt.Errorf("invalid deauthorize URL: %w", err)
	}
	q := u.Query()
	q.Set("access_token", accessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create deauthorize request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deauthorize request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if !isSuccess(resp.StatusCode) {
		return fmt.Errorf("deauthorize failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *AuthClient) baseForm() url.Values {
	form := url.Values{}
	form.Set("client_id", strconv.Itoa(c.clientID))
	form.Set("client_secret", c.clientSecret)
	return form
}

func (c *AuthClient) postForm(ctx context.Context, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.tokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeTokenResponse(body []byte) (*TokenResponse, error) {
	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if err := validateTokenResponse(&tok); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	return &tok, nil
}

// validateTokenResponse validates the OAuth token response
func validateTokenResponse(tok *TokenResponse) error {
	if tok.AccessToken == "" {
		return errors.New("access_token is empty")
	}
	if tok.ExpiresAt <= 0 {
		return fmt.Errorf("expires_at must be positive, got: %d", tok.ExpiresAt)
	}
	return nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func errorMessage(status int, body []byte) string {
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "Unknown error"
}
