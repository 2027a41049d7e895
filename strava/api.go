package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-authgate/pacefeed/tokenstore"
)

const apiRequestTimeout = 15 * time.Second

// Doer executes an HTTP request; *retry.Client from go-httpretry satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// APIClient reads athlete resources with a bearer token. Every call is a GET,
// so transient failures are retried by the underlying Doer.
type APIClient struct {
	baseURL string
	client  Doer
}

// NewAPIClient returns a client rooted at baseURL (e.g. https://www.strava.com/api/v3).
func NewAPIClient(baseURL string, client Doer) *APIClient {
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// GetCurrentAthlete fetches the authenticated athlete.
func (c *APIClient) GetCurrentAthlete(ctx context.Context, accessToken string) (*Athlete, error) {
	var athlete Athlete
	if err := c.get(ctx, accessToken, "/athlete", nil, &athlete); err != nil {
		return nil, err
	}
	return &athlete, nil
}

// ListActivities returns one page of the athlete's activities, newest first.
// page is 1-based; perPage <= 0 means DefaultPerPage. An empty slice means
// there is nothing past this page.
func (c *APIClient) ListActivities(
	ctx context.Context,
	accessToken string,
	page, perPage int,
) ([]ActivitySummary, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1, got %d", page)
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))

	var activities []ActivitySummary
	if err := c.get(ctx, accessToken, "/athlete/activities", query, &activities); err != nil {
		return nil, err
	}
	if activities == nil {
		activities = []ActivitySummary{}
	}
	return activities, nil
}

func (c *APIClient) get(
	ctx context.Context,
	accessToken, path string,
	query url.Values,
	out any,
) error {
	reqCtx, cancel := context.WithTimeout(ctx, apiRequestTimeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	tokenstore.Credential{AccessToken: accessToken}.Token().SetAuthHeader(req)

	resp, err := c.client.DoWithContext(reqCtx, req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if !isSuccess(resp.StatusCode) {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	return nil
}
