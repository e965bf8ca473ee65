// platform/client.go
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"coalition-score-engine/config"

	"github.com/sirupsen/logrus"
)

const (
	defaultPerPage = 100
	maxErrorBody   = 1024
)

// API is the subset of the platform surface the engine consumes. *Client is
// the production implementation; tests point it at an httptest server.
type API interface {
	CreateScore(ctx context.Context, coalitionID int64, payload ScorePayload) (int64, error)
	DeleteScore(ctx context.Context, coalitionID, scoreID int64) error
	CoalitionTotal(ctx context.Context, coalitionID int64) (int64, error)
	CoalitionsUserID(ctx context.Context, userID, coalitionID int64) (int64, error)
	FetchUser(ctx context.Context, userID int64) (*UserInfo, error)
}

// ScorePayload is the platform's score creation body. The platform offers no
// PATCH for scores; updates are delete+recreate.
type ScorePayload struct {
	Reason           string  `json:"reason"`
	Value            int64   `json:"value"`
	CoalitionsUserID *int64  `json:"coalitions_user_id"`
	ScoreableType    *string `json:"scoreable_type"`
	ScoreableID      *int64  `json:"scoreable_id"`
}

// UserInfo is the platform's view of a user plus their coalition membership.
type UserInfo struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Staff     bool   `json:"staff?"`
	Coalition *struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"coalition,omitempty"`
}

// Client talks to the campus platform API. Every request treats HTTP 429 as
// a mandatory suspension point: the server-provided Retry-After is honored
// (plus small jitter) and the same request is retried, so callers never see
// a rate-limit error.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logrus.Logger
	perPage int
}

func New(cfg *config.Config, logger *logrus.Logger) *Client {
	return &Client{
		baseURL: cfg.PlatformBaseURL,
		token:   cfg.PlatformToken,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger,
		perPage: defaultPerPage,
	}
}

// request performs one call, looping on 429. The body is kept as bytes so the
// retried request replays the original payload.
func (c *Client) request(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, http.Header, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid platform base URL %q: %w", c.baseURL, err)
	}
	endpoint := base.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}
	finalURL := endpoint.String()

	for {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, finalURL, reader)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("platform request to %s failed: %w", finalURL, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfter(resp.Header)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			c.log.Warnf("⏳ Platform rate limited %s %s, retrying in %s", method, path, wait)
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, nil, fmt.Errorf("reading platform response from %s: %w", finalURL, readErr)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet := data
			if len(snippet) > maxErrorBody {
				snippet = snippet[:maxErrorBody]
			}
			return nil, nil, fmt.Errorf("platform returned %d for %s %s: %s", resp.StatusCode, method, path, snippet)
		}
		return data, resp.Header, nil
	}
}

// retryAfter parses the Retry-After header (seconds) and adds jitter so a
// burst of suspended callers does not thunder back in lockstep.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		secs = 1
	}
	jitter := time.Duration(rand.Intn(500)) * time.Millisecond
	return time.Duration(secs)*time.Second + jitter
}

// Get fetches a single resource.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	data, _, err := c.request(ctx, http.MethodGet, path, query, nil)
	return data, err
}

// EachPage walks a paginated list endpoint, calling fn once per page with the
// raw page body, the page number, and the total page count derived from the
// X-Total header (0 when the platform does not report one). A page failure
// other than rate limiting aborts the walk and propagates.
func (c *Client) EachPage(ctx context.Context, path string, query url.Values, fn func(body []byte, page, totalPages int) error) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(c.perPage))

	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		data, headers, err := c.request(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return fmt.Errorf("fetching page %d of %s: %w", page, path, err)
		}

		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("decoding page %d of %s: %w", page, path, err)
		}
		if len(items) == 0 {
			return nil
		}

		totalPages := 0
		if total, err := strconv.Atoi(headers.Get("X-Total")); err == nil && total > 0 {
			totalPages = (total + c.perPage - 1) / c.perPage
		}

		if err := fn(data, page, totalPages); err != nil {
			return err
		}
		if totalPages > 0 && page >= totalPages {
			return nil
		}
		if len(items) < c.perPage {
			return nil
		}
	}
}

// CreateScore posts one score under a coalition and returns its platform id.
func (c *Client) CreateScore(ctx context.Context, coalitionID int64, payload ScorePayload) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding score payload: %w", err)
	}
	data, _, err := c.request(ctx, http.MethodPost, fmt.Sprintf("/coalitions/%d/scores", coalitionID), nil, body)
	if err != nil {
		return 0, err
	}
	var created struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return 0, fmt.Errorf("decoding created score: %w", err)
	}
	return created.ID, nil
}

// DeleteScore removes a platform score.
func (c *Client) DeleteScore(ctx context.Context, coalitionID, scoreID int64) error {
	_, _, err := c.request(ctx, http.MethodDelete, fmt.Sprintf("/coalitions/%d/scores/%d", coalitionID, scoreID), nil, nil)
	return err
}

// CoalitionTotal returns the platform's reported score for a coalition.
func (c *Client) CoalitionTotal(ctx context.Context, coalitionID int64) (int64, error) {
	data, _, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/coalitions/%d", coalitionID), nil, nil)
	if err != nil {
		return 0, err
	}
	var coalition struct {
		Score int64 `json:"score"`
	}
	if err := json.Unmarshal(data, &coalition); err != nil {
		return 0, fmt.Errorf("decoding coalition %d: %w", coalitionID, err)
	}
	return coalition.Score, nil
}

// CoalitionsUserID resolves the membership id linking a user to a coalition,
// which the score creation payload references instead of the bare user id.
func (c *Client) CoalitionsUserID(ctx context.Context, userID, coalitionID int64) (int64, error) {
	query := url.Values{}
	query.Set("filter[coalition_id]", strconv.FormatInt(coalitionID, 10))
	data, _, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/users/%d/coalitions_users", userID), query, nil)
	if err != nil {
		return 0, err
	}
	var memberships []struct {
		ID          int64 `json:"id"`
		CoalitionID int64 `json:"coalition_id"`
	}
	if err := json.Unmarshal(data, &memberships); err != nil {
		return 0, fmt.Errorf("decoding coalitions_users for user %d: %w", userID, err)
	}
	for _, m := range memberships {
		if m.CoalitionID == coalitionID {
			return m.ID, nil
		}
	}
	return 0, fmt.Errorf("user %d has no membership in coalition %d", userID, coalitionID)
}

// FetchUser loads one user with their coalition membership.
func (c *Client) FetchUser(ctx context.Context, userID int64) (*UserInfo, error) {
	data, _, err := c.request(ctx, http.MethodGet, fmt.Sprintf("/users/%d", userID), nil, nil)
	if err != nil {
		return nil, err
	}
	var info UserInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding user %d: %w", userID, err)
	}
	return &info, nil
}
