package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return &Client{
		baseURL: srv.URL,
		token:   "test-token",
		http:    srv.Client(),
		log:     log,
		perPage: 2,
	}
}

func TestCreateScoreRetriesOnRateLimit(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var bodies [][]byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		if n <= 2 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id": 42}`)
	})

	client := newTestClient(t, handler)
	start := time.Now()
	id, err := client.CreateScore(context.Background(), 7, ScorePayload{Reason: "adjustment", Value: 60})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))

	// two mandatory suspensions of at least the advertised second each
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)

	// the retried requests replay the original payload byte for byte
	require.Len(t, bodies, 3)
	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
	var sent ScorePayload
	require.NoError(t, json.Unmarshal(bodies[2], &sent))
	assert.Equal(t, int64(60), sent.Value)
}

func TestRateLimitWaitHonorsContextCancel(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client := newTestClient(t, handler)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.CoalitionTotal(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServerErrorPropagatesWithoutRetry(t *testing.T) {
	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream broke")
	})

	client := newTestClient(t, handler)
	_, err := client.CoalitionTotal(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream broke")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestEachPageWalksUsingTotalHeader(t *testing.T) {
	// 5 items at per_page=2: pages 1 and 2 full, page 3 short
	items := []int{10, 20, 30, 40, 50}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		lo := (page - 1) * 2
		hi := lo + 2
		if hi > len(items) {
			hi = len(items)
		}
		if lo > len(items) {
			lo = len(items)
		}
		w.Header().Set("X-Total", "5")
		_ = json.NewEncoder(w).Encode(items[lo:hi])
	})

	client := newTestClient(t, handler)
	var pages []int
	var totals []int
	var got []int
	err := client.EachPage(context.Background(), "/locations", nil, func(body []byte, page, totalPages int) error {
		pages = append(pages, page)
		totals = append(totals, totalPages)
		var chunk []int
		require.NoError(t, json.Unmarshal(body, &chunk))
		got = append(got, chunk...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, pages)
	assert.Equal(t, []int{3, 3, 3}, totals)
	assert.Equal(t, items, got)
}

func TestEachPageStopsOnShortPageWithoutTotal(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1:
			fmt.Fprint(w, `[1, 2]`)
		case 2:
			fmt.Fprint(w, `[3]`)
		default:
			t.Errorf("page %d should never be requested", page)
			fmt.Fprint(w, `[]`)
		}
	})

	client := newTestClient(t, handler)
	var pages []int
	err := client.EachPage(context.Background(), "/locations", nil, func(body []byte, page, totalPages int) error {
		pages = append(pages, page)
		assert.Zero(t, totalPages)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pages)
}

func TestEachPageEmptyFirstPage(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	client := newTestClient(t, handler)
	called := false
	err := client.EachPage(context.Background(), "/locations", nil, func([]byte, int, int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestCoalitionsUserIDFiltersMemberships(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/9/coalitions_users", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("filter[coalition_id]"))
		fmt.Fprint(w, `[{"id": 71, "coalition_id": 2}, {"id": 72, "coalition_id": 3}]`)
	})

	client := newTestClient(t, handler)
	id, err := client.CoalitionsUserID(context.Background(), 9, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(72), id)
}

func TestCoalitionsUserIDNoMembership(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	client := newTestClient(t, handler)
	_, err := client.CoalitionsUserID(context.Background(), 9, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no membership")
}

func TestFetchUserDecodesCoalition(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/5", r.URL.Path)
		fmt.Fprint(w, `{"id": 5, "login": "alice", "staff?": false, "coalition": {"id": 3, "name": "Vela", "slug": "vela"}}`)
	})

	client := newTestClient(t, handler)
	info, err := client.FetchUser(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Login)
	assert.False(t, info.Staff)
	require.NotNil(t, info.Coalition)
	assert.Equal(t, int64(3), info.Coalition.ID)
	assert.Equal(t, "vela", info.Coalition.Slug)
}
