package api

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/feedguard/pkg/config"
	"github.com/StrathCole/feedguard/pkg/feeds/static"
	"github.com/StrathCole/feedguard/pkg/feedset"
	"github.com/StrathCole/feedguard/pkg/journal"
	"github.com/StrathCole/feedguard/pkg/policy"
)

const testToken = "test-token"

func staticConfig(id, answer string, age time.Duration) config.SourceConfig {
	return config.SourceConfig{
		Type: "static",
		Config: map[string]interface{}{
			"id":          id,
			"answer":      answer,
			"age":         age.String(),
			"decimals":    8,
			"description": "ETH / USD",
		},
	}
}

func newTestSet(t *testing.T) *feedset.Set {
	t.Helper()

	fresh := staticConfig("fresh-fallback", "201000000000", time.Minute)
	stale := staticConfig("stale-fallback", "199000000000", time.Minute)
	set, err := feedset.Build(context.Background(), []config.FeedConfig{
		{Name: "fresh", Heartbeat: 3600, MaxDeviationBps: 500, Primary: staticConfig("fresh-primary", "200000000000", time.Minute), Fallback: &fresh},
		{Name: "stale", Heartbeat: 3600, MaxDeviationBps: 500, Primary: staticConfig("stale-primary", "200000000000", 2*time.Hour), Fallback: &stale},
		{Name: "dead", Heartbeat: 3600, MaxDeviationBps: 500, Primary: staticConfig("dead-primary", "-1", time.Minute)},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = set.Close() })
	return set
}

func newTestServer(t *testing.T, set *feedset.Set) (*Server, *httptest.Server) {
	t.Helper()

	s := NewServer(":0", set, nil)
	s.SetAdminToken(testToken)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func do(t *testing.T, method, url, token, body string) (int, []byte) {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, newTestSet(t))

	status, body := do(t, http.MethodGet, ts.URL+"/health", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", string(body))
}

func TestFeeds(t *testing.T) {
	_, ts := newTestServer(t, newTestSet(t))

	status, body := do(t, http.MethodGet, ts.URL+"/v1/feeds", "", "")
	require.Equal(t, http.StatusOK, status)
	infos := decode[[]feedset.Info](t, body)
	require.Len(t, infos, 3)
	assert.Equal(t, "dead", infos[0].Name)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/fresh", "", "")
	require.Equal(t, http.StatusOK, status)
	info := decode[feedset.Info](t, body)
	assert.Equal(t, "fresh-fallback", info.Fallback)
	assert.Equal(t, uint64(3600), info.Params.HeartbeatSeconds)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/nope", "", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "unknown_feed", decode[errorResponse](t, body).Reason)
}

func TestLatest(t *testing.T) {
	_, ts := newTestServer(t, newTestSet(t))

	tests := []struct {
		feed         string
		wantStatus   int
		wantPrice    string
		wantDecimal  string
		wantFallback bool
		wantReason   string
	}{
		{feed: "fresh", wantStatus: http.StatusOK, wantPrice: "200000000000", wantDecimal: "2000.00000000"},
		{feed: "stale", wantStatus: http.StatusOK, wantPrice: "199000000000", wantDecimal: "1990.00000000", wantFallback: true},
		{feed: "dead", wantStatus: http.StatusServiceUnavailable, wantReason: "no_valid_price"},
	}

	for _, tt := range tests {
		t.Run(tt.feed, func(t *testing.T) {
			status, body := do(t, http.MethodGet, ts.URL+"/v1/feeds/"+tt.feed+"/latest", "", "")
			require.Equal(t, tt.wantStatus, status, string(body))

			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, decode[errorResponse](t, body).Reason)
				return
			}
			resp := decode[PriceResponse](t, body)
			assert.Equal(t, tt.wantPrice, resp.Price)
			assert.Equal(t, tt.wantDecimal, resp.DecimalPrice)
			assert.Equal(t, tt.wantFallback, resp.UsedFallback)
			require.NotNil(t, resp.Decimals)
			assert.Equal(t, uint8(8), *resp.Decimals)
		})
	}
}

func TestStrict(t *testing.T) {
	_, ts := newTestServer(t, newTestSet(t))

	status, body := do(t, http.MethodGet, ts.URL+"/v1/feeds/fresh/strict", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "200000000000", decode[PriceResponse](t, body).Price)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/stale/strict", "", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "stale_price", decode[errorResponse](t, body).Reason)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/dead/strict", "", "")
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_price", decode[errorResponse](t, body).Reason)
}

func TestInspection(t *testing.T) {
	_, ts := newTestServer(t, newTestSet(t))

	status, body := do(t, http.MethodGet, ts.URL+"/v1/feeds/stale/observations", "", "")
	require.Equal(t, http.StatusOK, status)
	obs := decode[ObservationsResponse](t, body)
	assert.Equal(t, "0", obs.Primary.Value)
	assert.False(t, obs.Primary.Valid)
	assert.True(t, obs.Fallback.Valid)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/fresh/deviation", "", "")
	require.Equal(t, http.StatusOK, status)
	dev := decode[DeviationResponse](t, body)
	assert.True(t, dev.WithinThreshold)
	require.NotNil(t, dev.DeviationBps)
	assert.Equal(t, uint64(49), *dev.DeviationBps)
	assert.Equal(t, uint64(500), dev.MaxDeviationBps)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/stale/deviation", "", "")
	require.Equal(t, http.StatusOK, status)
	dev = decode[DeviationResponse](t, body)
	assert.False(t, dev.WithinThreshold)
	assert.Nil(t, dev.DeviationBps)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/dead/staleness", "", "")
	require.Equal(t, http.StatusOK, status)
	st := decode[StalenessResponse](t, body)
	assert.False(t, st.PrimaryStale)
	assert.True(t, st.FallbackStale)

	status, body = do(t, http.MethodGet, ts.URL+"/v1/feeds/fresh/metadata", "", "")
	require.Equal(t, http.StatusOK, status)
	md := decode[MetadataResponse](t, body)
	assert.Equal(t, uint8(8), md.Decimals)
	assert.Equal(t, "ETH / USD", md.Description)
}

func TestAdminAuth(t *testing.T) {
	_, ts := newTestServer(t, newTestSet(t))
	url := ts.URL + "/v1/admin/feeds/fresh/heartbeat"

	status, _ := do(t, http.MethodPut, url, "", `{"value": 600}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, http.MethodPut, url, "wrong", `{"value": 600}`)
	assert.Equal(t, http.StatusUnauthorized, status)

	disabled := NewServer(":0", newTestSet(t), nil)
	ts2 := httptest.NewServer(disabled.Handler())
	defer ts2.Close()
	status, body := do(t, http.MethodPut, ts2.URL+"/v1/admin/feeds/fresh/heartbeat", testToken, `{"value": 600}`)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "admin_disabled", decode[errorResponse](t, body).Reason)
}

func TestAdminParams(t *testing.T) {
	set := newTestSet(t)
	_, ts := newTestServer(t, set)
	base := ts.URL + "/v1/admin/feeds/fresh/"

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantReason string
	}{
		{name: "heartbeat", path: "heartbeat", body: `{"value": 600}`, wantStatus: http.StatusOK},
		{name: "heartbeat low", path: "heartbeat", body: `{"value": 59}`, wantStatus: http.StatusBadRequest, wantReason: "invalid_heartbeat"},
		{name: "heartbeat high", path: "heartbeat", body: `{"value": 86401}`, wantStatus: http.StatusBadRequest, wantReason: "invalid_heartbeat"},
		{name: "threshold", path: "threshold", body: `{"value": 0}`, wantStatus: http.StatusOK},
		{name: "threshold high", path: "threshold", body: `{"value": 5001}`, wantStatus: http.StatusBadRequest, wantReason: "invalid_threshold"},
		{name: "missing value", path: "threshold", body: `{}`, wantStatus: http.StatusBadRequest, wantReason: "invalid_body"},
		{name: "negative", path: "threshold", body: `{"value": -1}`, wantStatus: http.StatusBadRequest, wantReason: "invalid_body"},
		{name: "unknown field", path: "heartbeat", body: `{"value": 60, "x": 1}`, wantStatus: http.StatusBadRequest, wantReason: "invalid_body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := do(t, http.MethodPut, base+tt.path, testToken, tt.body)
			require.Equal(t, tt.wantStatus, status, string(body))
			if tt.wantReason != "" {
				assert.Equal(t, tt.wantReason, decode[errorResponse](t, body).Reason)
			}
		})
	}

	info, err := set.Info("fresh")
	require.NoError(t, err)
	assert.Equal(t, policy.Params{HeartbeatSeconds: 600, MaxDeviationBps: 0}, info.Params)

	status, _ := do(t, http.MethodPut, ts.URL+"/v1/admin/feeds/nope/heartbeat", testToken, `{"value": 600}`)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAdminSources(t *testing.T) {
	set := newTestSet(t)
	s, ts := newTestServer(t, set)

	j, err := journal.NewSQLite(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	set.Subscribe(j)
	s.SetChangeLog(j)

	body := `{"type": "static", "config": {"id": "pinned", "answer": "210000000000", "decimals": 8}}`
	status, data := do(t, http.MethodPut, ts.URL+"/v1/admin/feeds/stale/primary", testToken, body)
	require.Equal(t, http.StatusOK, status, string(data))
	change := decode[policy.Change](t, data)
	assert.Equal(t, "stale-primary", change.Old)
	assert.Equal(t, "pinned", change.New)

	status, data = do(t, http.MethodGet, ts.URL+"/v1/feeds/stale/latest", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[PriceResponse](t, data).UsedFallback)

	status, data = do(t, http.MethodPut, ts.URL+"/v1/admin/feeds/stale/primary", testToken, `{"type": "carrier-pigeon"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_source", decode[errorResponse](t, data).Reason)

	status, data = do(t, http.MethodPut, ts.URL+"/v1/admin/feeds/stale/primary", testToken, `{"type": "static", "config": {}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_source", decode[errorResponse](t, data).Reason)

	status, _ = do(t, http.MethodPut, ts.URL+"/v1/admin/feeds/stale/primary", testToken, `{"config": {}}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, data = do(t, http.MethodDelete, ts.URL+"/v1/admin/feeds/stale/fallback", testToken, "")
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[policy.Change](t, data).New)

	status, _ = do(t, http.MethodPut, ts.URL+"/v1/admin/feeds/stale/fallback", testToken,
		`{"type": "static", "config": {"id": "fb2", "answer": "1"}}`)
	require.Equal(t, http.StatusOK, status)

	status, data = do(t, http.MethodGet, ts.URL+"/v1/admin/changes?feed=stale&limit=2", testToken, "")
	require.Equal(t, http.StatusOK, status)
	entries := decode[[]journal.Entry](t, data)
	require.Len(t, entries, 2)
	assert.Equal(t, "fb2", entries[0].New)
	assert.Equal(t, "stale-fallback", entries[1].Old)

	status, _ = do(t, http.MethodGet, ts.URL+"/v1/admin/changes?limit=zero", testToken, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestChanges_JournalDisabled(t *testing.T) {
	_, ts := newTestServer(t, newTestSet(t))

	status, body := do(t, http.MethodGet, ts.URL+"/v1/admin/changes", testToken, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "journal_disabled", decode[errorResponse](t, body).Reason)
}

func TestRateLimit(t *testing.T) {
	s := NewServer(":0", newTestSet(t), nil)
	s.SetRateLimiter(NewRateLimiter(0.001, 2, nil))
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for i := 0; i < 2; i++ {
		status, _ := do(t, http.MethodGet, ts.URL+"/health", "", "")
		require.Equal(t, http.StatusOK, status)
	}
	status, body := do(t, http.MethodGet, ts.URL+"/health", "", "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limited", decode[errorResponse](t, body).Reason)
}

func TestPriceResponse_ZeroDecimals(t *testing.T) {
	set := feedset.New(nil)
	require.NoError(t, set.AddFeeds("plain", static.New("plain", big.NewInt(42), 0, ""), nil,
		policy.Params{HeartbeatSeconds: 60}))
	_, ts := newTestServer(t, set)

	status, body := do(t, http.MethodGet, ts.URL+"/v1/feeds/plain/latest", "", "")
	require.Equal(t, http.StatusOK, status)
	resp := decode[PriceResponse](t, body)
	assert.Equal(t, "42", resp.Price)
	assert.Equal(t, "42", resp.DecimalPrice)
}
