package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwquant/trendscan/internal/scancache"
	"github.com/mwquant/trendscan/internal/types"
)

func newTestServer(t *testing.T) (*Server, *scancache.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := scancache.NewStore(dir, dir, zerolog.Nop())
	require.NoError(t, err)
	srv := NewServer(store, nil, nil, NewJWTManager(), zerolog.Nop())
	return srv, store
}

func authHeader(t *testing.T, srv *Server) string {
	t.Helper()
	token, err := srv.jwt.GenerateToken("tester", 1)
	require.NoError(t, err)
	return "Bearer " + token
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestTokenIssueAndUse(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.SaveDailyResults(scancache.ScanSignalAnalysis, "20260828", []*types.SignalResult{
		{Symbol: "600519.SS", Name: "贵州茅台", Signal: types.SignalBuy, SignalType: types.TypeBuy},
	}))

	body := bytes.NewBufferString(`{"user_id":"tester"}`)
	rec := doRequest(srv, httptest.NewRequest("POST", "/api/auth/token", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.Token)

	req := httptest.NewRequest("GET", "/api/results", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Data.Token)
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "600519.SS")
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest("GET", "/api/results", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/api/results", nil)
	req.Header.Set("Authorization", "Token abc")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/results", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestResultsDefaultsToLatestDate(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.SaveDailyResults(scancache.ScanSignalAnalysis, "20260820", []*types.SignalResult{
		{Symbol: "000001.SZ", Signal: types.SignalHold, SignalType: types.TypeHold},
	}))
	require.NoError(t, store.SaveDailyResults(scancache.ScanSignalAnalysis, "20260828", []*types.SignalResult{
		{Symbol: "600519.SS", Signal: types.SignalBuy, SignalType: types.TypeBuy},
	}))

	req := httptest.NewRequest("GET", "/api/results", nil)
	req.Header.Set("Authorization", authHeader(t, srv))
	rec := doRequest(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "20260828")
	assert.NotContains(t, rec.Body.String(), "000001.SZ")
}

func TestResultsMissingDateIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/results?date=20200101", nil)
	req.Header.Set("Authorization", authHeader(t, srv))
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDatesEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.SaveDailyResults(scancache.ScanTrendStart, "20260827", []*types.SignalResult{
		{Symbol: "600519.SS", Signal: types.SignalTrendStart, SignalType: types.TypeBuy},
	}))

	req := httptest.NewRequest("GET", "/api/dates?scan_type=trend_start", nil)
	req.Header.Set("Authorization", authHeader(t, srv))
	rec := doRequest(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "20260827")
}

func TestMarketServedFromCache(t *testing.T) {
	srv, store := newTestServer(t)
	env := &types.MarketEnvironment{
		MarketStatus:   types.MarketPositive,
		SentimentScore: 72.5,
		Recommendation: types.RecommendActCautiously,
		Timestamp:      time.Now().Format("2006-01-02 15:04:05"),
	}
	require.NoError(t, store.SaveMarketEnvironment(env))

	req := httptest.NewRequest("GET", "/api/market", nil)
	req.Header.Set("Authorization", authHeader(t, srv))
	rec := doRequest(srv, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "positive")
}

func TestMarketUnavailableWithoutService(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/market", nil)
	req.Header.Set("Authorization", authHeader(t, srv))
	rec := doRequest(srv, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVerifyRoutesUnavailableWithoutVerifier(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/verify/forward?date=20260828", nil)
	req.Header.Set("Authorization", authHeader(t, srv))
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
