package converto

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPISecret = "test-secret"

func newTestAPI(t testing.TB) (*API, *Converto) {
	t.Helper()

	bot, _ := newTestBot(t, &stubDispatcher{answer: "ok"})
	bot.config.API.Enabled = true
	bot.config.API.Secret = testAPISecret

	return newAPI(bot, bot.config.API), bot
}

func apiRequest(
	t testing.TB,
	api *API,
	method string,
	path string,
	secret string,
) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	w := httptest.NewRecorder()
	api.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestAPIHealthNoAuthRequired(t *testing.T) {
	api, _ := newTestAPI(t)

	w := apiRequest(t, api, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["paused"])
}

func TestAPIRequiresSecret(t *testing.T) {
	api, _ := newTestAPI(t)

	w := apiRequest(t, api, http.MethodGet, "/api/queries", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, api, http.MethodGet, "/api/queries", "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, api, http.MethodGet, "/api/queries", testAPISecret)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIQueries(t *testing.T) {
	api, bot := newTestAPI(t)

	require.NoError(
		t, bot.db.Create(
			context.Background(), &QueryRecord{
				UserID:   "user-1",
				Question: "what is CRO?",
				Answer:   "the answer",
				Source:   QuerySourceDedicatedChannel,
				State:    QueryStateCompleted,
			},
		),
	)

	w := apiRequest(t, api, http.MethodGet, "/api/queries", testAPISecret)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Queries []QueryRecord `json:"queries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Queries, 1)
	assert.Equal(t, "what is CRO?", body.Queries[0].Question)
}

func TestAPIQueriesInvalidLimit(t *testing.T) {
	api, _ := newTestAPI(t)

	w := apiRequest(
		t,
		api,
		http.MethodGet,
		"/api/queries?limit=bogus",
		testAPISecret,
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(t, api, http.MethodGet, "/api/queries?limit=-1", testAPISecret)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIPauseResume(t *testing.T) {
	api, bot := newTestAPI(t)

	w := apiRequest(t, api, http.MethodPost, "/api/pause", testAPISecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bot.paused.Load())

	// pausing twice is reported, not an error
	w = apiRequest(t, api, http.MethodPost, "/api/pause", testAPISecret)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["changed"])

	w = apiRequest(t, api, http.MethodPost, "/api/resume", testAPISecret)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, bot.paused.Load())
}

func TestBearerToken(t *testing.T) {
	token, ok := bearerToken("Bearer abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123", token)

	_, ok = bearerToken("")
	assert.False(t, ok)

	_, ok = bearerToken("Basic abc123")
	assert.False(t, ok)

	_, ok = bearerToken("Bearer ")
	assert.False(t, ok)
}
