package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimem/unimem/pkg/agent"
	"github.com/unimem/unimem/pkg/embedding/mock"
	"github.com/unimem/unimem/pkg/memory"
	"github.com/unimem/unimem/pkg/memory/memorytest"
)

const testAPIKey = "test-api-key"

type testEnv struct {
	server   *Server
	handler  http.Handler
	service  *memory.Service
	embedder *mock.Provider
}

func newTestEnv(t *testing.T, chatAgent ChatAgent) *testEnv {
	t.Helper()

	embedder := mock.New(3)
	svc, err := memory.NewService(memory.Config{
		Metadata: memorytest.NewMetadataStore(),
		Vectors:  memorytest.NewVectorStore(),
		Embedder: embedder,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Host:    "127.0.0.1",
		Port:    8080,
		APIKey:  testAPIKey,
		Service: svc,
		Agent:   chatAgent,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)

	return &testEnv{
		server:   srv,
		handler:  srv.Handler(),
		service:  svc,
		embedder: embedder,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", testAPIKey)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/stats?tenant_id=tenant-a", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthzNoAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var health memory.Health
	decodeInto(t, rec, &health)
	assert.Equal(t, "healthy", health.Status)
}

func TestCreateGetDeleteMemory(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/memories", createMemoryRequest{
		TenantID: "tenant-a",
		Content:  "the capital of France is Paris",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	decodeInto(t, rec, &created)
	id := created["id"]
	require.NotEmpty(t, id)

	// owner reads it back
	rec = env.do(t, http.MethodGet, "/api/memories/"+id+"?tenant_id=tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got memory.Record
	decodeInto(t, rec, &got)
	assert.Equal(t, "the capital of France is Paris", got.Content)

	// foreign tenant sees not found
	rec = env.do(t, http.MethodGet, "/api/memories/"+id+"?tenant_id=tenant-b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// delete
	rec = env.do(t, http.MethodDelete, "/api/memories/"+id+"?tenant_id=tenant-a", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// second delete reports not found
	rec = env.do(t, http.MethodDelete, "/api/memories/"+id+"?tenant_id=tenant-a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateMemoryValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/memories", createMemoryRequest{
		Content: "no tenant",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, nil)

	env.embedder.Stub("paris fact", []float32{1, 0, 0})
	env.embedder.Stub("unrelated fact", []float32{0, 1, 0})
	env.embedder.Stub("capital?", []float32{1, 0, 0})

	for _, content := range []string{"paris fact", "unrelated fact"} {
		rec := env.do(t, http.MethodPost, "/api/memories", createMemoryRequest{
			TenantID: "tenant-a",
			Content:  content,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/search", searchRequest{
		TenantID:  "tenant-a",
		Query:     "capital?",
		Threshold: 0.9,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []memory.SearchResult `json:"results"`
		Count   int                   `json:"count"`
	}
	decodeInto(t, rec, &resp)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "paris fact", resp.Results[0].Record.Content)
	assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-9)
}

func TestSearchCrossTenantEmpty(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/memories", createMemoryRequest{
		TenantID: "tenant-a",
		Content:  "tenant a data",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/search", searchRequest{
		TenantID: "tenant-b",
		Query:    "tenant a data",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	decodeInto(t, rec, &resp)
	assert.Equal(t, 0, resp.Count)
}

func TestIngestAndListByDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/memories/ingest", ingestRequest{
		TenantID: "tenant-a",
		Content:  "short document",
		Source:   "notes.txt",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var result memory.IngestResult
	decodeInto(t, rec, &result)
	require.NotEmpty(t, result.DocumentID)
	assert.Equal(t, 1, result.Chunks)

	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/memories?tenant_id=tenant-a&document_id=%s", result.DocumentID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listResp struct {
		Count int `json:"count"`
	}
	decodeInto(t, rec, &listResp)
	assert.Equal(t, 1, listResp.Count)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/memories", createMemoryRequest{
		TenantID: "tenant-a",
		Content:  "a fact",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/stats?tenant_id=tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats memory.Stats
	decodeInto(t, rec, &stats)
	assert.Equal(t, 1, stats.TotalMemories)
	assert.Equal(t, 1, stats.ByType[memory.TypeText])
}

type stubAgent struct {
	resp *agent.ChatResponse
	err  error
}

func (a *stubAgent) Chat(context.Context, agent.ChatRequest) (*agent.ChatResponse, error) {
	return a.resp, a.err
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, &stubAgent{resp: &agent.ChatResponse{Reply: "hello"}})

	rec := env.do(t, http.MethodPost, "/api/chat", agent.ChatRequest{
		TenantID: "tenant-a",
		Message:  "hi",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp agent.ChatResponse
	decodeInto(t, rec, &resp)
	assert.Equal(t, "hello", resp.Reply)
}

func TestChatDisabled(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/chat", agent.ChatRequest{
		TenantID: "tenant-a",
		Message:  "hi",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/stats?tenant_id=tenant-a", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRouteLabelUsesPattern(t *testing.T) {
	env := newTestEnv(t, nil)

	// record ids never leak into metric labels
	req := httptest.NewRequest(http.MethodGet, "/api/memories/0b4e7a7c-1d7e-4a57-9f3e-aaa111222333", nil)
	assert.Equal(t, "GET /api/memories/{id}", env.server.routeLabel(req))

	req = httptest.NewRequest(http.MethodPost, "/api/search", nil)
	assert.Equal(t, "POST /api/search", env.server.routeLabel(req))

	req = httptest.NewRequest(http.MethodGet, "/api/no-such-route", nil)
	assert.Equal(t, "unmatched", env.server.routeLabel(req))
}

func TestConfiguredRateLimitApplied(t *testing.T) {
	svc, err := memory.NewService(memory.Config{
		Metadata: memorytest.NewMetadataStore(),
		Vectors:  memorytest.NewVectorStore(),
		Embedder: mock.New(3),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	srv, err := NewServer(Config{
		Host:      "127.0.0.1",
		Port:      8080,
		APIKey:    testAPIKey,
		RateLimit: 1,
		Service:   svc,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	handler := srv.Handler()

	get := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/stats?tenant_id=tenant-a", nil)
		req.Header.Set("X-API-Key", testAPIKey)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get())
	assert.Equal(t, http.StatusTooManyRequests, get())
}
