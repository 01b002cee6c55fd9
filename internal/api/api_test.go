package api

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

	"github.com/chronologue/chronologue/internal/config"
	"github.com/chronologue/chronologue/internal/coordinator"
	"github.com/chronologue/chronologue/internal/factory"
	"github.com/chronologue/chronologue/internal/jobs"
	"github.com/chronologue/chronologue/internal/model"
)

type testServer struct {
	engine *factory.Engine
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	engine, err := factory.NewEngine(context.Background(), config.NewForTesting(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	srv := httptest.NewServer(NewRouter(engine.Owners, engine.Recall, engine.Health))
	t.Cleanup(srv.Close)
	return &testServer{engine: engine, srv: srv}
}

// drainJobs processes queued work the way the worker binary does.
func (ts *testServer) drainJobs(t *testing.T) {
	t.Helper()
	w := jobs.NewWorker(ts.engine.Store, 50, 0, zerolog.Nop())
	w.Register(coordinator.JobKindIndexChunks, func(ctx context.Context, job *model.Job) error {
		return ts.engine.Coordinator.IndexChunks(ctx,
			jobs.StringField(job.Payload, "ownerId"), jobs.StringField(job.Payload, "segmentId"))
	})
	w.Register(coordinator.JobKindSummarizeSegment, func(ctx context.Context, job *model.Job) error {
		return ts.engine.Coordinator.SummarizeSegment(ctx,
			jobs.StringField(job.Payload, "ownerId"), jobs.StringField(job.Payload, "segmentId"),
			jobs.Int64Field(job.Payload, "upTo"))
	})
	w.Register(coordinator.JobKindFinalizeSegment, func(ctx context.Context, job *model.Job) error {
		return ts.engine.Coordinator.FinalizeSegment(ctx,
			jobs.StringField(job.Payload, "ownerId"), jobs.StringField(job.Payload, "segmentId"))
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, w.RunOnce(context.Background()))
	}
}

func (ts *testServer) do(t *testing.T, method, path, ownerID string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ownerID != "" {
		req.Header.Set("X-Owner-ID", ownerID)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func createOwner(t *testing.T, ts *testServer, ownerID string) {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/v0/owners", "", map[string]interface{}{
		"ownerId": ownerID, "timeZone": "UTC",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestOwnerLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v0/owners", "", map[string]interface{}{
		"ownerId": "alice", "timeZone": "America/New_York",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var owner model.Owner
	decodeBody(t, resp, &owner)
	assert.Equal(t, "alice", owner.OwnerID)
	assert.Equal(t, "America/New_York", owner.TimeZone)
	assert.Equal(t, "none", owner.EmbedProvider, "service default applied")

	resp = ts.do(t, http.MethodGet, "/v0/owners/alice", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/v0/owners/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCreateOwnerRejectsBadInput(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v0/owners", "", map[string]interface{}{
		"ownerId": "Not Valid!",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v0/owners", "", map[string]interface{}{
		"ownerId": "bob", "timeZone": "Mars/Olympus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAppendMessage(t *testing.T) {
	ts := newTestServer(t)
	createOwner(t, ts, "alice")

	resp := ts.do(t, http.MethodPost, "/v0/streams/chat-1/messages", "alice", map[string]interface{}{
		"role": "user", "content": "planted tomatoes in the garden",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		Message   model.Message `json:"message"`
		SegmentID string        `json:"segmentId"`
		Day       string        `json:"day"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, int64(1), out.Message.Seq)
	assert.NotEmpty(t, out.SegmentID)
	assert.NotEmpty(t, out.Day)

	// missing owner header
	resp = ts.do(t, http.MethodPost, "/v0/streams/chat-1/messages", "", map[string]interface{}{
		"role": "user", "content": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// unknown role
	resp = ts.do(t, http.MethodPost, "/v0/streams/chat-1/messages", "alice", map[string]interface{}{
		"role": "narrator", "content": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// unknown owner
	resp = ts.do(t, http.MethodPost, "/v0/streams/chat-1/messages", "ghost", map[string]interface{}{
		"role": "user", "content": "hi",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestSearchAndWindowFlow(t *testing.T) {
	ts := newTestServer(t)
	createOwner(t, ts, "alice")

	for i := 0; i < 4; i++ {
		resp := ts.do(t, http.MethodPost, "/v0/streams/chat-1/messages", "alice", map[string]interface{}{
			"role": "user", "content": fmt.Sprintf("note %d about the tomato harvest", i),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		_ = resp.Body.Close()
	}
	ts.drainJobs(t)

	resp := ts.do(t, http.MethodPost, "/v0/search", "alice", map[string]interface{}{
		"query": "tomato harvest",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Results    []model.SearchResult `json:"results"`
		NextCursor string               `json:"nextCursor"`
	}
	decodeBody(t, resp, &page)
	require.NotEmpty(t, page.Results)
	hit := page.Results[0]
	assert.Equal(t, model.KindChunk, hit.Kind)
	assert.Contains(t, hit.Snippet, "tomato")

	resp = ts.do(t, http.MethodGet, "/v0/window/chunk/"+hit.TargetID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var win model.Window
	decodeBody(t, resp, &win)
	require.NotEmpty(t, win.Messages)
	assert.Contains(t, win.Messages[0].Content, "tomato")

	// another owner cannot see the hit
	createOwner(t, ts, "mallory")
	resp = ts.do(t, http.MethodGet, "/v0/window/chunk/"+hit.TargetID, "mallory", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestSearchEmptyResultsAndBadCursor(t *testing.T) {
	ts := newTestServer(t)
	createOwner(t, ts, "alice")

	resp := ts.do(t, http.MethodPost, "/v0/search", "alice", map[string]interface{}{
		"query": "nothing indexed yet",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Results []model.SearchResult `json:"results"`
	}
	decodeBody(t, resp, &page)
	assert.NotNil(t, page.Results)
	assert.Empty(t, page.Results)

	resp = ts.do(t, http.MethodPost, "/v0/search", "alice", map[string]interface{}{
		"query": "anything", "cursor": "%%%not-a-cursor%%%",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestBuildContextEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createOwner(t, ts, "alice")

	resp := ts.do(t, http.MethodPost, "/v0/streams/chat-1/messages", "alice", map[string]interface{}{
		"role": "user", "content": "remember the dentist appointment",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/v0/streams/chat-1/context", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bundle model.ContextBundle
	decodeBody(t, resp, &bundle)
	require.Len(t, bundle.RawWindow, 1)
	assert.Equal(t, "remember the dentist appointment", bundle.RawWindow[0].Content)
	assert.False(t, bundle.Truncated)
}

func TestRebuildEmbeddingsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createOwner(t, ts, "alice")

	resp := ts.do(t, http.MethodPost, "/v0/embeddings/rebuild", "alice", map[string]interface{}{
		"provider": "ollama", "model": "mxbai-embed-large", "dimension": 8,
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/v0/embeddings/rebuild", "alice", map[string]interface{}{
		"provider": "", "model": "", "dimension": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/v0/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, "healthy", out.Status)
}
