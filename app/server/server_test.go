package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resumerag/app/api"
	"resumerag/app/middleware"
	"resumerag/observability"
	"resumerag/types"
)

type fakeAssistant struct {
	err      error
	sessions []string
}

func (f *fakeAssistant) Answer(ctx context.Context, sessionID, question string) (types.Answer, error) {
	f.sessions = append(f.sessions, sessionID)
	if f.err != nil {
		return types.Answer{}, f.err
	}
	return types.Answer{
		Answer:         "answer to " + question,
		Classification: types.DocumentSpecific,
		SessionID:      sessionID,
		Confidence:     0.5,
	}, nil
}

func (f *fakeAssistant) Chat(ctx context.Context, sessionID, message string, onChunk func(string) error) (string, error) {
	for _, c := range []string{"Hel", "lo ", message} {
		if err := onChunk(c); err != nil {
			return "", err
		}
	}
	return "Hello " + message, nil
}

type fakeIndexer struct {
	err     error
	indexed []string
	docs    map[string]types.Document
}

func (f *fakeIndexer) IndexFile(ctx context.Context, path string) (types.Document, error) {
	if f.err != nil {
		return types.Document{}, f.err
	}
	f.indexed = append(f.indexed, path)
	doc := types.Document{Filename: filepath.Base(path), Namespace: "document_0", VectorCount: 3}
	f.docs[doc.Filename] = doc
	return doc, nil
}

func (f *fakeIndexer) Delete(ctx context.Context, filename string) (bool, error) {
	if _, ok := f.docs[filename]; !ok {
		return false, nil
	}
	delete(f.docs, filename)
	return true, nil
}

func (f *fakeIndexer) List(ctx context.Context) ([]types.Document, error) {
	var out []types.Document
	for _, d := range f.docs {
		out = append(out, d)
	}
	return out, nil
}

type testServer struct {
	*Server
	assistant *fakeAssistant
	indexer   *fakeIndexer
	uploadDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		assistant: &fakeAssistant{},
		indexer:   &fakeIndexer{docs: make(map[string]types.Document)},
		uploadDir: filepath.Join(t.TempDir(), "uploads"),
	}
	ts.Server = NewServer(":0", Deps{
		Assistant:      ts.assistant,
		Indexer:        ts.indexer,
		Metrics:        observability.NewMetrics("test"),
		UploadDir:      ts.uploadDir,
		RequestTimeout: 5 * time.Second,
	})
	return ts
}

func jsonRequest(method, target string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthy(t *testing.T) {
	ts := newTestServer(t)
	resp, err := ts.App().Test(httptest.NewRequest(http.MethodGet, "/check/healthy", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestQueryGeneratesSession(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.App().Test(jsonRequest(http.MethodPost, "/api/v1/query", map[string]string{"query": "Where did Jane work?"}))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sessionID := resp.Header.Get(middleware.SessionHeader)
	assert.NotEmpty(t, sessionID)
	ans := decode[types.Answer](t, resp)
	assert.Equal(t, "answer to Where did Jane work?", ans.Answer)
	assert.Equal(t, sessionID, ans.SessionID)
}

func TestQuerySessionSources(t *testing.T) {
	ts := newTestServer(t)

	req := jsonRequest(http.MethodPost, "/api/v1/query", map[string]string{"query": "q"})
	req.Header.Set(middleware.SessionHeader, "from-header")
	resp, err := ts.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, "from-header", resp.Header.Get(middleware.SessionHeader))

	req = jsonRequest(http.MethodPost, "/api/v1/query", map[string]string{"query": "q", "session_id": "from-body"})
	req.Header.Set(middleware.SessionHeader, "from-header")
	resp, err = ts.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, "from-body", resp.Header.Get(middleware.SessionHeader))

	assert.Equal(t, []string{"from-header", "from-body"}, ts.assistant.sessions)
}

func TestQueryKeepsDistinctSessions(t *testing.T) {
	ts := newTestServer(t)

	ids := []string{"session-AAAA-1111", "session-BBBB-2222", "session-CCCC-3333"}
	for _, id := range ids {
		req := jsonRequest(http.MethodPost, "/api/v1/query", map[string]string{"query": "q"})
		req.Header.Set(middleware.SessionHeader, id)
		resp, err := ts.App().Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, ids, ts.assistant.sessions)
}

func TestQueryValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.App().Test(jsonRequest(http.MethodPost, "/api/v1/query", map[string]string{"query": ""}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	valErr := decode[api.ValidationError](t, resp)
	assert.Contains(t, valErr.Errors, "Query")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err = ts.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"embedding", &types.EmbeddingError{Err: errors.New("down")}, http.StatusBadGateway},
		{"index", &types.IndexError{Op: "query", Err: errors.New("down")}, http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.assistant.err = tt.err
			resp, err := ts.App().Test(jsonRequest(http.MethodPost, "/api/v1/query", map[string]string{"query": "q"}))
			require.NoError(t, err)
			assert.Equal(t, tt.code, resp.StatusCode)
			apiErr := decode[api.Error](t, resp)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}
}

func TestChatStreams(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.App().Test(jsonRequest(http.MethodPost, "/api/v1/chat", map[string]string{"message": "there"}), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Hello there", string(body))
}

func TestUploadListDelete(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.App().Test(uploadRequest(t, "jane.txt", "EXPERIENCE\nAcme"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	doc := decode[types.Document](t, resp)
	assert.Equal(t, "jane.txt", doc.Filename)
	assert.FileExists(t, filepath.Join(ts.uploadDir, "jane.txt"))

	resp, err = ts.App().Test(httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	require.NoError(t, err)
	list := decode[struct {
		Documents []types.Document `json:"documents"`
	}](t, resp)
	require.Len(t, list.Documents, 1)

	resp, err = ts.App().Test(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/jane.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, statErr := os.Stat(filepath.Join(ts.uploadDir, "jane.txt"))
	assert.True(t, os.IsNotExist(statErr))

	resp, err = ts.App().Test(httptest.NewRequest(http.MethodDelete, "/api/v1/documents/jane.txt", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadRejects(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.App().Test(uploadRequest(t, "photo.png", "x"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	resp, err = ts.App().Test(httptest.NewRequest(http.MethodPost, "/api/v1/upload", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ts.indexer.err = &types.ExtractionError{Path: "broken.pdf", Err: errors.New("corrupt")}
	resp, err = ts.App().Test(uploadRequest(t, "broken.pdf", "not a pdf"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.NoFileExists(t, filepath.Join(ts.uploadDir, "broken.pdf"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.App().Test(httptest.NewRequest(http.MethodGet, "/check/healthy", nil))
	require.NoError(t, err)

	resp, err := ts.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_http_requests_total{method="GET",path="/check/healthy",status="200"} 1`)
}
