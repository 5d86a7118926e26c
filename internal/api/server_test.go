package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/examforge/examforge/internal/config"
	"github.com/examforge/examforge/internal/genai"
	"github.com/examforge/examforge/internal/generator"
	"github.com/examforge/examforge/internal/localizer"
	"github.com/examforge/examforge/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer wires a full API server against a fake generation backend.
// The orchestrator is not started, so extract jobs queue but never run.
func newTestServer(t *testing.T, backend http.HandlerFunc) *Server {
	t.Helper()
	llm := httptest.NewServer(backend)
	t.Cleanup(llm.Close)

	log := slog.New(slog.DiscardHandler)
	cfg := config.Config{
		APIKey:         "secret",
		MaxUploadBytes: 1 << 20,
		MaxQueueSize:   4,
		WorkerCount:    1,
		JobTTL:         time.Hour,
	}
	client := genai.NewClient(genai.Config{
		APIKey:    "llm-key",
		BaseURL:   llm.URL,
		TextModel: "text-model",
		Timeout:   5 * time.Second,
	})
	t.Cleanup(client.Close)

	loc := localizer.New(client, nil, log, localizer.Config{})
	gen := generator.New(client, log, generator.Config{})
	orch := pipeline.NewOrchestrator(cfg, client, loc, log)

	return NewServer(orch, client, gen, log, cfg)
}

func noBackend(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "unexpected model call", http.StatusInternalServerError)
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, noBackend)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t, noBackend)

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateEndpoint(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		items := make([]map[string]any, 10)
		for i := range items {
			items[i] = map[string]any{
				"id":       "m",
				"type":     "free_text",
				"question": strings.Repeat("x", i+1) + " distinct question",
				"marks":    1,
			}
		}
		content, _ := json.Marshal(items)
		resp, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": string(content)}},
			},
		})
		w.Write(resp)
	})

	body, _ := json.Marshal(generator.Request{Topic: "fractions", Count: 3})
	req := httptest.NewRequest(http.MethodPost, "/api/generate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result generator.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Records, 3)
	assert.False(t, result.Shortfall)
}

func TestGenerateRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, noBackend)
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractStatusUnknownJob(t *testing.T) {
	srv := newTestServer(t, noBackend)
	req := httptest.NewRequest(http.MethodGet, "/api/extract/nope/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartUpload(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestExtractRejectsNonPDF(t *testing.T) {
	srv := newTestServer(t, noBackend)
	body, contentType := multipartUpload(t, "file", "paper.txt", []byte("not a pdf"))

	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported file type")
}

func TestExtractAcceptsAndQueues(t *testing.T) {
	srv := newTestServer(t, noBackend)
	body, contentType := multipartUpload(t, "file", "paper.pdf", []byte("%PDF-1.7 fake"))

	req := httptest.NewRequest(http.MethodPost, "/api/extract", body)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "/api/extract/"+resp["job_id"]+"/status", resp["poll_url"])

	// The new job is visible through the status endpoint while queued.
	statusReq := httptest.NewRequest(http.MethodGet, resp["poll_url"], nil)
	statusReq.Header.Set("Authorization", "Bearer secret")
	statusRec := httptest.NewRecorder()
	srv.ServeHTTP(statusRec, statusReq)
	assert.Equal(t, http.StatusOK, statusRec.Code)
	assert.Contains(t, statusRec.Body.String(), `"queued"`)
}
