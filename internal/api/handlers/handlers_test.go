package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knosi/internal/core"
	db "github.com/markdave123-py/knosi/internal/core/database"
	"github.com/markdave123-py/knosi/internal/core/progress"
	"github.com/markdave123-py/knosi/internal/models"
	"github.com/markdave123-py/knosi/internal/services"
)

type fakeIngestor struct {
	mu       sync.Mutex
	data     []byte
	identity string
	jobID    string
	res      *models.IngestResult
	err      error
}

func (f *fakeIngestor) Submit(_ context.Context, data []byte, identity, jobID string) (*models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data, f.identity, f.jobID = data, identity, jobID
	if f.err != nil {
		return nil, f.err
	}
	res := *f.res
	res.Filename, res.JobID = identity, jobID
	return &res, nil
}

type memObjects struct{ objects map[string][]byte }

func (m *memObjects) UploadFile(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.objects[key] = data
	return key, nil
}

func (m *memObjects) DeleteFile(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memObjects) GetFile(_ context.Context, key string) ([]byte, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, core.NotFoundError("object not found: %s", key)
	}
	return b, nil
}

func (m *memObjects) GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error) {
	b, err := m.GetFile(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type unitEmbedder struct{}

func (unitEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (unitEmbedder) Dimension() int { return 2 }

type cannedLLM struct{ answer string }

func (c cannedLLM) Generate(context.Context, string, string) (string, error) { return c.answer, nil }

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestUploadUsesPathAndUploadID(t *testing.T) {
	ing := &fakeIngestor{res: &models.IngestResult{Status: models.IngestCreated, ChunkCount: 3}}
	h := NewDocumentHandler(ing, nil, 1<<20, nil)

	body, ct := multipartBody(t, "a.md", []byte("# hello"), map[string]string{"path": "notes/a.md", "upload_id": "u-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, uploadResponse{
		Message:  "Document indexed successfully",
		Filename: "notes/a.md",
		Status:   models.IngestCreated,
		Chunks:   3,
		UploadID: "u-1",
	}, resp)
	assert.Equal(t, "# hello", string(ing.data))
	assert.Equal(t, "u-1", ing.jobID)
}

func TestUploadGeneratesUploadID(t *testing.T) {
	ing := &fakeIngestor{res: &models.IngestResult{Status: models.IngestUnchanged, ChunkCount: 2}}
	h := NewDocumentHandler(ing, nil, 1<<20, nil)

	body, ct := multipartBody(t, "b.txt", []byte("text"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[uploadResponse](t, rec)
	assert.Equal(t, "Document already indexed", resp.Message)
	assert.Equal(t, "b.txt", resp.Filename)
	_, err := uuid.Parse(resp.UploadID)
	assert.NoError(t, err)
}

func TestUploadErrors(t *testing.T) {
	ing := &fakeIngestor{err: core.ValidationError("Unsupported file type: .exe")}
	h := NewDocumentHandler(ing, nil, 1<<20, nil)

	body, ct := multipartBody(t, "x.exe", []byte("MZ"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported file type: .exe", decode[map[string]string](t, rec)["detail"])

	body, ct = multipartBody(t, "", nil, map[string]string{"path": "a.md"})
	req = httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ing.err = core.UpstreamTimeoutError(nil, "extraction service timed out")
	body, ct = multipartBody(t, "big.pdf", []byte("%PDF"), nil)
	req = httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec = httptest.NewRecorder()
	h.Upload(rec, req)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	h := NewDocumentHandler(&fakeIngestor{}, nil, 16, nil)

	body, ct := multipartBody(t, "a.txt", bytes.Repeat([]byte("x"), 2<<20), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Upload(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func documentRouter(t *testing.T) (http.Handler, *memObjects) {
	t.Helper()
	store := db.NewMemoryClient()
	objects := &memObjects{objects: map[string][]byte{"originals/h/a.md": []byte("# notes")}}
	doc := &models.Document{Filename: "notes/a.md", FileHash: "h", FileSize: 7, StorageKey: "originals/h/a.md", ChunkCount: 1}
	chunks := []models.Chunk{{Filename: "notes/a.md", Content: "# notes", Embedding: []float32{1, 0}}}
	require.NoError(t, store.ReplaceDocument(context.Background(), nil, doc, chunks))

	h := NewDocumentHandler(&fakeIngestor{}, services.NewDocumentService(store, objects, nil), 1<<20, nil)
	r := chi.NewRouter()
	r.Get("/api/documents", h.List)
	r.Get("/api/documents/*", h.Download)
	r.Delete("/api/documents/*", h.Delete)
	return r, objects
}

func TestListDownloadDelete(t *testing.T) {
	r, objects := documentRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]documentInfo](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "notes/a.md", list[0].Filename)
	assert.Equal(t, int64(7), list[0].FileSize)
	_, err := time.Parse(time.RFC3339, list[0].IndexedAt)
	assert.NoError(t, err)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/notes/a.md/download", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# notes", rec.Body.String())
	assert.Equal(t, "text/markdown", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `attachment; filename=a.md`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents/notes/a.md", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/documents/notes/a.md", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "notes/a.md", decode[map[string]string](t, rec)["filename"])
	assert.Empty(t, objects.objects)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/documents/notes/a.md", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "document not found: notes/a.md", decode[map[string]string](t, rec)["detail"])
}

func TestChatAndSearch(t *testing.T) {
	store := db.NewMemoryClient()
	doc := &models.Document{Filename: "a.md", FileHash: "h", ChunkCount: 1}
	require.NoError(t, store.ReplaceDocument(context.Background(), nil, doc, []models.Chunk{{Filename: "a.md", Content: "alpha", Embedding: []float32{1, 0}}}))
	h := NewChatHandler(services.NewRetrievalService(store, unitEmbedder{}, cannedLLM{answer: "Alpha."}, nil), nil)

	rec := httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"what?"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	answer := decode[models.ChatAnswer](t, rec)
	assert.Equal(t, "Alpha.", answer.Response)
	assert.Equal(t, []models.Source{{Filename: "a.md", ChunkIndex: 0, SourceType: "vault"}}, answer.Sources)

	rec = httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"what?","include_sources":false}`)))
	assert.Empty(t, decode[models.ChatAnswer](t, rec).Sources)

	rec = httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=alpha&limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []models.SearchHit{{Filename: "a.md", Content: "alpha"}}, decode[[]models.SearchHit](t, rec))

	rec = httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=alpha&limit=many", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus(t *testing.T) {
	h := NewStatusHandler(services.NewDocumentService(db.NewMemoryClient(), nil, nil), nil)
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, statusResponse{Status: "ok"}, decode[statusResponse](t, rec))
}

func TestProgressStream(t *testing.T) {
	hub := progress.NewHub(nil)
	hub.Open("job-1", "a.md")
	h := NewProgressHandler(hub, 10*time.Millisecond, nil)
	r := chi.NewRouter()
	r.Get("/api/upload/{id}/progress", h.Stream)

	go func() {
		time.Sleep(50 * time.Millisecond)
		hub.Publish("job-1", "Extracting text from a.md...")
		hub.Publish("job-1", "complete:a.md uploaded successfully.")
	}()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/upload/job-1/progress", nil))

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: progress\ndata: Uploading a.md...\n\n"), body)
	assert.Contains(t, body, ": keepalive\n\n")
	assert.Contains(t, body, "event: progress\ndata: Extracting text from a.md...\n\n")
	assert.True(t, strings.HasSuffix(body, "event: progress\ndata: complete:a.md uploaded successfully.\n\n"), body)
}

func TestProgressStreamStopsOnDisconnect(t *testing.T) {
	hub := progress.NewHub(nil)
	h := NewProgressHandler(hub, time.Hour, nil)
	r := chi.NewRouter()
	r.Get("/api/upload/{id}/progress", h.Stream)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/upload/nobody/progress", nil).WithContext(ctx))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the client went away")
	}
	assert.Empty(t, rec.Body.String())
}

type fakeIssuer struct{ enabled bool }

func (f fakeIssuer) Enabled() bool               { return f.enabled }
func (f fakeIssuer) CheckAPIKey(key string) bool { return key == "k" }
func (f fakeIssuer) IssueToken(ttl time.Duration) (string, time.Time, error) {
	return "signed", time.Unix(1700000000, 0).UTC(), nil
}

func TestTokenIssue(t *testing.T) {
	h := NewTokenHandler(fakeIssuer{enabled: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/token", nil)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	h.Issue(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[tokenResponse](t, rec)
	assert.Equal(t, "signed", resp.Token)
	assert.Equal(t, "Bearer", resp.TokenType)

	rec = httptest.NewRecorder()
	h.Issue(rec, httptest.NewRequest(http.MethodPost, "/api/token", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	NewTokenHandler(fakeIssuer{}, nil).Issue(rec, httptest.NewRequest(http.MethodPost, "/api/token", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
