package syncclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knosi/internal/models"
)

// fakeServer records uploads and deletes the way the knosi API would answer them.
type fakeServer struct {
	mu       sync.Mutex
	apiKey   string
	uploads  map[string]string // path -> content
	order    []string
	deleted  []string
	uploaded chan string
	removed  chan string
}

func newFakeServer(t *testing.T, apiKey string) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{
		apiKey:   apiKey,
		uploads:  map[string]string{},
		uploaded: make(chan string, 32),
		removed:  make(chan string, 32),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	if f.apiKey != "" && r.Header.Get("X-API-Key") != f.apiKey {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid or missing API key"}`))
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/status":
		_ = json.NewEncoder(w).Encode(Status{Status: "ok", DocumentCount: len(f.uploads)})

	case r.Method == http.MethodPost && r.URL.Path == "/api/upload":
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"missing file"}`))
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		p := r.FormValue("path")
		if !strings.HasSuffix(p, header.Filename) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status := models.IngestCreated
		if _, ok := f.uploads[p]; ok {
			status = models.IngestUpdated
		}
		f.uploads[p] = string(body)
		f.order = append(f.order, p)
		f.uploaded <- p
		_ = json.NewEncoder(w).Encode(UploadResult{Filename: p, Status: status, Chunks: 1, UploadID: "u"})

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/documents/"):
		p := strings.TrimPrefix(r.URL.Path, "/api/documents/")
		f.deleted = append(f.deleted, p)
		f.removed <- p
		if _, ok := f.uploads[p]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Document not found"}`))
			return
		}
		delete(f.uploads, p)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Document deleted", "filename": p})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// snapshot copies the recorded state under the lock.
func (f *fakeServer) snapshot() (uploads map[string]string, order, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uploads = make(map[string]string, len(f.uploads))
	for k, v := range f.uploads {
		uploads[k] = v
	}
	return uploads, append([]string(nil), f.order...), append([]string(nil), f.deleted...)
}

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestClientStatusAndAuth(t *testing.T) {
	_, srv := newFakeServer(t, "k")

	st, err := NewClient(srv.URL+"/", "k", time.Second).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", st.Status)

	_, err = NewClient(srv.URL, "wrong", time.Second).Status(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClientUploadAndDelete(t *testing.T) {
	f, srv := newFakeServer(t, "")
	c := NewClient(srv.URL, "", time.Second)

	res, err := c.Upload(context.Background(), "notes/my file.md", []byte("# hi"))
	require.NoError(t, err)
	assert.Equal(t, models.IngestCreated, res.Status)
	uploads, _, _ := f.snapshot()
	assert.Equal(t, "# hi", uploads["notes/my file.md"])

	found, err := c.Delete(context.Background(), "notes/my file.md")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = c.Delete(context.Background(), "notes/my file.md")
	require.NoError(t, err)
	assert.False(t, found)
	_, _, deleted := f.snapshot()
	assert.Equal(t, []string{"notes/my file.md", "notes/my file.md"}, deleted)
}

func TestSyncFileSkipsUnchanged(t *testing.T) {
	f, srv := newFakeServer(t, "")
	dir := t.TempDir()
	p := writeFile(t, dir, "a.md", "one")

	s, err := NewSyncer(NewClient(srv.URL, "", time.Second), dir, time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, s.SyncFile(context.Background(), p))
	require.NoError(t, s.SyncFile(context.Background(), p))
	_, order, _ := f.snapshot()
	assert.Equal(t, []string{"a.md"}, order)

	writeFile(t, dir, "a.md", "two")
	require.NoError(t, s.SyncFile(context.Background(), p))
	uploads, order, _ := f.snapshot()
	assert.Equal(t, []string{"a.md", "a.md"}, order)
	assert.Equal(t, "two", uploads["a.md"])
}

func TestInitialSyncWalksVault(t *testing.T) {
	f, srv := newFakeServer(t, "")
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "a")
	writeFile(t, dir, "sub/b.txt", "b")
	writeFile(t, dir, "sub/deeper/c.pdf", "%PDF")
	writeFile(t, dir, "skip.exe", "MZ")
	writeFile(t, dir, ".obsidian/config.md", "hidden")

	s, err := NewSyncer(NewClient(srv.URL, "", time.Second), dir, time.Second, nil)
	require.NoError(t, err)

	n, err := s.InitialSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, got, _ := f.snapshot()
	sort.Strings(got)
	assert.Equal(t, []string{"a.md", "sub/b.txt", "sub/deeper/c.pdf"}, got)
}

func TestInitialSyncStopsOnBadKey(t *testing.T) {
	_, srv := newFakeServer(t, "k")
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "a")

	s, err := NewSyncer(NewClient(srv.URL, "wrong", time.Second), dir, time.Second, nil)
	require.NoError(t, err)
	_, err = s.InitialSync(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewSyncerRejectsMissingVault(t *testing.T) {
	_, err := NewSyncer(nil, filepath.Join(t.TempDir(), "nope"), 0, nil)
	assert.Error(t, err)

	file := writeFile(t, t.TempDir(), "f.md", "x")
	_, err = NewSyncer(nil, file, 0, nil)
	assert.Error(t, err)
}

func TestWatchUploadsAndDeletes(t *testing.T) {
	f, srv := newFakeServer(t, "")
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	s, err := NewSyncer(NewClient(srv.URL, "", 5*time.Second), dir, 50*time.Millisecond, nil)
	require.NoError(t, err)
	ready := make(chan struct{})
	s.ready = func() { close(ready) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()
	<-ready

	p := writeFile(t, dir, "sub/a.md", "hello")
	waitFor(t, f.uploaded, "sub/a.md")

	writeFile(t, dir, "fresh/b.md", "new folder")
	waitFor(t, f.uploaded, "fresh/b.md")

	writeFile(t, dir, "ignored.exe", "MZ")

	require.NoError(t, os.Remove(p))
	waitFor(t, f.removed, "sub/a.md")

	cancel()
	require.NoError(t, <-done)

	uploads, order, _ := f.snapshot()
	assert.NotContains(t, order, "ignored.exe")
	assert.Equal(t, map[string]string{"fresh/b.md": "new folder"}, uploads)
}
