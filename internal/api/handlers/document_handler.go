package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/core/ingestion_engine"
	"github.com/markdave123-py/knosi/internal/models"
	"github.com/markdave123-py/knosi/internal/services"
)

const (
	multipartMemory = 32 << 20
	multipartSlack  = 1 << 20
)

// Ingestor runs one ingestion and waits for its outcome.
type Ingestor interface {
	Submit(ctx context.Context, data []byte, identity, jobID string) (*models.IngestResult, error)
}

type DocumentHandler struct {
	ingestor Ingestor
	docs     *services.DocumentService
	maxBytes int64
	log      *slog.Logger
}

func NewDocumentHandler(ing Ingestor, docs *services.DocumentService, maxBytes int64, log *slog.Logger) *DocumentHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DocumentHandler{ingestor: ing, docs: docs, maxBytes: maxBytes, log: log}
}

type uploadResponse struct {
	Message  string              `json:"message"`
	Filename string              `json:"filename"`
	Status   models.IngestStatus `json:"status"`
	Chunks   int                 `json:"chunks"`
	UploadID string              `json:"upload_id"`
}

// Upload indexes the multipart "file" under "path" (or the file's own name), reporting progress on "upload_id".
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartSlack)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, h.log, core.ValidationError("File too large. Max size: %dMB", h.maxBytes>>20))
			return
		}
		writeError(w, h.log, core.ValidationError("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.log, core.ValidationError("missing file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, h.log, core.ValidationError("could not read upload: %v", err))
		return
	}

	identity := strings.TrimSpace(r.FormValue("path"))
	if identity == "" {
		identity = header.Filename
	}
	uploadID := r.FormValue("upload_id")
	if uploadID == "" {
		uploadID = uuid.NewString()
	}

	res, err := h.ingestor.Submit(r.Context(), data, identity, uploadID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.log.Info("uploader went away, ingestion continues", "file", identity, "upload_id", uploadID)
			return
		}
		writeError(w, h.log, err)
		return
	}

	msg := "Document indexed successfully"
	if res.Status == models.IngestUnchanged {
		msg = "Document already indexed"
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:  msg,
		Filename: res.Filename,
		Status:   res.Status,
		Chunks:   res.ChunkCount,
		UploadID: uploadID,
	})
}

type documentInfo struct {
	Filename   string `json:"filename"`
	FileSize   int64  `json:"file_size"`
	ChunkCount int    `json:"chunk_count"`
	IndexedAt  string `json:"indexed_at"`
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out := make([]documentInfo, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentInfo{
			Filename:   d.Filename,
			FileSize:   d.FileSize,
			ChunkCount: d.ChunkCount,
			IndexedAt:  d.IndexedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// Download streams the stored original. It serves GET /documents/*; the path must end in /download.
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	p, err := wildcardPath(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	filename, ok := strings.CutSuffix(p, "/download")
	if !ok || filename == "" {
		writeError(w, h.log, core.NotFoundError("Not found"))
		return
	}

	orig, err := h.docs.Download(r.Context(), filename)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	defer orig.Body.Close()

	w.Header().Set("Content-Type", contentType(filename))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": orig.Name}))
	if orig.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(orig.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, orig.Body); err != nil {
		h.log.Warn("download interrupted", "file", filename, "error", err)
	}
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	filename, err := wildcardPath(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if _, err := h.docs.Delete(r.Context(), filename); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted", "filename": filename})
}

// wildcardPath returns the decoded identity key captured by a trailing chi wildcard.
func wildcardPath(r *http.Request) (string, error) {
	p := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		dec, err := url.PathUnescape(p)
		if err != nil {
			return "", core.ValidationError("invalid document path")
		}
		p = dec
	}
	if p == "" {
		return "", core.NotFoundError("Document not found")
	}
	return p, nil
}

var textTypes = map[string]string{
	".md":  "text/markdown",
	".org": "text/plain",
	".rst": "text/plain",
	".txt": "text/plain",
}

func contentType(filename string) string {
	ext := ingestion_engine.Extension(filename)
	if ct, ok := textTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
