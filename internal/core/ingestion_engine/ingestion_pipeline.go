package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/core/progress"
	"github.com/markdave123-py/knosi/internal/metrics"
	"github.com/markdave123-py/knosi/internal/models"
)

// DocumentIngestor turns uploaded payloads into indexed documents.
// Ingest runs one pipeline inline; Start and Submit run them on a bounded worker pool.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	embedder  core.EmbeddingProvider
	extractor core.DocumentExtractor
	progress  ProgressReporter
	metrics   *metrics.Metrics
	cfg       *IngestConfig
	log       *slog.Logger

	jobs     chan ingestJob
	startMu  sync.RWMutex
	started  bool
	stopped  bool
	quit     chan struct{}
	quitOnce sync.Once
	workers  errgroup.Group
}

// ErrStopped is returned for jobs submitted or still queued after the workers shut down.
var ErrStopped = errors.New("ingestion workers are shutting down")

type ingestJob struct {
	ctx      context.Context
	data     []byte
	identity string
	jobID    string
	done     chan ingestOutcome
}

type ingestOutcome struct {
	res *models.IngestResult
	err error
}

// NewDocumentIngestor constructs the ingestor with a bounded job queue (64).
// obj may be nil, in which case original payloads are not kept.
func NewDocumentIngestor(db core.DbClient, obj core.ObjectClient, emb core.EmbeddingProvider, extractor core.DocumentExtractor, reporter ProgressReporter, m *metrics.Metrics, cfg *IngestConfig, log *slog.Logger) *DocumentIngestor {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &DocumentIngestor{
		db:        db,
		obj:       obj,
		embedder:  emb,
		extractor: extractor,
		progress:  reporter,
		metrics:   m,
		cfg:       cfg,
		log:       log,
		jobs:      make(chan ingestJob, 64),
		quit:      make(chan struct{}),
	}
}

// Start launches numWorkers goroutines that run submitted ingestions until ctx is done.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	i.startMu.Lock()
	i.started = true
	i.startMu.Unlock()

	for w := 1; w <= numWorkers; w++ {
		i.workers.Go(func() error {
			for {
				if ctx.Err() != nil {
					i.stop()
					return nil
				}
				select {
				case <-ctx.Done():
					i.log.Info("ingest worker shutting down", "worker", w)
					i.stop()
					return nil
				case j := <-i.jobs:
					i.log.Debug("ingest worker picked up job", "worker", w, "job_id", j.jobID, "file", j.identity)
					res, err := i.Ingest(j.ctx, j.data, j.identity, j.jobID)
					j.done <- ingestOutcome{res: res, err: err}
				}
			}
		})
	}
}

// stop refuses new submissions and fails every job still waiting in the queue.
func (i *DocumentIngestor) stop() {
	i.quitOnce.Do(func() { close(i.quit) })
	i.startMu.Lock()
	i.stopped = true
	i.startMu.Unlock()

	for {
		select {
		case j := <-i.jobs:
			i.log.Warn("dropping queued ingestion on shutdown", "job_id", j.jobID, "file", j.identity)
			j.done <- ingestOutcome{err: ErrStopped}
		default:
			return
		}
	}
}

// Wait blocks until every worker has returned.
func (i *DocumentIngestor) Wait() {
	_ = i.workers.Wait()
}

// Submit queues an ingestion and waits for its outcome. If ctx ends first Submit returns ctx.Err(),
// but a job that was already queued still runs to completion.
func (i *DocumentIngestor) Submit(ctx context.Context, data []byte, identity, jobID string) (*models.IngestResult, error) {
	jobCtx := context.WithoutCancel(ctx)

	j := ingestJob{ctx: jobCtx, data: data, identity: identity, jobID: jobID, done: make(chan ingestOutcome, 1)}

	// the read lock is held while enqueueing so stop never drains before a concurrent enqueue lands
	i.startMu.RLock()
	if !i.started {
		i.startMu.RUnlock()
		return i.Ingest(jobCtx, data, identity, jobID)
	}
	if i.stopped {
		i.startMu.RUnlock()
		return nil, ErrStopped
	}
	select {
	case i.jobs <- j:
	case <-ctx.Done():
		i.startMu.RUnlock()
		return nil, ctx.Err()
	case <-i.quit:
		i.startMu.RUnlock()
		return nil, ErrStopped
	}
	i.startMu.RUnlock()

	select {
	case out := <-j.done:
		return out.res, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ingest hashes, extracts, chunks, embeds and stores one payload under identity, reporting each step on jobID.
// A payload whose hash matches the stored document is not processed again.
func (i *DocumentIngestor) Ingest(ctx context.Context, data []byte, identity, jobID string) (res *models.IngestResult, err error) {
	start := time.Now()
	if jobID != "" {
		i.progress.Open(jobID, identity)
		defer i.progress.CloseAfter(jobID, i.cfg.ProgressGrace)
	}
	defer func() {
		if err != nil {
			i.log.Error("ingest failed", "file", identity, "job_id", jobID, "error", err)
			i.publish(jobID, progress.ErrorPrefix+progressMessage(err))
			i.metrics.ObserveIngest("error", time.Since(start))
			return
		}
		i.metrics.ObserveIngest(string(res.Status), time.Since(start))
	}()

	i.publish(jobID, fmt.Sprintf("Uploading %s...", identity))

	ext := Extension(identity)
	if !SupportedExtension(ext) {
		return nil, core.ValidationError("Unsupported file type: %s", ext)
	}
	if i.cfg.MaxFileSize > 0 && int64(len(data)) > i.cfg.MaxFileSize {
		return nil, core.ValidationError("File too large")
	}
	i.log.Info("ingest started", "file", identity, "bytes", len(data))

	hash := HashContent(data)
	existing, err := i.db.GetDocumentByFilename(ctx, identity)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.FileHash == hash {
		i.log.Info("document unchanged, skipping", "file", identity)
		i.publish(jobID, progress.CompletePrefix+"Already indexed")
		return &models.IngestResult{Filename: identity, Status: models.IngestUnchanged, ChunkCount: existing.ChunkCount, JobID: jobID}, nil
	}

	i.publish(jobID, fmt.Sprintf("Extracting text from %s...", identity))
	text, err := i.extractor.ExtractText(ctx, data, identity, jobID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, core.ValidationError("Could not extract text")
	}

	i.publish(jobID, fmt.Sprintf("Chunking text from %s...", identity))
	chunks, err := ChunkText(text, i.cfg.ChunkSize, i.cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	i.log.Info("text chunked", "file", identity, "chars", len(text), "chunks", len(chunks))

	i.publish(jobID, fmt.Sprintf("Generating embeddings for %s...", identity))
	vectors, err := i.embedder.EmbedTexts(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(chunks) {
		return nil, core.InternalError(nil, "embedding service returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	if dim := i.embedder.Dimension(); dim > 0 {
		for n, v := range vectors {
			if len(v) != dim {
				return nil, core.InternalError(nil, "embedding %d has %d dimensions, index expects %d", n, len(v), dim)
			}
		}
	}

	i.publish(jobID, "Saving to database...")
	storageKey := i.storeOriginal(ctx, hash, identity, data)

	doc := &models.Document{
		Filename:   identity,
		FileHash:   hash,
		FileSize:   int64(len(data)),
		StorageKey: storageKey,
		ChunkCount: len(chunks),
	}
	rows := make([]models.Chunk, len(chunks))
	for n, c := range chunks {
		rows[n] = models.Chunk{Filename: identity, ChunkIndex: n, Content: c, Embedding: vectors[n]}
	}
	if err := i.db.ReplaceDocument(ctx, existing, doc, rows); err != nil {
		if storageKey != "" && (existing == nil || existing.StorageKey != storageKey) {
			i.deleteObject(ctx, storageKey)
		}
		return nil, err
	}
	if existing != nil && existing.StorageKey != "" && existing.StorageKey != storageKey {
		i.deleteObject(ctx, existing.StorageKey)
	}
	i.metrics.AddChunks(len(chunks))

	status := models.IngestCreated
	if existing != nil {
		status = models.IngestUpdated
	}
	i.log.Info("document indexed", "file", identity, "chunks", len(chunks), "status", status)
	i.publish(jobID, progress.CompletePrefix+fmt.Sprintf("%s uploaded successfully.", identity))
	return &models.IngestResult{Filename: identity, Status: status, ChunkCount: len(chunks), JobID: jobID}, nil
}

func (i *DocumentIngestor) publish(jobID, status string) {
	if jobID != "" {
		i.progress.Publish(jobID, status)
	}
}

// StorageKey is the object key of an original payload. Keys are scoped by identity
// so documents with identical bytes never share an object.
func StorageKey(hash, identity string) string {
	return "originals/" + HashContent([]byte(identity)) + "/" + hash + "/" + path.Base(identity)
}

// storeOriginal uploads the payload to object storage and returns its key, or "" when storage is off or fails.
func (i *DocumentIngestor) storeOriginal(ctx context.Context, hash, identity string, data []byte) string {
	if i.obj == nil {
		return ""
	}
	key := StorageKey(hash, identity)
	contentType := mime.TypeByExtension(Extension(identity))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := i.obj.UploadFile(ctx, key, data, contentType); err != nil {
		i.log.Warn("could not store original payload", "file", identity, "key", key, "error", err)
		return ""
	}
	return key
}

func (i *DocumentIngestor) deleteObject(ctx context.Context, key string) {
	if i.obj == nil {
		return
	}
	if err := i.obj.DeleteFile(ctx, key); err != nil {
		i.log.Warn("could not delete stored object", "key", key, "error", err)
	}
}

// progressMessage is the text published after the error: prefix.
func progressMessage(err error) string {
	var e *core.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
