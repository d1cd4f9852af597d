package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/knosi/internal/config"
	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/models"
)

var _ core.DbClient = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db *sql.DB
}

// NewClient returns the in-memory store for DATABASE_URL=memory and the Postgres client otherwise.
func NewClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg != nil && cfg.DatabaseURL == config.MemoryDatabaseURL {
		return NewMemoryClient(), nil
	}
	return NewDatabaseClient(ctx, cfg)
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, core.ConfigurationError("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, core.ConfigurationError("ssl cert not accessible at %q: %v", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, core.ConfigurationError("invalid DATABASE_URL: %v", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const documentColumns = `id, filename, file_hash, file_size, storage_key, chunk_count, indexed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(r rowScanner) (*models.Document, error) {
	var d models.Document
	if err := r.Scan(&d.ID, &d.Filename, &d.FileHash, &d.FileSize, &d.StorageKey, &d.ChunkCount, &d.IndexedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByFilename(ctx context.Context, filename string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE filename = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %q: %w", filename, err)
	}
	return d, nil
}

func (c *DatabaseClient) ListDocuments(ctx context.Context) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents ORDER BY indexed_at DESC, id DESC`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ReplaceDocument swaps the stored version of doc.Filename for doc and its chunks in a single transaction.
func (c *DatabaseClient) ReplaceDocument(ctx context.Context, old *models.Document, doc *models.Document, chunks []models.Chunk) error {
	if doc == nil {
		return errors.New("nil document")
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if old != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, old.ID); err != nil {
			return fmt.Errorf("delete old chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, old.ID); err != nil {
			return fmt.Errorf("delete old document: %w", err)
		}
	}

	const insertDoc = `
		INSERT INTO documents (filename, file_hash, file_size, storage_key, chunk_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, indexed_at
	`
	if err := tx.QueryRowContext(ctx, insertDoc,
		doc.Filename, doc.FileHash, doc.FileSize, doc.StorageKey, doc.ChunkCount,
	).Scan(&doc.ID, &doc.IndexedAt); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if len(chunks) > 0 {
		const insertChunk = `
			INSERT INTO chunks (document_id, filename, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`
		stmt, err := tx.PrepareContext(ctx, insertChunk)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range chunks {
			ch := &chunks[i]
			ch.DocumentID = doc.ID
			if _, err := stmt.ExecContext(ctx,
				ch.DocumentID, ch.Filename, ch.ChunkIndex, ch.Content, pgvector.NewVector(ch.Embedding),
			); err != nil {
				return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
			}
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteDocumentByFilename(ctx context.Context, filename string) (*models.Document, error) {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT ` + documentColumns + ` FROM documents WHERE filename = $1 FOR UPDATE`
	d, err := scanDocument(tx.QueryRowContext(ctx, q, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.NotFoundError("document not found: %s", filename)
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, d.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, d.ID); err != nil {
		return nil, err
	}
	return d, tx.Commit()
}

// SearchChunks returns the chunks nearest to queryVec by cosine distance.
func (c *DatabaseClient) SearchChunks(ctx context.Context, queryVec []float32, limit int) ([]models.ScoredChunk, error) {
	const q = `
		SELECT filename, content, chunk_index, embedding <=> $1 AS distance
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	out := []models.ScoredChunk{}
	for rows.Next() {
		var sc models.ScoredChunk
		if err := rows.Scan(&sc.Filename, &sc.Content, &sc.ChunkIndex, &sc.Distance); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) Stats(ctx context.Context) (models.IndexStats, error) {
	var s models.IndexStats
	err := c.db.QueryRowContext(ctx, `SELECT (SELECT count(*) FROM documents), (SELECT count(*) FROM chunks)`).
		Scan(&s.DocumentCount, &s.ChunkCount)
	return s, err
}
