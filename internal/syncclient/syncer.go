package syncclient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/knosi/internal/core/ingestion_engine"
)

const initialSyncParallelism = 4

// Remote is the server side of a sync.
type Remote interface {
	Upload(ctx context.Context, rel string, data []byte) (*UploadResult, error)
	Delete(ctx context.Context, rel string) (found bool, err error)
}

// Syncer mirrors the supported files under a vault directory into a Remote,
// keyed by their slash-separated path relative to the vault.
type Syncer struct {
	remote   Remote
	vault    string
	debounce time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	hashes map[string]string // rel path -> last uploaded content hash

	ready func() // called once the watch is established
}

func NewSyncer(remote Remote, vault string, debounce time.Duration, log *slog.Logger) (*Syncer, error) {
	abs, err := filepath.Abs(vault)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("vault path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("vault path is not a directory: %s", abs)
	}
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{remote: remote, vault: abs, debounce: debounce, log: log, hashes: make(map[string]string)}, nil
}

func (s *Syncer) Vault() string { return s.vault }

func (s *Syncer) relative(abs string) (string, error) {
	rel, err := filepath.Rel(s.vault, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the vault", abs)
	}
	return filepath.ToSlash(rel), nil
}

func supported(p string) bool {
	return ingestion_engine.SupportedExtension(ingestion_engine.Extension(p))
}

// SyncFile uploads the file at abs unless its content matches the last upload.
func (s *Syncer) SyncFile(ctx context.Context, abs string) error {
	rel, err := s.relative(abs)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	hash := ingestion_engine.HashContent(data)

	s.mu.Lock()
	unchanged := s.hashes[rel] == hash
	s.mu.Unlock()
	if unchanged {
		s.log.Debug("skipped (unchanged)", "path", rel)
		return nil
	}

	res, err := s.remote.Upload(ctx, rel, data)
	if err != nil {
		return fmt.Errorf("upload %s: %w", rel, err)
	}
	s.mu.Lock()
	s.hashes[rel] = hash
	s.mu.Unlock()
	s.log.Info("synced", "path", rel, "status", res.Status, "chunks", res.Chunks)
	return nil
}

// RemoveFile deletes the server copy of the file that lived at abs.
func (s *Syncer) RemoveFile(ctx context.Context, abs string) error {
	rel, err := s.relative(abs)
	if err != nil {
		return err
	}
	found, err := s.remote.Delete(ctx, rel)
	if err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	s.mu.Lock()
	delete(s.hashes, rel)
	s.mu.Unlock()
	if found {
		s.log.Info("deleted", "path", rel)
	} else {
		s.log.Info("already gone", "path", rel)
	}
	return nil
}

// walk calls onDir for every directory and onFile for every supported file under root,
// skipping hidden directories below root.
func (s *Syncer) walk(root string, onDir, onFile func(string)) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if onDir != nil {
				onDir(p)
			}
			return nil
		}
		if onFile != nil && d.Type().IsRegular() && supported(p) {
			onFile(p)
		}
		return nil
	})
}

// InitialSync uploads every supported file in the vault and returns how many were found.
// Individual failures are logged; a rejected API key stops the sync.
func (s *Syncer) InitialSync(ctx context.Context) (int, error) {
	var files []string
	if err := s.walk(s.vault, nil, func(p string) { files = append(files, p) }); err != nil {
		return 0, err
	}
	s.log.Info("starting initial sync", "vault", s.vault, "files", len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(initialSyncParallelism)
	for _, p := range files {
		g.Go(func() error {
			if err := s.SyncFile(gctx, p); err != nil {
				if errors.Is(err, ErrUnauthorized) {
					return err
				}
				s.log.Warn("initial sync failed for file", "path", p, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(files), err
	}
	s.log.Info("initial sync complete", "files", len(files))
	return len(files), nil
}

type pendingChange struct {
	at     time.Time
	remove bool
}

// Watch follows changes under the vault until ctx is done. Events are coalesced per path
// and acted on once the path has been quiet for the debounce interval.
func (s *Syncer) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	addDir := func(p string) {
		if err := w.Add(p); err != nil {
			s.log.Warn("failed to watch directory", "path", p, "error", err)
		}
	}
	if err := s.walk(s.vault, addDir, nil); err != nil {
		return err
	}
	s.log.Info("watching for changes", "vault", s.vault, "debounce", s.debounce)
	if s.ready != nil {
		s.ready()
	}

	pending := make(map[string]pendingChange)
	ticker := time.NewTicker(max(s.debounce/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			now := time.Now()
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					// a directory can arrive with files already inside
					_ = s.walk(ev.Name, addDir, func(p string) { pending[p] = pendingChange{at: now} })
					continue
				}
			}
			if !supported(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				pending[ev.Name] = pendingChange{at: now, remove: true}
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				pending[ev.Name] = pendingChange{at: now}
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Error("file watcher error", "vault", s.vault, "error", err)

		case now := <-ticker.C:
			for p, ch := range pending {
				if now.Sub(ch.at) < s.debounce {
					continue
				}
				delete(pending, p)
				s.apply(ctx, p, ch)
			}
		}
	}
}

func (s *Syncer) apply(ctx context.Context, p string, ch pendingChange) {
	var err error
	switch {
	case ch.remove:
		if _, statErr := os.Stat(p); statErr == nil {
			// replaced in place, e.g. by an editor's atomic save
			err = s.SyncFile(ctx, p)
		} else {
			err = s.RemoveFile(ctx, p)
		}
	default:
		if _, statErr := os.Stat(p); statErr != nil {
			return
		}
		err = s.SyncFile(ctx, p)
	}
	if err != nil {
		s.log.Error("sync failed", "path", p, "error", err)
	}
}
