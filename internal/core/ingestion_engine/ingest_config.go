package ingestion_engine

import (
	"path/filepath"
	"strings"
	"time"
)

// IngestConfig carries the tunables of the ingestion pipeline.
type IngestConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	MaxFileSize   int64
	ProgressGrace time.Duration
}

// ExtractConfig carries the tunables of the format extractors.
type ExtractConfig struct {
	PDFBatchSize   int
	PDFMaxBatches  int // 0 means no cap
	PDFLargeBytes  int64
	PDFLargePages  int
	ImageMaxBytes  int
	ExtractTimeout time.Duration
}

// DefaultExtractConfig mirrors the configuration defaults.
func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		PDFBatchSize:   20,
		PDFLargeBytes:  5 << 20,
		PDFLargePages:  50,
		ImageMaxBytes:  5 << 20,
		ExtractTimeout: 5 * time.Minute,
	}
}

// ProgressReporter receives job status lines; *progress.Hub satisfies it.
type ProgressReporter interface {
	Open(jobID, filename string)
	Publish(jobID, status string)
	CloseAfter(jobID string, grace time.Duration)
}

type nopReporter struct{}

func (nopReporter) Open(string, string)              {}
func (nopReporter) Publish(string, string)           {}
func (nopReporter) CloseAfter(string, time.Duration) {}

var (
	textExtensions = map[string]bool{".md": true, ".txt": true, ".org": true, ".rst": true, ".html": true, ".htm": true}

	imageMediaTypes = map[string]string{
		".png":  "image/png",
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".gif":  "image/gif",
		".webp": "image/webp",
	}
)

// Extension returns the lower-cased extension of name, including the dot.
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// SupportedExtension reports whether files with this extension can be ingested.
func SupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	if textExtensions[ext] {
		return true
	}
	if _, ok := imageMediaTypes[ext]; ok {
		return true
	}
	return ext == ".pdf" || ext == ".docx" || ext == ".odt"
}

// SupportedExtensions lists every accepted extension.
func SupportedExtensions() []string {
	return []string{
		".pdf", ".docx", ".odt",
		".md", ".txt", ".org", ".rst", ".html", ".htm",
		".png", ".jpg", ".jpeg", ".gif", ".webp",
	}
}
