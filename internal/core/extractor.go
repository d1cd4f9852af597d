package core

import "context"

// DocumentExtractor turns the raw bytes of an uploaded file into plain text.
// The filename's extension selects the parsing strategy; jobID, when non-empty, receives progress updates.
type DocumentExtractor interface {
	ExtractText(ctx context.Context, data []byte, filename string, jobID string) (string, error)
}
