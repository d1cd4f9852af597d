package ingestion_engine

import (
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/knosi/internal/core"
)

// sentenceBreaks are tried in order when no paragraph break lands past the chunk midpoint.
var sentenceBreaks = []string{". ", ".\n", "? ", "!\n", "! "}

// ChunkText splits text into overlapping chunks of at most chunkSize bytes.
//
// Each cut prefers the last paragraph break ("\n\n") past the chunk's midpoint, then the last sentence end, then
// the hard size limit. Chunks are trimmed and empty ones dropped. The next chunk starts overlap bytes before the
// previous cut, measured from the tentative end when the window ran past the text.
func ChunkText(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, core.ConfigurationError("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, core.ConfigurationError("chunk overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	if text == "" {
		return []string{}, nil
	}
	if len(text) <= chunkSize {
		return []string{text}, nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end < len(text) {
			end = boundary(text, start, end, chunkSize)
		}

		if chunk := strings.TrimSpace(text[start:min(end, len(text))]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		// the cursor moves from the unclamped end, so a short tail window still follows the last full one
		next := end - overlap
		if next >= len(text) {
			break
		}
		next = runeStart(text, next)
		if next <= start {
			// a cut close to the midpoint with a wide overlap would not move the cursor
			next = end
		}
		start = next
	}
	return chunks, nil
}

// boundary picks where the chunk starting at start should end, given the tentative hard end.
func boundary(text string, start, end, chunkSize int) int {
	window := text[start:end]
	mid := start + chunkSize/2

	if i := strings.LastIndex(window, "\n\n"); i >= 0 && start+i > mid {
		return start + i + 2
	}
	for _, sep := range sentenceBreaks {
		if i := strings.LastIndex(window, sep); i >= 0 && start+i > mid {
			return start + i + len(sep)
		}
	}
	return runeStart(text, end)
}

// runeStart moves i back to the first byte of the rune containing it.
func runeStart(text string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(text) {
		return len(text)
	}
	for i > 0 && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}
