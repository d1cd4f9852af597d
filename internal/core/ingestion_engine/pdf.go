package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/markdave123-py/knosi/internal/core"
)

const pdfMimeType = "application/pdf"

func (e *DocumentExtractor) extractPDF(ctx context.Context, data []byte, filename, jobID string) (string, error) {
	if e.vision == nil {
		return "", core.ConfigurationError("no vision model configured for PDF extraction")
	}

	content := data
	if unlocked, err := e.pdf.Unlock(data); err != nil {
		e.log.Debug("pdf unlock skipped", "file", filename, "error", err)
	} else {
		content = unlocked
	}

	pages, err := e.pdf.PageCount(content)
	if err != nil {
		return "", core.ValidationError("could not read pdf %s: %v", filename, err)
	}
	e.log.Info("pdf loaded", "file", filename, "pages", pages, "bytes", len(data))

	if int64(len(data)) <= e.cfg.PDFLargeBytes && pages <= e.cfg.PDFLargePages {
		text, err := e.transcribe(ctx, content, pdfMimeType, pdfInstruction)
		if err != nil {
			return "", classifyExtraction(err, fmt.Sprintf("pages 1-%d", pages))
		}
		e.metrics.IncBatches()
		return text, nil
	}
	return e.extractPDFBatches(ctx, content, filename, jobID, pages)
}

// extractPDFBatches transcribes the document in consecutive page ranges, one throttled call per range.
func (e *DocumentExtractor) extractPDFBatches(ctx context.Context, content []byte, filename, jobID string, pages int) (string, error) {
	size := e.cfg.PDFBatchSize
	total := (pages + size - 1) / size
	batches := total
	if e.cfg.PDFMaxBatches > 0 && total > e.cfg.PDFMaxBatches {
		batches = e.cfg.PDFMaxBatches
		e.log.Warn("pdf batch limit reached, trailing pages are skipped", "file", filename, "batches", batches, "of", total)
	}
	e.log.Info("large pdf, extracting in batches", "file", filename, "batch_size", size, "batches", batches)

	parts := make([]string, 0, batches)
	for n := 1; n <= batches; n++ {
		first := (n-1)*size + 1
		last := min(n*size, pages)

		if jobID != "" {
			e.progress.Publish(jobID, fmt.Sprintf("Processing %s: Batch %d/%d (pages %d-%d)...", filename, n, batches, first, last))
		}
		if n > 1 {
			if err := e.throttle.Throttle(ctx); err != nil {
				return "", err
			}
		}

		part, err := e.pdf.ExtractPages(content, first, last)
		if err != nil {
			return "", core.InternalError(err, "split pdf pages %d-%d", first, last)
		}
		text, err := e.transcribe(ctx, part, pdfMimeType, pdfInstruction)
		if err != nil {
			return "", classifyExtraction(err, fmt.Sprintf("pages %d-%d", first, last))
		}
		e.metrics.IncBatches()
		parts = append(parts, text)
	}

	full := strings.Join(parts, "\n\n")
	e.log.Info("pdf extraction complete", "file", filename, "chars", len(full), "batches", len(parts))
	return full, nil
}

// classifyExtraction tags a vision failure with the unit that failed (a page range or an image).
func classifyExtraction(err error, unit string) error {
	switch kind := core.KindOf(err); {
	case kind == core.KindUpstreamTimeout || errors.Is(err, context.DeadlineExceeded):
		return core.UpstreamTimeoutError(err, "extraction service timed out on %s", unit)
	case kind == core.KindUpstreamPolicy:
		return core.UpstreamPolicyError(err, "%s was blocked by the content filtering policy", unit)
	case kind == core.KindConfiguration:
		return err
	default:
		return core.InternalError(err, "extraction failed on %s", unit)
	}
}
