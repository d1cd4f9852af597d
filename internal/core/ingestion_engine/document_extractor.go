package ingestion_engine

import (
	"context"
	"log/slog"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/metrics"
)

const (
	pdfInstruction   = "Extract all text content from this PDF document. Preserve the structure including headings, paragraphs, and lists. Output only the extracted text, no commentary."
	imageInstruction = "Extract all text content from this image. If the image contains diagrams, charts, or visual information, describe them. Output only the extracted text and descriptions, no commentary."
)

var _ core.DocumentExtractor = (*DocumentExtractor)(nil)

// DocumentExtractor picks a parsing strategy from the file extension.
// PDFs and images go through the vision model; everything else is parsed locally.
type DocumentExtractor struct {
	vision   core.VisionExtractor
	pdf      PDFToolkit
	throttle Throttler
	progress ProgressReporter
	metrics  *metrics.Metrics
	cfg      ExtractConfig
	log      *slog.Logger
}

// NewDocumentExtractor wires the extractor. vision may be nil, in which case PDFs and images fail with a
// configuration error; throttle and progress may be nil.
func NewDocumentExtractor(vision core.VisionExtractor, pdf PDFToolkit, throttle Throttler, progress ProgressReporter, m *metrics.Metrics, cfg ExtractConfig, log *slog.Logger) *DocumentExtractor {
	if log == nil {
		log = slog.Default()
	}
	if throttle == nil {
		throttle = NewRateLimiter(0, log)
	}
	if progress == nil {
		progress = nopReporter{}
	}
	if pdf == nil {
		pdf = NewPDFToolkit()
	}
	def := DefaultExtractConfig()
	if cfg.PDFBatchSize <= 0 {
		cfg.PDFBatchSize = def.PDFBatchSize
	}
	if cfg.PDFLargeBytes <= 0 {
		cfg.PDFLargeBytes = def.PDFLargeBytes
	}
	if cfg.PDFLargePages <= 0 {
		cfg.PDFLargePages = def.PDFLargePages
	}
	return &DocumentExtractor{
		vision:   vision,
		pdf:      pdf,
		throttle: throttle,
		progress: progress,
		metrics:  m,
		cfg:      cfg,
		log:      log,
	}
}

// ExtractText returns the plain text of data according to the extension of filename.
func (e *DocumentExtractor) ExtractText(ctx context.Context, data []byte, filename string, jobID string) (string, error) {
	ext := Extension(filename)
	switch {
	case ext == ".pdf":
		return e.extractPDF(ctx, data, filename, jobID)
	case ext == ".docx":
		return extractDocx(data)
	case ext == ".odt":
		return extractODT(data)
	case textExtensions[ext]:
		return decodeText(data)
	}
	if mediaType, ok := imageMediaTypes[ext]; ok {
		return e.extractImage(ctx, data, filename, mediaType)
	}
	return "", core.ValidationError("unsupported file type: %s", ext)
}

// transcribe runs one vision call under the extraction timeout.
func (e *DocumentExtractor) transcribe(ctx context.Context, data []byte, mimeType, instruction string) (string, error) {
	if e.vision == nil {
		return "", core.ConfigurationError("no vision model configured for %s content", mimeType)
	}
	if e.cfg.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ExtractTimeout)
		defer cancel()
	}
	res, err := e.vision.ExtractFromBinary(ctx, data, mimeType, instruction)
	if err != nil {
		return "", err
	}
	e.log.Debug("vision extraction done", "mime", mimeType, "input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)
	return res.Text, nil
}
