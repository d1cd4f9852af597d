package ingestion_engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/markdave123-py/knosi/internal/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type visionCall struct {
	payload  string
	mimeType string
}

type fakeVision struct {
	mu    sync.Mutex
	calls []visionCall
	// failOn makes the n-th call (1-based) return err.
	failOn int
	err    error
}

func (f *fakeVision) ExtractFromBinary(_ context.Context, data []byte, mimeType, _ string) (*core.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, visionCall{payload: string(data), mimeType: mimeType})
	n := len(f.calls)
	if f.failOn == n || (f.failOn == 0 && f.err != nil) {
		return nil, f.err
	}
	return &core.ExtractionResult{Text: fmt.Sprintf("text-%d", n), InputTokens: 10, OutputTokens: 5}, nil
}

func (f *fakeVision) Calls() []visionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]visionCall(nil), f.calls...)
}

type fakeToolkit struct {
	pages     int
	unlockErr error
	countErr  error
	mu        sync.Mutex
	ranges    []string
}

func (f *fakeToolkit) Unlock(data []byte) ([]byte, error) {
	if f.unlockErr != nil {
		return nil, f.unlockErr
	}
	return data, nil
}

func (f *fakeToolkit) PageCount([]byte) (int, error) {
	return f.pages, f.countErr
}

func (f *fakeToolkit) ExtractPages(_ []byte, first, last int) ([]byte, error) {
	r := fmt.Sprintf("%d-%d", first, last)
	f.mu.Lock()
	f.ranges = append(f.ranges, r)
	f.mu.Unlock()
	return []byte("pages " + r), nil
}

type countingThrottler struct {
	mu sync.Mutex
	n  int
}

func (c *countingThrottler) Throttle(context.Context) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func (c *countingThrottler) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type recordingReporter struct {
	mu       sync.Mutex
	opened   []string
	statuses []string
	closed   []string
}

func (r *recordingReporter) Open(jobID, filename string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, jobID)
}

func (r *recordingReporter) Publish(_ string, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingReporter) CloseAfter(jobID string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, jobID)
}

func (r *recordingReporter) Statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}
