package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/markdave123-py/knosi/internal/core"
	"github.com/markdave123-py/knosi/internal/metrics"
)

// Gate bounds the number of in-flight model calls across the process and records their latency.
type Gate struct {
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
}

func NewGate(concurrency int, m *metrics.Metrics) *Gate {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(concurrency)), metrics: m}
}

// Do runs fn once a slot is free. call labels the latency metric.
func (g *Gate) Do(ctx context.Context, call string, fn func(ctx context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return classify(ctx, err, call)
	}
	defer g.sem.Release(1)

	start := time.Now()
	err := fn(ctx)
	kind := ""
	if err != nil {
		kind = core.KindOf(err).String()
	}
	g.metrics.ObserveUpstream(call, time.Since(start), kind)
	return err
}

// classify maps a Gemini client error onto the shared error kinds.
func classify(ctx context.Context, err error, call string) error {
	var blocked *genai.BlockedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &blocked):
		return core.UpstreamPolicyError(err, "%s request blocked by the content filtering policy", call)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		status.Code(err) == codes.DeadlineExceeded:
		return core.UpstreamTimeoutError(err, "%s request timed out", call)
	case core.KindOf(err) != core.KindInternal:
		return err
	default:
		return core.InternalError(err, "gemini %s", call)
	}
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
