// Package embedding drives the embedding backend in token-bounded batches
// and returns unit-length vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatpdf/internal/budget"
)

const (
	DefaultMaxTokensPerBatch = 50000
	DefaultBatchTimeout      = 60 * time.Second

	sampleSize     = 10
	minBatchTexts  = 20
	maxBatchTexts  = 40
	safetyFactor   = 0.7
	normEpsilon    = 1e-12
	fallbackBatchN = 20
)

var (
	ErrNoVectors         = errors.New("embedding backend returned no vectors")
	ErrInconsistentWidth = errors.New("embedding vectors have inconsistent width")
)

// Backend embeds one batch; the result has one vector per text, in order.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	MaxTokensPerBatch int
	BatchTimeout      time.Duration
}

type Batcher struct {
	backend Backend
	counter budget.Counter
	opts    Options
	logger  zerolog.Logger
}

func NewBatcher(backend Backend, counter budget.Counter, opts Options, logger zerolog.Logger) *Batcher {
	if opts.MaxTokensPerBatch <= 0 {
		opts.MaxTokensPerBatch = DefaultMaxTokensPerBatch
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	return &Batcher{
		backend: backend,
		counter: counter,
		opts:    opts,
		logger:  logger.With().Str("component", "embedding").Logger(),
	}
}

// Result holds the vectors of the texts that were embedded. Indices[i] is the
// position in the input of the text behind Vectors[i]; empty and oversized
// texts have no entry.
type Result struct {
	Vectors [][]float32
	Indices []int
}

func (r *Result) Dimension() int {
	if r == nil || len(r.Vectors) == 0 {
		return 0
	}
	return len(r.Vectors[0])
}

type pending struct {
	texts   []string
	indices []int
	tokens  int
}

// Embed embeds texts batch by batch. Any backend failure aborts the whole call.
func (b *Batcher) Embed(ctx context.Context, texts []string) (*Result, error) {
	valid := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			valid = append(valid, i)
		}
	}
	result := &Result{}
	if len(valid) == 0 {
		return result, nil
	}

	limit := b.opts.MaxTokensPerBatch
	capacity := b.batchCapacity(texts, valid)

	var batch pending
	send := func() error {
		if len(batch.texts) == 0 {
			return nil
		}
		vectors, err := b.send(ctx, batch.texts)
		if err != nil {
			return err
		}
		result.Vectors = append(result.Vectors, vectors...)
		result.Indices = append(result.Indices, batch.indices...)
		batch = pending{}
		return nil
	}

	for _, idx := range valid {
		tokens := b.counter.Count(texts[idx])
		if tokens > limit {
			b.logger.Warn().Int("index", idx).Int("tokens", tokens).Int("limit", limit).Msg("text exceeds batch token limit, skipping")
			continue
		}
		if len(batch.texts) > 0 && (batch.tokens+tokens > limit || len(batch.texts) >= capacity) {
			if err := send(); err != nil {
				return nil, err
			}
		}
		batch.texts = append(batch.texts, texts[idx])
		batch.indices = append(batch.indices, idx)
		batch.tokens += tokens
	}
	if err := send(); err != nil {
		return nil, err
	}

	if err := normalize(result.Vectors); err != nil {
		return nil, err
	}
	return result, nil
}

// EmbedQuery embeds a single text.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	result, err := b.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(result.Vectors) == 0 {
		return nil, ErrNoVectors
	}
	return result.Vectors[0], nil
}

func (b *Batcher) send(ctx context.Context, texts []string) ([][]float32, error) {
	batchCtx, cancel := context.WithTimeout(ctx, b.opts.BatchTimeout)
	defer cancel()

	started := time.Now()
	vectors, err := b.backend.EmbedBatch(batchCtx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d texts failed: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed batch of %d texts returned %d vectors: %w", len(texts), len(vectors), ErrNoVectors)
	}
	b.logger.Debug().Int("texts", len(texts)).Dur("took", time.Since(started)).Msg("embedded batch")
	return vectors, nil
}

// batchCapacity derives the per-batch text cap from the average size of a
// leading sample.
func (b *Batcher) batchCapacity(texts []string, valid []int) int {
	n := min(sampleSize, len(valid))
	total := 0
	for _, idx := range valid[:n] {
		total += b.counter.Count(texts[idx])
	}
	avg := float64(total) / float64(n)

	capacity := fallbackBatchN
	if avg > 0 {
		capacity = max(1, int(float64(b.opts.MaxTokensPerBatch)*safetyFactor/avg))
	}
	return max(minBatchTexts, min(capacity, maxBatchTexts))
}

func normalize(vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	width := len(vectors[0])
	if width == 0 {
		return ErrNoVectors
	}
	for _, v := range vectors {
		if len(v) != width {
			return ErrInconsistentWidth
		}
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		norm := math.Sqrt(sum) + normEpsilon
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return nil
}
