package normalizer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"ltvsync/internal/models"
)

// ChunkSize is the number of values sent to the transform per call.
const ChunkSize = 500

// ErrLengthMismatch is returned when the transform answers with the wrong number of values.
var ErrLengthMismatch = errors.New("normalization length mismatch")

// Transform maps a chunk of raw values onto 0-100 percentile scores.
// min and max describe the chunk and are passed for context only.
type Transform interface {
	Rank(ctx context.Context, values []float64, min, max float64) ([]int, error)
}

// Normalizer rescales raw LTV values through a Transform.
type Normalizer struct {
	transform Transform
	chunkSize int
	logger    *zap.Logger
}

func New(transform Transform, logger *zap.Logger) *Normalizer {
	return &Normalizer{transform: transform, chunkSize: ChunkSize, logger: logger}
}

// Normalize returns one score in [0,100] per input value, in input order.
func (n *Normalizer) Normalize(ctx context.Context, values []float64) ([]int, error) {
	if len(values) == 0 {
		return []int{}, nil
	}
	if len(values) == 1 {
		return []int{50}, nil
	}

	total := (len(values) + n.chunkSize - 1) / n.chunkSize
	out := make([]int, 0, len(values))
	for i := 0; i < len(values); i += n.chunkSize {
		end := i + n.chunkSize
		if end > len(values) {
			end = len(values)
		}
		chunk := values[i:end]
		lo, hi := minMax(chunk)

		n.logger.Info("Normalizing chunk",
			zap.Int("chunk", i/n.chunkSize+1),
			zap.Int("chunks", total),
			zap.Int("values", len(chunk)))

		scores, err := n.transform.Rank(ctx, chunk, lo, hi)
		if err != nil {
			return nil, fmt.Errorf("normalize chunk %d/%d: %w", i/n.chunkSize+1, total, err)
		}
		if len(scores) != len(chunk) {
			return nil, fmt.Errorf("%w: transform returned %d values but expected %d", ErrLengthMismatch, len(scores), len(chunk))
		}
		for _, s := range scores {
			out = append(out, clamp(s))
		}
	}

	n.logger.Info("Normalization complete", zap.Int("values", len(out)))
	return out, nil
}

// Summarize computes raw-value statistics and the 10-bucket distribution of scores.
func Summarize(raw []float64, scores []int) models.NormalizationStats {
	stats := models.NormalizationStats{
		Count:        len(raw),
		Distribution: make([]int, 10),
	}
	if len(raw) > 0 {
		stats.MinLTV, stats.MaxLTV = minMax(raw)
		stats.MedianLTV = median(raw)
		var sum float64
		for _, v := range raw {
			sum += v
		}
		stats.MeanLTV = sum / float64(len(raw))
	}
	for _, s := range scores {
		bucket := s / 10
		if bucket > 9 {
			bucket = 9
		}
		if bucket < 0 {
			bucket = 0
		}
		stats.Distribution[bucket]++
	}
	return stats
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
