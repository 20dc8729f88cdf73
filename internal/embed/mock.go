package embed

import (
	"context"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MockEmbedder is a deterministic embedder for tests: the same text
// always yields the same vector, derived from a hash of the text. Token
// count is the whitespace-split word count.
type MockEmbedder struct {
	dimensions int
	modelID    string
}

// NewMockEmbedder returns a mock producing vectors of the given
// dimension (384 when <= 0, matching the real model).
func NewMockEmbedder(dimensions int, modelID string) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	if modelID == "" {
		modelID = "mock-embedder"
	}
	return &MockEmbedder{dimensions: dimensions, modelID: modelID}
}

func (e *MockEmbedder) Encode(ctx context.Context, text string, normalize bool) (*Result, error) {
	seed := xxhash.Sum64String(text)
	vec := make([]float32, e.dimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(seed%100000)*float64(i+1)) * 0.1)
	}

	if normalize {
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		if sum > 0 {
			norm := 1.0 / math.Sqrt(sum)
			for i := range vec {
				vec[i] *= float32(norm)
			}
		}
	}

	return &Result{
		Vector:  vec,
		Tokens:  len(strings.Fields(text)),
		ModelID: e.modelID,
	}, nil
}

func (e *MockEmbedder) ModelID() string {
	return e.modelID
}
