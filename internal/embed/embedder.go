// Package embed defines the inference collaborator: a black box that
// turns text into a fixed-dimension vector plus a token count.
package embed

import (
	"context"
	"errors"
)

// Result is one inference outcome. Deterministic for a fixed
// (text, normalize, model) triple.
type Result struct {
	Vector  []float32 `json:"embedding"`
	Tokens  int       `json:"tokens"`
	ModelID string    `json:"model"`
}

// Inference failures, distinguished so the HTTP surface can answer
// 4xx for input-shape problems and 5xx for model/runtime ones.
var (
	ErrTextTooLong = errors.New("input text too long")
	ErrInference   = errors.New("inference failed")
)

// Embedder produces embeddings for text.
type Embedder interface {
	Encode(ctx context.Context, text string, normalize bool) (*Result, error)
	ModelID() string
}
