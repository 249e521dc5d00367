package outbound

import (
	"context"
	"time"
)

// EmbeddingRequest describes the source content to embed.
type EmbeddingRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Content    string `json:"content"`
	Model      string `json:"model,omitempty"`
}

// EmbeddingResult is a successful provider response.
type EmbeddingResult struct {
	Vector     []float64     `json:"vector"`
	Dimensions int           `json:"dimensions"`
	Model      string        `json:"model"`
	TokenCount int           `json:"token_count,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// EmbeddingProvider is the opaque, rate-limited external embedding service.
// Implementations return typed errors so callers can distinguish rate-limit
// signals (routed to the rate_limited state, never counted as failures)
// from transient and permanent errors.
type EmbeddingProvider interface {
	// Name identifies the provider for rate-limit bookkeeping.
	Name() string

	// GenerateEmbedding turns source content into a vector. Calls are
	// bounded by the context deadline; a timeout is a retryable failure.
	GenerateEmbedding(ctx context.Context, request EmbeddingRequest) (*EmbeddingResult, error)
}
