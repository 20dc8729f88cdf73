package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/HanTheDev/embedding-service/internal/auth"
	"github.com/HanTheDev/embedding-service/internal/cache"
	"github.com/HanTheDev/embedding-service/internal/embed"
	"github.com/HanTheDev/embedding-service/internal/models"
	"github.com/HanTheDev/embedding-service/internal/ratelimit"
)

// EmbedRequest is the /v1/embed request body.
type EmbedRequest struct {
	Text      string `json:"text"`
	Normalize bool   `json:"normalize"`
}

// EmbedResponse is the /v1/embed success body.
type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	Tokens    int       `json:"tokens"`
	Cached    bool      `json:"cached"`
	LatencyMs float64   `json:"latency_ms"`
}

// ErrorResponse carries a stable machine-readable kind plus a human
// message. Internal detail never leaks here.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": version,
		"model":   s.cfg.ModelID,
	})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := newRequestID()

	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_api_key", "missing identity")
		return
	}

	var req EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body must be JSON with a text field")
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text cannot be empty or only whitespace")
		return
	}
	if len(req.Text) > s.cfg.MaxTextChars {
		writeError(w, http.StatusBadRequest, "invalid_request",
			fmt.Sprintf("text exceeds %d characters", s.cfg.MaxTextChars))
		return
	}

	// Cheap pre-tokenizer guard: ~4 chars per token for BERT-style
	// tokenizers, with a 2x buffer before rejecting outright.
	maxTokens := identity.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxTokens
	}
	if estimated := len(req.Text) / 4; estimated > maxTokens*2 {
		writeError(w, http.StatusBadRequest, "text_too_long",
			fmt.Sprintf("input text too long (estimated ~%d tokens, max %d)", estimated, maxTokens))
		return
	}

	s.recorder.RecordStarted(models.RequestStarted{
		RequestID:      requestID,
		OrganizationID: identity.OrganizationID,
		APIKeyID:       identity.APIKeyID,
		Product:        "embeddings",
		Endpoint:       "/v1/embed",
		InputText:      req.Text,
		Normalize:      req.Normalize,
	})

	limit, err := s.limiter.Allow(r.Context(), identity)
	if err != nil {
		s.completeRequest(requestID, identity, models.StatusError, 0, false, start)
		writeError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable", "quota check is temporarily unavailable")
		return
	}
	setRateLimitHeaders(w, limit)
	if !limit.Allowed {
		s.completeRequest(requestID, identity, models.StatusError, 0, false, start)
		w.Header().Set("Retry-After", strconv.FormatInt(int64(limit.RetryAfter.Seconds()), 10))
		writeError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "monthly quota exhausted")
		return
	}

	key := cache.Fingerprint(req.Text, req.Normalize, s.cfg.ModelID)

	entry, tier, hit := s.cache.Lookup(r.Context(), key)
	if !hit {
		entry, err = s.resolveMiss(r.Context(), key, req.Text, req.Normalize)
		if err != nil {
			s.completeRequest(requestID, identity, models.StatusError, 0, false, start)
			writeInferenceError(w, err)
			return
		}
	} else {
		s.logger.Debug("cache hit",
			zap.String("key", key.String()), zap.String("tier", string(tier)))
	}

	latency := float64(time.Since(start).Microseconds()) / 1000.0

	s.recorder.RecordCompleted(models.RequestCompleted{
		RequestID:      requestID,
		OrganizationID: identity.OrganizationID,
		APIKeyID:       identity.APIKeyID,
		Product:        "embeddings",
		Status:         models.StatusSuccess,
		Tokens:         entry.Tokens,
		Cached:         hit,
		LatencyMs:      latency,
	})

	writeJSON(w, http.StatusOK, EmbedResponse{
		Embedding: entry.Vector,
		Model:     entry.ModelID,
		Tokens:    entry.Tokens,
		Cached:    hit,
		LatencyMs: latency,
	})
}

// resolveMiss runs inference and fills both cache tiers. Concurrent
// misses for the same fingerprint share one inference call. The
// inference itself is detached from the client's cancellation: a
// disconnect mid-request must not waste the model work for the peers
// sharing the flight.
func (s *Server) resolveMiss(ctx context.Context, key cache.Key, text string, normalize bool) (*models.CacheEntry, error) {
	v, err, _ := s.inflight.Do(key.String(), func() (interface{}, error) {
		result, err := s.embedder.Encode(context.WithoutCancel(ctx), text, normalize)
		if err != nil {
			return nil, err
		}

		entry := &models.CacheEntry{
			Vector:  result.Vector,
			Tokens:  result.Tokens,
			ModelID: result.ModelID,
		}
		s.cache.Store(ctx, key, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.CacheEntry), nil
}

func (s *Server) completeRequest(requestID uuid.UUID, identity *models.Identity, status models.RequestStatus, tokens int, cached bool, start time.Time) {
	s.recorder.RecordCompleted(models.RequestCompleted{
		RequestID:      requestID,
		OrganizationID: identity.OrganizationID,
		APIKeyID:       identity.APIKeyID,
		Product:        "embeddings",
		Status:         status,
		Tokens:         tokens,
		Cached:         cached,
		LatencyMs:      float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func setRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	if result.Limit <= 0 {
		// Enterprise bypass: no quota, no headers.
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeInferenceError(w http.ResponseWriter, err error) {
	if errors.Is(err, embed.ErrTextTooLong) {
		writeError(w, http.StatusBadRequest, "text_too_long", "input text too long for the model")
		return
	}
	writeError(w, http.StatusBadGateway, "inference_failed", "failed to generate embedding")
}

func newRequestID() uuid.UUID {
	// Time-ordered ids keep the request log roughly append-ordered.
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message})
}
