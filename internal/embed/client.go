package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Client calls the embedding model service over HTTP. Transport faults
// and 5xx answers are retried with exponential backoff behind a circuit
// breaker, so a dead model service sheds load fast instead of tying up
// request goroutines in retry loops.
type Client struct {
	baseURL    string
	modelID    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

type encodeRequest struct {
	Text      string `json:"text"`
	Normalize bool   `json:"normalize"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewClient builds an HTTP embedder against baseURL.
func NewClient(baseURL, modelID string, logger *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "embed",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embed circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{
		baseURL: baseURL,
		modelID: modelID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: breaker,
		logger:  logger,
	}
}

// ModelID returns the model this client serves.
func (c *Client) ModelID() string {
	return c.modelID
}

// Encode requests an embedding for text. Input-shape rejections come
// back as ErrTextTooLong and are never retried; transient failures are
// retried up to three times before counting against the breaker.
func (c *Client) Encode(ctx context.Context, text string, normalize bool) (*Result, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var result *Result
		op := func() error {
			var opErr error
			result, opErr = c.encodeOnce(ctx, text, normalize)
			return opErr
		}

		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		if err := backoff.Retry(op, policy); err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrInference)
		}
		return nil, err
	}
	return out.(*Result), nil
}

func (c *Client) encodeOnce(ctx context.Context, text string, normalize bool) (*Result, error) {
	body, err := json.Marshal(encodeRequest{Text: text, Normalize: normalize})
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrInference, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var eb errorBody
		json.Unmarshal(respBody, &eb)
		if eb.Error == "text_too_long" {
			return nil, backoff.Permanent(ErrTextTooLong)
		}
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrInference, eb.Message))
	default:
		return nil, fmt.Errorf("%w: status %d", ErrInference, resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInference, err)
	}
	if result.ModelID == "" {
		result.ModelID = c.modelID
	}
	return &result, nil
}
