package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientEncode(t *testing.T) {
	var gotBody encodeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embed", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(Result{
			Vector: []float32{0.1, 0.2, 0.3},
			Tokens: 7,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "all-MiniLM-L6-v2", zap.NewNop())
	result, err := c.Encode(context.Background(), "some text", true)
	require.NoError(t, err)

	assert.Equal(t, "some text", gotBody.Text)
	assert.True(t, gotBody.Normalize)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, result.Vector)
	assert.Equal(t, 7, result.Tokens)
	// The model service did not name itself, so the client fills it in.
	assert.Equal(t, "all-MiniLM-L6-v2", result.ModelID)
}

func TestClientRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(Result{Vector: []float32{1}, Tokens: 1, ModelID: "m"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", zap.NewNop())
	result, err := c.Encode(context.Background(), "text", false)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []float32{1}, result.Vector)
}

func TestClientTextTooLongIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorBody{Error: "text_too_long", Message: "too long"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", zap.NewNop())
	_, err := c.Encode(context.Background(), "text", false)

	require.ErrorIs(t, err, ErrTextTooLong)
	assert.Equal(t, int32(1), calls.Load(), "shape rejections are not retried")
}

func TestClientBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(errorBody{Error: "bad_input", Message: "rejected"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "m", zap.NewNop())
	for i := 0; i < 5; i++ {
		_, err := c.Encode(context.Background(), "text", false)
		require.ErrorIs(t, err, ErrInference)
	}

	before := calls.Load()
	_, err := c.Encode(context.Background(), "text", false)
	require.ErrorIs(t, err, ErrInference)
	assert.Equal(t, before, calls.Load(), "open breaker never reaches the backend")
}
