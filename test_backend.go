package main

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/HanTheDev/embedding-service/internal/embed"
)

// Stand-in model service for local development. Serves deterministic
// embeddings on the same contract as the real inference backend, so the
// full pipeline can run without a GPU box.
func main() {
	mock := embed.NewMockEmbedder(384, "all-MiniLM-L6-v2")

	http.HandleFunc("/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text      string `json:"text"`
			Normalize bool   `json:"normalize"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request", "message": err.Error()})
			return
		}

		result, err := mock.Encode(r.Context(), req.Text, req.Normalize)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "inference_failed", "message": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)

		log.Printf("embedded %d chars -> %d tokens", len(req.Text), result.Tokens)
	})

	log.Println("Test model backend starting on port 5000")
	http.ListenAndServe(":5000", nil)
}
