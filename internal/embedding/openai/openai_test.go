package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/gt"

	"edurag/internal/embedding/openai"
)

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("EDURAG_TEST_OPENAI_KEY", "")
	_, err := openai.NewClient(openai.Config{APIKeyEnv: "EDURAG_TEST_OPENAI_KEY"})
	gt.Error(t, err)
	gt.Bool(t, errors.Is(err, openai.ErrMissingAPIKey)).True()
}

func TestEmbedAgainstCompatibleServer(t *testing.T) {
	var gotInputs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotInputs = req.Input

		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			// Return out of order to exercise index handling.
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     j,
				"embedding": []float64{float64(j + 1), 0, 0},
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	defer srv.Close()

	t.Setenv("EDURAG_TEST_OPENAI_KEY", "sk-test")
	client, err := openai.NewClient(openai.Config{
		BaseURL:   srv.URL,
		APIKeyEnv: "EDURAG_TEST_OPENAI_KEY",
		Dimension: 3,
	})
	gt.NoError(t, err).Required()

	vectors, err := client.Embed(context.Background(), []string{"uno", "dos"})
	gt.NoError(t, err).Required()
	gt.Value(t, gotInputs).Equal([]string{"uno", "dos"})
	gt.Array(t, vectors).Length(2).Required()
	for _, v := range vectors {
		gt.Array(t, v).Length(3)
		gt.Bool(t, math.Abs(float64(v[0])-1) < 1e-6).True()
	}
}
