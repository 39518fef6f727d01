package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]interface{}{
				{"name": "qwen2.5:3b"},
				{"name": "llama3.1:8b"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	models, err := c.Tags(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "qwen2.5:3b", models[0].Name)
}

func TestPSTolerates404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	models, err := c.PS(context.Background())
	require.NoError(t, err, "older servers without /api/ps are not an error")
	assert.Nil(t, models)
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5:3b", req["model"])
		assert.Equal(t, false, req["stream"])
		json.NewEncoder(w).Encode(map[string]interface{}{"response": "hola", "eval_count": 3})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Generate(context.Background(), "qwen2.5:3b", "di hola", &GenerateOptions{NumPredict: 10, Temperature: 0.1})
	require.NoError(t, err)
	assert.Equal(t, "hola", resp.Response)
	assert.Equal(t, 3, resp.EvalCount)
}

func TestUnloadSendsKeepAliveZero(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]interface{}{"response": ""})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	require.NoError(t, c.Unload(context.Background(), "llama3.1:8b"))
	assert.Equal(t, float64(0), got["keep_alive"])
}

func TestPullStreamsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"pulling manifest"}` + "\n"))
		w.Write([]byte(`{"status":"downloading","total":100,"completed":50}` + "\n"))
		w.Write([]byte(`{"status":"success"}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	var statuses []string
	err := c.Pull(context.Background(), "nomic-embed-text", func(p PullProgress) {
		statuses = append(statuses, p.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"pulling manifest", "downloading", "success"}, statuses)
}

func TestPullWithoutSuccessFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"downloading"}` + "\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.Error(t, c.Pull(context.Background(), "x", nil))
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"embedding": []float32{0.1, 0.2}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	vec, err := c.Embed(context.Background(), "nomic-embed-text", "hola")
	require.NoError(t, err)
	assert.Len(t, vec, 2)
}
