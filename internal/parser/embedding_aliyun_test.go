package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-recruiter-go/internal/config"
)

func newTestEmbedder(t *testing.T, handler http.HandlerFunc) (*AliyunEmbedder, *httptest.Server) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	embedder, err := NewAliyunEmbedder("test-key", config.EmbeddingConfig{
		Model:      "text-embedding-v3",
		Dimensions: 4,
		BaseURL:    server.URL,
	})
	require.NoError(t, err)
	return embedder, server
}

func TestAliyunEmbedder_RequiresAPIKey(t *testing.T) {
	_, err := NewAliyunEmbedder("", config.EmbeddingConfig{})
	assert.Error(t, err)
}

func TestAliyunEmbedder_EmbedStrings_Batch(t *testing.T) {
	var gotAuth string
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req aliyunEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-v3", req.Model)
		assert.Equal(t, 4, req.Dimensions)

		// 故意乱序返回，验证按Index字段重排
		resp := map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float64{0.5, 0.6, 0.7, 0.8}, "index": 1},
				{"object": "embedding", "embedding": []float64{0.1, 0.2, 0.3, 0.4}, "index": 0},
			},
			"model": "text-embedding-v3",
			"usage": map[string]int{"prompt_tokens": 6, "total_tokens": 6},
		}
		json.NewEncoder(w).Encode(resp)
	})

	embeddings, err := embedder.EmbedStrings(context.Background(), []string{"golang developer", "kubernetes"})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, embeddings[0])
	assert.Equal(t, []float64{0.5, 0.6, 0.7, 0.8}, embeddings[1])
}

func TestAliyunEmbedder_EmbedStrings_EmptyInput(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("空输入不应发起HTTP请求")
	})

	embeddings, err := embedder.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, embeddings)
}

func TestAliyunEmbedder_EmbedStrings_HTTPError(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": "Invalid API-key provided.",
			"type":    "invalid_request_error",
			"code":    "invalid_api_key",
		})
	})

	_, err := embedder.EmbedStrings(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_api_key")
}

func TestAliyunEmbedder_EmbedStrings_APIErrorWith200(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   []interface{}{},
			"error": map[string]string{
				"message": "batch size too large",
				"type":    "invalid_request_error",
				"code":    "batch_size",
			},
		})
	})

	_, err := embedder.EmbedStrings(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size too large")
}

func TestAliyunEmbedder_SingleTextSentAsString(t *testing.T) {
	embedder, _ := newTestEmbedder(t, func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))

		// 单条文本以字符串而不是数组发送
		_, isString := raw["input"].(string)
		assert.True(t, isString)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "embedding": []float64{1, 0, 0, 0}, "index": 0},
			},
		})
	})

	embeddings, err := embedder.EmbedStrings(context.Background(), []string{"solo"})
	require.NoError(t, err)
	require.Len(t, embeddings, 1)
}
