package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/types"
)

func testCandidates() []types.RerankCandidate {
	return []types.RerankCandidate{
		{ID: "doc1", Text: "Golang backend services", Score: 0.4},
		{ID: "doc2", Text: "Flutter mobile apps", Score: 0.9},
		{ID: "doc3", Text: "Data pipelines in Python", Score: 0.6},
	}
}

func TestCohereReranker_DisabledWithoutKey(t *testing.T) {
	r := NewCohereReranker(config.CohereConfig{})
	assert.Equal(t, RerankerDisabled, r.State())

	ranked := r.Rerank(context.Background(), "golang", testCandidates())
	require.Len(t, ranked, 3)

	// Disabled时保留检索分并按分数降序排序
	assert.Equal(t, []string{"doc2", "doc3", "doc1"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	assert.InDelta(t, 0.9, ranked[0].Score, 1e-9)
}

func TestCohereReranker_StableOnTies(t *testing.T) {
	r := NewCohereReranker(config.CohereConfig{})

	candidates := []types.RerankCandidate{
		{ID: "a", Score: 0.5},
		{ID: "b", Score: 0.5},
		{ID: "c", Score: 0.7},
	}
	ranked := r.Rerank(context.Background(), "q", candidates)

	// 平分保持原有先后顺序
	assert.Equal(t, []string{"c", "a", "b"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
}

func TestCohereReranker_Reconfigure(t *testing.T) {
	r := NewCohereReranker(config.CohereConfig{})
	assert.Equal(t, RerankerDisabled, r.State())

	// 密钥后补时通过显式Reconfigure进入Ready
	r.Reconfigure("late-key")
	assert.Equal(t, RerankerReady, r.State())

	r.Reconfigure("")
	assert.Equal(t, RerankerDisabled, r.State())
}

func TestCohereReranker_ScoresMappedByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req cohereRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "rerank-v3.5", req.Model)
		assert.Equal(t, "golang", req.Query)
		require.Len(t, req.Documents, 3)
		assert.Equal(t, 3, req.TopN)

		// index指向提交的documents列表中的位置
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"index": 0, "relevance_score": 0.95},
				{"index": 2, "relevance_score": 0.5},
				{"index": 1, "relevance_score": 0.1},
			},
		})
	}))
	defer server.Close()

	r := NewCohereReranker(config.CohereConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "rerank-v3.5",
	})
	require.Equal(t, RerankerReady, r.State())

	ranked := r.Rerank(context.Background(), "golang", testCandidates())
	require.Len(t, ranked, 3)

	assert.Equal(t, "doc1", ranked[0].ID)
	assert.InDelta(t, 0.95, ranked[0].Score, 1e-9)
	assert.Equal(t, "doc3", ranked[1].ID)
	assert.InDelta(t, 0.5, ranked[1].Score, 1e-9)
	assert.Equal(t, "doc2", ranked[2].ID)
	assert.InDelta(t, 0.1, ranked[2].Score, 1e-9)
}

func TestCohereReranker_DegradesOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewCohereReranker(config.CohereConfig{APIKey: "test-key", BaseURL: server.URL})

	ranked := r.Rerank(context.Background(), "golang", testCandidates())
	require.Len(t, ranked, 3)

	// 调用失败时静默降级：检索分排序，不报错
	assert.Equal(t, []string{"doc2", "doc3", "doc1"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
}

func TestCohereReranker_EmptyInput(t *testing.T) {
	r := NewCohereReranker(config.CohereConfig{APIKey: "key", BaseURL: "http://unused"})
	assert.Empty(t, r.Rerank(context.Background(), "q", nil))
}
