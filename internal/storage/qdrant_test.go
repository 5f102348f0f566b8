package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/search"
	"ai-recruiter-go/internal/types"
)

// newQdrantTestServer 模拟Qdrant REST接口，按path分发到handler
func newQdrantTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	mux := http.NewServeMux()
	// 集合默认已存在
	mux.HandleFunc("/collections/cv_segments_test", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"config": map[string]interface{}{
					"params": map[string]interface{}{
						"vectors": map[string]interface{}{"size": 4, "distance": "Cosine"},
					},
				},
			},
		})
	})
	for path, handler := range handlers {
		mux.HandleFunc(path, handler)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestQdrant(t *testing.T, endpoint string) *Qdrant {
	q, err := NewQdrant(&config.QdrantConfig{
		Endpoint:   endpoint,
		Collection: "cv_segments_test",
		Dimension:  4,
	})
	require.NoError(t, err)
	return q
}

func TestQdrant_PointIDDeterministic(t *testing.T) {
	first := PointIDFor("doc1_profile")
	second := PointIDFor("doc1_profile")
	other := PointIDFor("doc1_skills")

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
}

func TestQdrant_UpsertSegments(t *testing.T) {
	var gotPoints []map[string]interface{}
	server := newQdrantTestServer(t, map[string]http.HandlerFunc{
		"/collections/cv_segments_test/points": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			var body struct {
				Points []map[string]interface{} `json:"points"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			gotPoints = body.Points
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]string{"status": "acknowledged"},
				"status": "ok",
			})
		},
	})

	q := newTestQdrant(t, server.URL)

	segments := []types.Segment{
		{
			SegmentID:  "doc1_profile",
			DocumentID: "doc1",
			Kind:       "profile",
			Text:       "Job Title: Engineer. ",
			Metadata:   types.SegmentMetadata{JobTitle: "Engineer", ExperienceYears: 5, Kind: "profile"},
		},
	}
	vectors := [][]float64{{0.1, 0.2, 0.3, 0.4}}

	ids, err := q.UpsertSegments(context.Background(), segments, vectors)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, PointIDFor("doc1_profile"), ids[0])

	require.Len(t, gotPoints, 1)
	payload := gotPoints[0]["payload"].(map[string]interface{})
	assert.Equal(t, "doc1_profile", payload["segment_id"])
	assert.Equal(t, "doc1", payload["document_id"])
	assert.Equal(t, "Job Title: Engineer. ", payload["content_text"])
	assert.Equal(t, "Engineer", payload["job_title"])
	assert.InDelta(t, 5.0, payload["experience_years"].(float64), 1e-9)
}

func TestQdrant_UpsertSegments_CountMismatch(t *testing.T) {
	server := newQdrantTestServer(t, nil)
	q := newTestQdrant(t, server.URL)

	_, err := q.UpsertSegments(context.Background(), []types.Segment{{SegmentID: "a"}}, nil)
	assert.Error(t, err)
}

func TestQdrant_QueryConvertsScoreToDistance(t *testing.T) {
	var gotRequest map[string]interface{}
	server := newQdrantTestServer(t, map[string]http.HandlerFunc{
		"/collections/cv_segments_test/points/search": func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": []map[string]interface{}{
					{
						"id":    "p1",
						"score": 0.9,
						"payload": map[string]interface{}{
							"segment_id":   "doc1_profile",
							"document_id":  "doc1",
							"content_text": "Job Title: Golang Developer",
						},
					},
					{
						"id":    "p2",
						"score": 0.4,
						"payload": map[string]interface{}{
							"segment_id":   "doc2_skills",
							"document_id":  "doc2",
							"content_text": "Skills: Java",
						},
					},
				},
				"status": "ok",
			})
		},
	})

	q := newTestQdrant(t, server.URL)

	minYears := 3.0
	hits, err := q.Query(context.Background(), []float64{0.1, 0.2, 0.3, 0.4}, 10,
		&search.VectorFilter{MinExperienceYears: &minYears})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// Cosine相似度0.9 → 距离0.1
	assert.InDelta(t, 0.1, hits[0].Distance, 1e-9)
	assert.InDelta(t, 0.6, hits[1].Distance, 1e-9)
	assert.Equal(t, "doc1_profile", hits[0].SegmentID)

	// 范围谓词转换为Qdrant过滤器格式
	filter := gotRequest["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 1)
	condition := must[0].(map[string]interface{})
	assert.Equal(t, "experience_years", condition["key"])
	assert.InDelta(t, 3.0, condition["range"].(map[string]interface{})["gte"].(float64), 1e-9)
}

func TestQdrant_QueryDimensionMismatch(t *testing.T) {
	server := newQdrantTestServer(t, nil)
	q := newTestQdrant(t, server.URL)

	_, err := q.Query(context.Background(), []float64{0.1}, 10, nil)
	assert.Error(t, err)
}

func TestQdrant_QuerySkipsPointsWithoutSegmentID(t *testing.T) {
	server := newQdrantTestServer(t, map[string]http.HandlerFunc{
		"/collections/cv_segments_test/points/search": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": []map[string]interface{}{
					{"id": "legacy", "score": 0.8, "payload": map[string]interface{}{"content_text": "old point"}},
					{"id": "p1", "score": 0.7, "payload": map[string]interface{}{"segment_id": "doc1_profile", "content_text": "t"}},
				},
				"status": "ok",
			})
		},
	})

	q := newTestQdrant(t, server.URL)
	hits, err := q.Query(context.Background(), []float64{0.1, 0.2, 0.3, 0.4}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc1_profile", hits[0].SegmentID)
}

func TestQdrant_DeleteAllAndCount(t *testing.T) {
	var deleteCalled bool
	server := newQdrantTestServer(t, map[string]http.HandlerFunc{
		"/collections/cv_segments_test/points/delete": func(w http.ResponseWriter, r *http.Request) {
			deleteCalled = true
			json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok"})
		},
		"/collections/cv_segments_test/points/count": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]int64{"count": 42},
				"status": "ok",
			})
		},
	})

	q := newTestQdrant(t, server.URL)

	require.NoError(t, q.DeleteAll(context.Background()))
	assert.True(t, deleteCalled)

	count, err := q.CountPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}
