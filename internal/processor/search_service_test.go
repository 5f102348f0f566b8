package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/types"
)

func floatPtr(v float64) *float64 { return &v }

func TestQueryFingerprint_Deterministic(t *testing.T) {
	req := &types.SearchRequest{
		Query: "Senior Golang Developer",
		TopK:  10,
		Filters: types.SearchFilters{
			MinExperience: floatPtr(3),
			Languages:     []string{"English", "German"},
			Location:      "Berlin",
		},
	}
	other := &types.SearchRequest{
		Query: "  senior golang developer  ", // 大小写和首尾空白不影响指纹
		TopK:  10,
		Filters: types.SearchFilters{
			MinExperience: floatPtr(3),
			Languages:     []string{"English", "German"},
			Location:      "berlin",
		},
	}

	assert.Equal(t, queryFingerprint(req), queryFingerprint(other))
}

func TestQueryFingerprint_SensitiveToParameters(t *testing.T) {
	base := &types.SearchRequest{Query: "golang developer", TopK: 10}

	differentTopK := &types.SearchRequest{Query: "golang developer", TopK: 20}
	assert.NotEqual(t, queryFingerprint(base), queryFingerprint(differentTopK))

	withReranking := &types.SearchRequest{Query: "golang developer", TopK: 10, UseReranking: true}
	assert.NotEqual(t, queryFingerprint(base), queryFingerprint(withReranking))

	withFilter := &types.SearchRequest{
		Query:   "golang developer",
		TopK:    10,
		Filters: types.SearchFilters{Location: "Madrid"},
	}
	assert.NotEqual(t, queryFingerprint(base), queryFingerprint(withFilter))
}

func TestNormalize_Defaults(t *testing.T) {
	svc := &SearchService{cfg: config.DefaultSearchConfig()}

	req := &types.SearchRequest{Query: "  python  "}
	svc.normalize(req)

	assert.Equal(t, "python", req.Query)
	assert.Equal(t, svc.cfg.DefaultTopK, req.TopK)
	assert.Equal(t, 1, req.Page)
	assert.Equal(t, req.TopK, req.PageSize)
}

func TestPaginate(t *testing.T) {
	matches := make([]types.SearchMatch, 5)
	for i := range matches {
		matches[i].CandidateID = string(rune('a' + i))
	}

	page1 := paginate(matches, 1, 2)
	require.Len(t, page1, 2)
	assert.Equal(t, "a", page1[0].CandidateID)
	assert.Equal(t, "b", page1[1].CandidateID)

	page3 := paginate(matches, 3, 2)
	require.Len(t, page3, 1)
	assert.Equal(t, "e", page3[0].CandidateID)

	// 越界页返回空列表而不是nil
	beyond := paginate(matches, 4, 2)
	assert.NotNil(t, beyond)
	assert.Empty(t, beyond)
}
