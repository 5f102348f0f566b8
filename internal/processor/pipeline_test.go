package processor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-recruiter-go/internal/storage/models"
	"ai-recruiter-go/internal/types"
)

func TestCandidateFromResume(t *testing.T) {
	resume := &types.StructuredResume{
		Name:            "Jane Roe",
		Email:           "jane@example.com",
		JobTitle:        "Backend Developer",
		Summary:         "Go services and data pipelines",
		Location:        "Lisbon",
		ExperienceYears: 6.5,
		Skills:          []string{"go", "postgresql", "kafka"},
		Languages: []types.LanguageRecord{
			{Name: "English", Level: "C1"},
			{Name: "Portuguese", Level: "native"},
		},
	}

	candidate, err := candidateFromResume("cand-1", resume)
	require.NoError(t, err)

	assert.Equal(t, "cand-1", candidate.CandidateID)
	assert.Equal(t, "Jane Roe", candidate.Name)
	assert.Equal(t, "Backend Developer", candidate.JobTitle)
	assert.InDelta(t, 6.5, candidate.ExperienceYears, 1e-9)
	assert.Equal(t, models.IndexStatusPending, candidate.IndexStatus)

	// 语言名称拼接为LIKE友好的文本列
	assert.Equal(t, "English, Portuguese", candidate.LanguagesText)

	var skills []string
	require.NoError(t, json.Unmarshal(candidate.SkillsJSON, &skills))
	assert.Equal(t, []string{"go", "postgresql", "kafka"}, skills)

	var languages []types.LanguageRecord
	require.NoError(t, json.Unmarshal(candidate.LanguagesJSON, &languages))
	require.Len(t, languages, 2)
	assert.Equal(t, "C1", languages[0].Level)
}

func TestCandidateFromResume_EmptyLists(t *testing.T) {
	candidate, err := candidateFromResume("cand-2", &types.StructuredResume{Name: "John"})
	require.NoError(t, err)

	assert.Empty(t, candidate.LanguagesText)
	assert.Equal(t, "null", string(candidate.SkillsJSON))
}
