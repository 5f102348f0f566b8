package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-recruiter-go/internal/types"
)

func sampleResume() *types.StructuredResume {
	return &types.StructuredResume{
		Name:            "Jane Doe",
		JobTitle:        "Senior Backend Engineer",
		Summary:         "8 years building distributed systems in Go.",
		Location:        "Berlin",
		ExperienceYears: 8,
		Skills:          []string{"Go", "Kubernetes", "PostgreSQL"},
		Experience: []types.ExperienceRecord{
			{Title: "Backend Engineer", Company: "Acme", StartDate: "2018", EndDate: "2023", Description: "Built payment APIs."},
			{Title: "Junior Developer", Company: "Startup GmbH", StartDate: "2016", EndDate: "2018"},
		},
		Education: []types.EducationRecord{
			{Degree: "BSc", Field: "Computer Science", Institution: "TU Berlin", StartDate: "2012", EndDate: "2016"},
		},
		Languages: []types.LanguageRecord{
			{Name: "English", Level: "C1"},
			{Name: "German", Level: "B2"},
		},
		Certifications: []string{"CKA"},
		Projects:       []string{"Open-source rate limiter"},
	}
}

func TestSegmenter_FullResume(t *testing.T) {
	s := NewSegmenter()
	docID := "3f2c9a10-1111-2222-3333-444455556666"

	segments := s.Segment(docID, sampleResume())

	// profile + skills + 2×experience + 1×education + languages + certifications + 1×project
	require.Len(t, segments, 8)

	kinds := make([]string, 0, len(segments))
	for _, seg := range segments {
		kinds = append(kinds, seg.Kind)
	}
	assert.Equal(t, []string{
		"profile", "skills",
		"experience_0", "experience_1",
		"education_0",
		"languages", "certifications",
		"project_0",
	}, kinds)

	assert.Equal(t, "Job Title: Senior Backend Engineer. Summary: 8 years building distributed systems in Go.", segments[0].Text)
	assert.Equal(t, "Skills: Go, Kubernetes, PostgreSQL", segments[1].Text)
	assert.Equal(t, "Role: Backend Engineer. Company: Acme. Period: 2018 - 2023. Description: Built payment APIs.", segments[2].Text)
	assert.Equal(t, "Degree: BSc. Field: Computer Science. Institution: TU Berlin. Period: 2012 - 2016", segments[4].Text)
	assert.Equal(t, "Languages: English (C1), German (B2)", segments[5].Text)
	assert.Equal(t, "Certifications: CKA", segments[6].Text)
	assert.Equal(t, "Project: Open-source rate limiter", segments[7].Text)
}

func TestSegmenter_MissingFieldsRenderMarker(t *testing.T) {
	s := NewSegmenter()
	resume := &types.StructuredResume{
		Experience: []types.ExperienceRecord{
			{Title: "Engineer"},
		},
	}

	segments := s.Segment("doc1", resume)
	require.Len(t, segments, 1)

	// 缺失字段渲染为占位符，模板结构保持稳定
	assert.Equal(t, "Role: Engineer. Company: N/A. Period: N/A - N/A. Description: N/A", segments[0].Text)
}

func TestSegmenter_SegmentIDsUniqueAndPrefixed(t *testing.T) {
	s := NewSegmenter()
	docID := "candidate-42"

	segments := s.Segment(docID, sampleResume())

	seen := make(map[string]bool)
	for _, seg := range segments {
		assert.False(t, seen[seg.SegmentID], "分段标识重复: %s", seg.SegmentID)
		seen[seg.SegmentID] = true
		assert.Equal(t, docID+"_"+seg.Kind, seg.SegmentID)
		assert.Equal(t, docID, seg.DocumentID)
	}
}

func TestSegmenter_EmptyResumeYieldsNoSegments(t *testing.T) {
	s := NewSegmenter()

	assert.Empty(t, s.Segment("doc1", &types.StructuredResume{}))
	assert.Empty(t, s.Segment("doc1", nil))
}

func TestSegmenter_ProfileOnlyTitle(t *testing.T) {
	s := NewSegmenter()
	segments := s.Segment("doc1", &types.StructuredResume{JobTitle: "Designer"})

	require.Len(t, segments, 1)
	assert.Equal(t, "Job Title: Designer. ", segments[0].Text)
}

func TestSegmenter_Deterministic(t *testing.T) {
	s := NewSegmenter()
	resume := sampleResume()

	first := s.Segment("doc1", resume)
	second := s.Segment("doc1", resume)

	// 相同输入必须产出字节级相同的结果
	require.Equal(t, first, second)
}

func TestSegmenter_MetadataNeverNull(t *testing.T) {
	s := NewSegmenter()
	segments := s.Segment("doc1", &types.StructuredResume{JobTitle: "Analyst"})
	require.Len(t, segments, 1)

	payload := segments[0].Metadata.Payload()
	for key, value := range payload {
		assert.NotNil(t, value, "元数据字段 %s 不允许为null", key)
	}
	assert.Equal(t, "", payload["candidate_name"])
	assert.Equal(t, "", payload["languages"])
	assert.Equal(t, "profile", payload["kind"])
}

func TestDocumentIDOf(t *testing.T) {
	assert.Equal(t, "abc-123", DocumentIDOf("abc-123_experience_2"))
	assert.Equal(t, "abc-123", DocumentIDOf("abc-123_profile"))
	assert.Equal(t, "noseparator", DocumentIDOf("noseparator"))
}
