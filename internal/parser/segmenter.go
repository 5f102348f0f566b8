package parser

import (
	"fmt"
	"strings"

	"ai-recruiter-go/internal/types"
)

// Segmenter 将结构化简历拆分为可独立检索的分段。
// 纯函数、无依赖：相同输入产出字节级相同的分段文本和标识，
// 简历更新时整体重新分段，不做增量修补。
type Segmenter struct{}

// NewSegmenter 创建分段器
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// orMarker 缺失字段渲染为占位符，保持模板结构稳定
func orMarker(s string) string {
	if strings.TrimSpace(s) == "" {
		return types.MissingValueMarker
	}
	return s
}

// Segment 按固定顺序应用分段规则，每条非空规则产出一个分段。
// 全空的简历返回空列表，由调用方决定是否视为错误。
func (s *Segmenter) Segment(documentID string, resume *types.StructuredResume) []types.Segment {
	if resume == nil {
		return nil
	}

	// 语言名称列表在元数据中以逗号拼接的字符串存储，
	// 向量库的过滤层只支持标量匹配
	languageNames := make([]string, 0, len(resume.Languages))
	for _, lang := range resume.Languages {
		if lang.Name != "" {
			languageNames = append(languageNames, lang.Name)
		}
	}

	meta := types.SegmentMetadata{
		CandidateName:   resume.Name,
		JobTitle:        resume.JobTitle,
		Location:        resume.Location,
		ExperienceYears: resume.ExperienceYears,
		Languages:       strings.Join(languageNames, ", "),
	}

	var segments []types.Segment

	appendSegment := func(kind, text string) {
		m := meta
		m.Kind = kind
		segments = append(segments, types.Segment{
			SegmentID:  documentID + "_" + kind,
			DocumentID: documentID,
			Kind:       kind,
			Text:       text,
			Metadata:   m,
		})
	}

	// 1. 职位+摘要，两部分各自非空才拼入
	var profile strings.Builder
	if resume.JobTitle != "" {
		profile.WriteString(fmt.Sprintf("Job Title: %s. ", resume.JobTitle))
	}
	if resume.Summary != "" {
		profile.WriteString(fmt.Sprintf("Summary: %s", resume.Summary))
	}
	if strings.TrimSpace(profile.String()) != "" {
		appendSegment(string(types.SegmentKindProfile), profile.String())
	}

	// 2. 技能列表
	if len(resume.Skills) > 0 {
		appendSegment(string(types.SegmentKindSkills), "Skills: "+strings.Join(resume.Skills, ", "))
	}

	// 3. 工作经历，逐条分段，保持原始顺序的下标
	for i, exp := range resume.Experience {
		text := fmt.Sprintf("Role: %s. Company: %s. Period: %s - %s. Description: %s",
			orMarker(exp.Title),
			orMarker(exp.Company),
			orMarker(exp.StartDate),
			orMarker(exp.EndDate),
			orMarker(exp.Description),
		)
		appendSegment(fmt.Sprintf("%s_%d", types.SegmentKindExperience, i), text)
	}

	// 4. 教育经历
	for i, edu := range resume.Education {
		text := fmt.Sprintf("Degree: %s. Field: %s. Institution: %s. Period: %s - %s",
			orMarker(edu.Degree),
			orMarker(edu.Field),
			orMarker(edu.Institution),
			orMarker(edu.StartDate),
			orMarker(edu.EndDate),
		)
		appendSegment(fmt.Sprintf("%s_%d", types.SegmentKindEducation, i), text)
	}

	// 5. 语言能力
	if len(resume.Languages) > 0 {
		parts := make([]string, 0, len(resume.Languages))
		for _, lang := range resume.Languages {
			parts = append(parts, fmt.Sprintf("%s (%s)", orMarker(lang.Name), orMarker(lang.Level)))
		}
		appendSegment(string(types.SegmentKindLanguages), "Languages: "+strings.Join(parts, ", "))
	}

	// 6. 证书
	if len(resume.Certifications) > 0 {
		appendSegment(string(types.SegmentKindCertifications), "Certifications: "+strings.Join(resume.Certifications, ", "))
	}

	// 7. 项目
	for i, proj := range resume.Projects {
		appendSegment(fmt.Sprintf("%s_%d", types.SegmentKindProject, i), "Project: "+proj)
	}

	return segments
}

// DocumentIDOf 从分段标识中还原文档标识（按第一个分隔符切分）
func DocumentIDOf(segmentID string) string {
	if idx := strings.Index(segmentID, "_"); idx > 0 {
		return segmentID[:idx]
	}
	return segmentID
}
