package types

// MissingValueMarker 结构化字段缺失时在分段文本中使用的占位符。
// 保持模板结构稳定，缺失字段渲染为占位符而不是静默省略。
const MissingValueMarker = "N/A"

// StructuredResume LLM解析后的结构化简历。
// 由上游解析服务产出，存储在MinIO中，是分段和索引的唯一输入。
type StructuredResume struct {
	Name            string             `json:"name"`
	Email           string             `json:"email,omitempty"`
	Phone           string             `json:"phone,omitempty"`
	JobTitle        string             `json:"job_title"`
	Summary         string             `json:"summary"`
	Location        string             `json:"location"`
	ExperienceYears float64            `json:"experience_years"`
	Skills          []string           `json:"skills"`
	Experience      []ExperienceRecord `json:"experience"`
	Education       []EducationRecord  `json:"education"`
	Languages       []LanguageRecord   `json:"languages"`
	Certifications  []string           `json:"certifications"`
	Projects        []string           `json:"projects"`
}

// ExperienceRecord 一段工作经历
type ExperienceRecord struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Description string `json:"description"`
}

// EducationRecord 一段教育经历
type EducationRecord struct {
	Degree      string `json:"degree"`
	Field       string `json:"field"`
	Institution string `json:"institution"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

// LanguageRecord 语言能力
type LanguageRecord struct {
	Name  string `json:"name"`
	Level string `json:"level"`
}

// SegmentKind 分段类别。带索引的类别（经历、教育、项目）在
// 分段标识中追加下标，例如 "experience_0"。
type SegmentKind string

const (
	// SegmentKindProfile 职位头衔+个人摘要
	SegmentKindProfile SegmentKind = "profile"
	// SegmentKindSkills 技能列表
	SegmentKindSkills SegmentKind = "skills"
	// SegmentKindExperience 单段工作经历
	SegmentKindExperience SegmentKind = "experience"
	// SegmentKindEducation 单段教育经历
	SegmentKindEducation SegmentKind = "education"
	// SegmentKindLanguages 语言能力
	SegmentKindLanguages SegmentKind = "languages"
	// SegmentKindCertifications 证书
	SegmentKindCertifications SegmentKind = "certifications"
	// SegmentKindProject 单个项目
	SegmentKindProject SegmentKind = "project"
)

// SegmentMetadata 分段携带的文档级元数据。
// 固定的封闭字段集合，向量库的过滤谓词只支持标量等值/范围匹配，
// 所以语言列表以逗号拼接的字符串形式存储而不是数组。
type SegmentMetadata struct {
	CandidateName   string  `json:"candidate_name"`
	JobTitle        string  `json:"job_title"`
	Location        string  `json:"location"`
	ExperienceYears float64 `json:"experience_years"`
	Languages       string  `json:"languages"` // 逗号拼接的语言名称
	Kind            string  `json:"kind"`      // 完整分段类别，含下标
}

// Payload 转换为向量库的载荷映射。
// 全函数：任何字段缺失都输出空字符串或零值，绝不输出null，
// 保证索引侧过滤谓词对所有点都有定义。
func (m SegmentMetadata) Payload() map[string]interface{} {
	return map[string]interface{}{
		"candidate_name":   m.CandidateName,
		"job_title":        m.JobTitle,
		"location":         m.Location,
		"experience_years": m.ExperienceYears,
		"languages":        m.Languages,
		"kind":             m.Kind,
	}
}

// MetadataFromPayload 从向量库载荷还原元数据，未知键忽略
func MetadataFromPayload(payload map[string]interface{}) SegmentMetadata {
	m := SegmentMetadata{}
	if v, ok := payload["candidate_name"].(string); ok {
		m.CandidateName = v
	}
	if v, ok := payload["job_title"].(string); ok {
		m.JobTitle = v
	}
	if v, ok := payload["location"].(string); ok {
		m.Location = v
	}
	if v, ok := payload["experience_years"].(float64); ok {
		m.ExperienceYears = v
	}
	if v, ok := payload["languages"].(string); ok {
		m.Languages = v
	}
	if v, ok := payload["kind"].(string); ok {
		m.Kind = v
	}
	return m
}

// Segment 一个可独立检索的简历分段。
// SegmentID确定性派生为 DocumentID + "_" + 类别（含下标），
// 分段一经产出即不可变，简历更新时整体重新分段。
type Segment struct {
	SegmentID  string          `json:"segment_id"`
	DocumentID string          `json:"document_id"`
	Kind       string          `json:"kind"` // 完整类别，例如 "profile"、"experience_1"
	Text       string          `json:"text"`
	Metadata   SegmentMetadata `json:"metadata"`
}
