package types

// ScoredSegment 查询时产生的分段级打分，瞬态数据，不持久化
type ScoredSegment struct {
	SegmentID    string  `json:"segment_id"`
	Text         string  `json:"text"`
	Metadata     SegmentMetadata `json:"metadata"`
	LexicalScore float64 `json:"lexical_score"` // [0,1]
	VectorScore  float64 `json:"vector_score"`  // [0,1]，已由距离转换为相似度
	FusedScore   float64 `json:"fused_score"`   // [0,1]
}

// CandidateResult 文档级检索结果，由共享同一DocumentID的分段聚合而成
type CandidateResult struct {
	DocumentID         string    `json:"document_id"`
	Score              float64   `json:"score"` // [0,1]
	ChunkScores        []float64 `json:"chunk_scores"`
	RepresentativeText string    `json:"representative_text"` // 贡献最大的前几个分段文本拼接
}

// SearchFilters 检索过滤条件。
// 经验年限范围可下推到向量库做范围过滤；
// 语言和地点是多值/模糊匹配，只能在检索后由SQL层后置过滤。
type SearchFilters struct {
	MinExperience *float64 `json:"min_experience,omitempty"`
	MaxExperience *float64 `json:"max_experience,omitempty"`
	Languages     []string `json:"languages,omitempty"`
	Location      string   `json:"location,omitempty"`
}

// NeedsPostFilter 判断是否存在无法下推的过滤条件，
// 存在时检索层需要扩大召回池
func (f SearchFilters) NeedsPostFilter() bool {
	return len(f.Languages) > 0 || f.Location != ""
}

// HasVectorPredicate 判断是否存在可下推到向量库的谓词
func (f SearchFilters) HasVectorPredicate() bool {
	return f.MinExperience != nil || f.MaxExperience != nil
}

// SearchRequest 对外检索请求
type SearchRequest struct {
	Query        string        `json:"query"`
	Filters      SearchFilters `json:"filters"`
	TopK         int           `json:"top_k"`
	UseReranking bool          `json:"use_reranking"`
	// 分页参数，基于Redis缓存的黄金结果集切片
	Page     int `json:"page,omitempty"`
	PageSize int `json:"page_size,omitempty"`
}

// RerankCandidate 送入重排序器的候选项。
// ID与Text送出，Score由重排序结果按下标映射回填；
// 重排序不可用时Score保留检索阶段的原始得分。
type RerankCandidate struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// SearchMatch 对外返回的单条匹配，检索结果与MySQL候选人记录合并后的视图
type SearchMatch struct {
	CandidateID     string   `json:"candidate_id"`
	Name            string   `json:"name"`
	Email           string   `json:"email,omitempty"`
	JobTitle        string   `json:"job_title"`
	Location        string   `json:"location"`
	ExperienceYears float64  `json:"experience_years"`
	Skills          []string `json:"skills,omitempty"`
	Score           float64  `json:"score"`
	MatchedText     string   `json:"matched_text"`
}

// SearchResponse 对外检索响应
type SearchResponse struct {
	Query    string        `json:"query"`    // 规范化后的查询
	Total    int           `json:"total"`    // 过滤后的命中总数
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Matches  []SearchMatch `json:"matches"`
	// Degraded 标记本次结果来自降级路径（如向量检索失败后的SQL文本搜索）
	Degraded bool `json:"degraded,omitempty"`
}

// CandidateIngestMessage 候选人入库消息，通过RabbitMQ投递，
// 消费端从MinIO取出解析结果后执行 分段->向量化->入索引
type CandidateIngestMessage struct {
	CandidateID string `json:"candidate_id"`
	Source      string `json:"source"` // upload / import / reindex
	SubmittedAt int64  `json:"submitted_at"`
}
