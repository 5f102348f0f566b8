package models

import (
	"time"

	"gorm.io/datatypes"
)

// 候选人索引状态
const (
	// IndexStatusPending 已入库，等待分段和向量化
	IndexStatusPending = "PENDING"
	// IndexStatusIndexed 已完成向量索引
	IndexStatusIndexed = "INDEXED"
	// IndexStatusFailed 向量化或索引失败，等待重试
	IndexStatusFailed = "FAILED"
)

// Candidate 候选人主表。
// 检索引擎的文档标识就是这里的CandidateID，向量检索命中后回表取全量信息。
type Candidate struct {
	CandidateID     string         `gorm:"type:char(36);primaryKey"`
	Name            string         `gorm:"type:varchar(255);not null"`
	Email           string         `gorm:"type:varchar(255);uniqueIndex:idx_candidates_email_unique"`
	Phone           string         `gorm:"type:varchar(50)"`
	JobTitle        string         `gorm:"type:varchar(255);index:idx_candidates_job_title"`
	Location        string         `gorm:"type:varchar(255);index:idx_candidates_location"`
	ExperienceYears float64        `gorm:"type:float;index:idx_candidates_experience_years"`
	Summary         string         `gorm:"type:text"`
	SkillsJSON      datatypes.JSON `gorm:"type:json"` // 技能列表
	LanguagesJSON   datatypes.JSON `gorm:"type:json"` // [{"name":"English","level":"C1"},...]
	// LanguagesText 逗号拼接的语言名称，语言过滤走LIKE匹配
	LanguagesText string `gorm:"type:varchar(512)"`
	// ParsedObjectKey 解析后简历JSON在MinIO中的对象键，重建索引时的数据源
	ParsedObjectKey string `gorm:"type:varchar(1024)"`
	// 向量索引状态
	IndexStatus  string `gorm:"type:varchar(50);default:'PENDING';index:idx_candidates_index_status"`
	SegmentCount int    `gorm:"type:int;default:0"`

	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// SearchQueryLog 检索审计日志表，记录每次查询的条件和结果规模
type SearchQueryLog struct {
	LogID         uint64         `gorm:"primaryKey;autoIncrement"`
	QueryText     string         `gorm:"type:varchar(1024);not null"`
	QueryHash     string         `gorm:"type:char(64);index:idx_sql_query_hash"`
	FiltersJSON   datatypes.JSON `gorm:"type:json"`
	TopK          int            `gorm:"type:int"`
	ResultCount   int            `gorm:"type:int"`
	UsedReranking bool           `gorm:"type:boolean"`
	Degraded      bool           `gorm:"type:boolean"` // 是否走了降级路径
	DurationMs    int64          `gorm:"type:bigint"`
	CreatedAt     time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_sql_created_at"`
}

func (SearchQueryLog) TableName() string {
	return "search_query_logs"
}
