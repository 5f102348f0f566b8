package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/storage/models"
	"ai-recruiter-go/internal/tracing"
	"ai-recruiter-go/internal/types"
)

var mysqlTracer = otel.Tracer("ai-recruiter-go/storage/mysql")

// gormSpanKey 在GORM回调间传递span的上下文键
type gormSpanKey struct{}

// GormTracingPlugin GORM插件，为每个数据库操作生成OpenTelemetry span
type GormTracingPlugin struct {
	tracer trace.Tracer
	dbName string
}

// NewGormTracingPlugin 创建GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{tracer: mysqlTracer, dbName: dbName}
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("otel:before_row", p.before("ROW")); err != nil {
		return err
	}
	if err := cb.Row().After("gorm:row").Register("otel:after_row", p.after()); err != nil {
		return err
	}
	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	return cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after())
}

// before 操作开始前创建span
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		newCtx, _ := p.tracer.Start(ctx, fmt.Sprintf("%s %s", operation, tableName),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, trace.SpanFromContext(newCtx))
	}
}

// after 操作结束后补充属性并关闭span
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		if sql := db.Statement.SQL.String(); sql != "" {
			span.SetAttributes(attribute.String("db.statement", tracing.SafeSQL(sql)))
		}

		if db.Error != nil {
			if db.Error == gorm.ErrRecordNotFound {
				// 未命中属于正常业务分支，不算错误
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
			return
		}
		span.SetStatus(codes.Ok, "")
	}
}

// MySQL 候选人关系库适配器
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端，注册追踪插件并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel gormlogger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = gormlogger.Silent
	case 2:
		logLevel = gormlogger.Error
	case 3:
		logLevel = gormlogger.Warn
	default:
		logLevel = gormlogger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	m := &MySQL{db: db, cfg: cfg}
	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	logger.Info().Str("host", cfg.Host).Str("database", cfg.Database).Msg("MySQL连接就绪")
	return m, nil
}

// autoMigrateSchema 自动迁移表结构，迁移期间静默SQL日志
func (m *MySQL) autoMigrateSchema() error {
	silentDB := m.db.Session(&gorm.Session{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	return silentDB.AutoMigrate(
		&models.Candidate{},
		&models.SearchQueryLog{},
	)
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// UpsertCandidate 按主键写入候选人，已存在则更新全部业务字段
func (m *MySQL) UpsertCandidate(ctx context.Context, candidate *models.Candidate) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.UpsertCandidate", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.sql.table", "candidates"),
		attribute.String("candidate.id", candidate.CandidateID),
	)

	err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "candidate_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "phone", "job_title", "location",
			"experience_years", "summary", "skills_json", "languages_json",
			"languages_text", "parsed_object_key", "index_status",
		}),
	}).Create(candidate).Error
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("写入候选人失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetCandidateByID 按主键查询候选人，未命中返回 gorm.ErrRecordNotFound
func (m *MySQL) GetCandidateByID(ctx context.Context, candidateID string) (*models.Candidate, error) {
	var candidate models.Candidate
	err := m.db.WithContext(ctx).First(&candidate, "candidate_id = ?", candidateID).Error
	if err != nil {
		return nil, err
	}
	return &candidate, nil
}

// GetCandidatesByIDs 批量查询候选人，返回 ID->记录 的映射
func (m *MySQL) GetCandidatesByIDs(ctx context.Context, candidateIDs []string) (map[string]models.Candidate, error) {
	result := make(map[string]models.Candidate, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return result, nil
	}

	var candidates []models.Candidate
	err := m.db.WithContext(ctx).Where("candidate_id IN ?", candidateIDs).Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("批量查询候选人失败: %w", err)
	}

	for _, c := range candidates {
		result[c.CandidateID] = c
	}
	return result, nil
}

// applyFilters 把检索过滤条件转换为SQL谓词。
// 经验范围在向量库已过滤过一轮，这里作为校验层再过一遍；
// 地点为模糊匹配；语言要求命中任意一个即可。
func applyFilters(query *gorm.DB, filters types.SearchFilters) *gorm.DB {
	if filters.MinExperience != nil {
		query = query.Where("experience_years >= ?", *filters.MinExperience)
	}
	if filters.MaxExperience != nil {
		query = query.Where("experience_years <= ?", *filters.MaxExperience)
	}
	if filters.Location != "" {
		query = query.Where("location LIKE ?", "%"+filters.Location+"%")
	}
	if len(filters.Languages) > 0 {
		conditions := make([]string, 0, len(filters.Languages))
		args := make([]interface{}, 0, len(filters.Languages))
		for _, lang := range filters.Languages {
			conditions = append(conditions, "languages_text LIKE ?")
			args = append(args, "%"+lang+"%")
		}
		query = query.Where(strings.Join(conditions, " OR "), args...)
	}
	return query
}

// FilterCandidates 对检索命中的文档做SQL校验过滤，
// 返回通过过滤的 ID->记录 映射（列表过滤无法下推到向量库，只能在这里做）
func (m *MySQL) FilterCandidates(ctx context.Context, candidateIDs []string, filters types.SearchFilters) (map[string]models.Candidate, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.FilterCandidates", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.sql.table", "candidates"),
		attribute.Int("candidates.count", len(candidateIDs)),
	)

	result := make(map[string]models.Candidate, len(candidateIDs))
	if len(candidateIDs) == 0 {
		span.SetStatus(codes.Ok, "no candidates to filter")
		return result, nil
	}

	query := m.db.WithContext(ctx).Where("candidate_id IN ?", candidateIDs)
	query = applyFilters(query, filters)

	var candidates []models.Candidate
	if err := query.Find(&candidates).Error; err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("过滤候选人失败: %w", err)
	}

	for _, c := range candidates {
		result[c.CandidateID] = c
	}

	span.SetAttributes(attribute.Int("candidates.passed", len(result)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// TextSearchCandidates 基于LIKE的文本搜索，RAG链路不可用时的兜底。
// 先整句匹配，无结果时退化为逐关键词匹配；仍无结果就返回空列表，
// 绝不返回不相关的候选人。
func (m *MySQL) TextSearchCandidates(ctx context.Context, queryText string, filters types.SearchFilters, limit int) ([]models.Candidate, error) {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.TextSearchCandidates", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.sql.table", "candidates"),
		attribute.String("search.query", tracing.SafeQueryText(queryText)),
		attribute.Int("search.limit", limit),
	)

	if limit <= 0 {
		limit = 10
	}
	queryText = strings.ToLower(strings.TrimSpace(queryText))

	textMatch := func(pattern string) *gorm.DB {
		return m.db.Where(
			"LOWER(name) LIKE ? OR LOWER(job_title) LIKE ? OR LOWER(summary) LIKE ? OR LOWER(skills_json) LIKE ?",
			pattern, pattern, pattern, pattern,
		)
	}

	base := applyFilters(m.db.WithContext(ctx), filters)

	var candidates []models.Candidate
	err := base.Where(textMatch("%" + queryText + "%")).Limit(limit).Find(&candidates).Error
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("文本搜索失败: %w", err)
	}

	// 整句无命中时逐关键词匹配
	if len(candidates) == 0 {
		keywords := strings.Fields(queryText)
		if len(keywords) > 0 {
			keywordQuery := m.db.Where("1 = 0")
			for _, keyword := range keywords {
				keywordQuery = keywordQuery.Or(textMatch("%" + keyword + "%"))
			}
			base = applyFilters(m.db.WithContext(ctx), filters)
			if err := base.Where(keywordQuery).Limit(limit).Find(&candidates).Error; err != nil {
				tracing.RecordError(span, err, tracing.ErrorTypeDB)
				return nil, fmt.Errorf("关键词搜索失败: %w", err)
			}
		}
	}

	span.SetAttributes(attribute.Int("search.results.count", len(candidates)))
	span.SetStatus(codes.Ok, "")
	return candidates, nil
}

// UpdateIndexStatus 更新候选人的向量索引状态和分段数量
func (m *MySQL) UpdateIndexStatus(ctx context.Context, candidateID, status string, segmentCount int) error {
	err := m.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("candidate_id = ?", candidateID).
		Updates(map[string]interface{}{
			"index_status":  status,
			"segment_count": segmentCount,
		}).Error
	if err != nil {
		return fmt.Errorf("更新索引状态失败: %w", err)
	}
	return nil
}

// ListCandidatesForReindex 列出所有持有解析结果的候选人，全量重建索引时使用
func (m *MySQL) ListCandidatesForReindex(ctx context.Context) ([]models.Candidate, error) {
	var candidates []models.Candidate
	err := m.db.WithContext(ctx).
		Select("candidate_id", "parsed_object_key").
		Where("parsed_object_key <> ''").
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("查询待重建候选人失败: %w", err)
	}
	return candidates, nil
}

// ListCandidates 分页列出候选人，status为空时不过滤索引状态
func (m *MySQL) ListCandidates(ctx context.Context, status string, page, pageSize int) ([]models.Candidate, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	query := m.db.WithContext(ctx).Model(&models.Candidate{})
	if status != "" {
		query = query.Where("index_status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计候选人数量失败: %w", err)
	}

	var candidates []models.Candidate
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&candidates).Error
	if err != nil {
		return nil, 0, fmt.Errorf("分页查询候选人失败: %w", err)
	}
	return candidates, total, nil
}

// LogSearchQuery 写入检索审计日志，失败只告警不影响主流程
func (m *MySQL) LogSearchQuery(ctx context.Context, entry *models.SearchQueryLog) {
	if err := m.db.WithContext(ctx).Create(entry).Error; err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("写入检索审计日志失败")
	}
}
