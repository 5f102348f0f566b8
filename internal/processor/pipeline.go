package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"ai-recruiter-go/internal/constants"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/parser"
	"ai-recruiter-go/internal/storage"
	"ai-recruiter-go/internal/storage/models"
	"ai-recruiter-go/internal/tracing"
	"ai-recruiter-go/internal/types"
)

var pipelineTracer = otel.Tracer("ai-recruiter-go/processor/pipeline")

var (
	// ErrStorageNotInit 依赖的存储组件未初始化
	ErrStorageNotInit = errors.New("storage is not initialized")
	// ErrCandidateNotFound 候选人不存在
	ErrCandidateNotFound = errors.New("candidate not found")
)

// Pipeline 候选人入库管线。
// 入库分两段：接口侧落库并发消息，消费侧做 分段->向量化->入索引。
type Pipeline struct {
	storage   *storage.Storage
	segmenter *parser.Segmenter
	embedder  embedding.Embedder
}

// NewPipeline 创建入库管线
func NewPipeline(storageManager *storage.Storage, embedder embedding.Embedder) (*Pipeline, error) {
	if storageManager == nil {
		return nil, ErrStorageNotInit
	}
	return &Pipeline{
		storage:   storageManager,
		segmenter: parser.NewSegmenter(),
		embedder:  embedder,
	}, nil
}

// candidateFromResume 由结构化简历构建候选人记录
func candidateFromResume(candidateID string, resume *types.StructuredResume) (*models.Candidate, error) {
	skillsJSON, err := json.Marshal(resume.Skills)
	if err != nil {
		return nil, fmt.Errorf("序列化技能列表失败: %w", err)
	}
	languagesJSON, err := json.Marshal(resume.Languages)
	if err != nil {
		return nil, fmt.Errorf("序列化语言列表失败: %w", err)
	}

	names := make([]string, 0, len(resume.Languages))
	for _, lang := range resume.Languages {
		names = append(names, lang.Name)
	}

	return &models.Candidate{
		CandidateID:     candidateID,
		Name:            resume.Name,
		Email:           resume.Email,
		Phone:           resume.Phone,
		JobTitle:        resume.JobTitle,
		Location:        resume.Location,
		ExperienceYears: resume.ExperienceYears,
		Summary:         resume.Summary,
		SkillsJSON:      datatypes.JSON(skillsJSON),
		LanguagesJSON:   datatypes.JSON(languagesJSON),
		LanguagesText:   strings.Join(names, ", "),
		IndexStatus:     models.IndexStatusPending,
	}, nil
}

// EnqueueCandidate 接收解析后的简历：落库、写对象存储、投递入库消息。
// 返回新候选人ID。消息投递失败不回滚落库，候选人停留在PENDING，
// 可通过全量重建补索引。
func (p *Pipeline) EnqueueCandidate(ctx context.Context, resume *types.StructuredResume, source string) (string, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.EnqueueCandidate")
	defer span.End()

	if resume == nil || strings.TrimSpace(resume.Name) == "" {
		err := fmt.Errorf("简历缺少姓名")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}
	if p.storage.MySQL == nil || p.storage.MinIO == nil {
		return "", ErrStorageNotInit
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("生成候选人ID失败: %w", err)
	}
	candidateID := id.String()
	span.SetAttributes(
		attribute.String("candidate.id", candidateID),
		attribute.String("ingest.source", source),
	)

	objectKey, err := p.storage.MinIO.PutParsedResume(ctx, candidateID, resume)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return "", fmt.Errorf("保存解析简历失败: %w", err)
	}

	candidate, err := candidateFromResume(candidateID, resume)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return "", err
	}
	candidate.ParsedObjectKey = objectKey

	if err := p.storage.MySQL.UpsertCandidate(ctx, candidate); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return "", err
	}

	if p.storage.RabbitMQ != nil {
		msg := &types.CandidateIngestMessage{
			CandidateID: candidateID,
			Source:      source,
			SubmittedAt: time.Now().Unix(),
		}
		if err := p.storage.RabbitMQ.PublishIngestMessage(ctx, msg); err != nil {
			// 落库已完成，消息丢失可由重建索引兜底
			logger.Ctx(ctx).Warn().Err(err).
				Str("candidate_id", candidateID).
				Msg("投递入库消息失败，候选人停留在PENDING")
		}
	}

	span.SetStatus(codes.Ok, "")
	logger.Ctx(ctx).Info().
		Str("candidate_id", candidateID).
		Str("source", source).
		Msg("候选人已入库并排队索引")
	return candidateID, nil
}

// HandleIngestMessage 消费端入口，返回是否处理成功（失败会被重新入队）
func (p *Pipeline) HandleIngestMessage(ctx context.Context, msg *types.CandidateIngestMessage) bool {
	if err := p.IndexCandidate(ctx, msg.CandidateID); err != nil {
		// 候选人不存在的消息重试也无意义，直接确认掉
		if errors.Is(err, ErrCandidateNotFound) {
			logger.Ctx(ctx).Warn().
				Str("candidate_id", msg.CandidateID).
				Msg("入库消息指向不存在的候选人，跳过")
			return true
		}
		logger.Ctx(ctx).Error().Err(err).
			Str("candidate_id", msg.CandidateID).
			Str("source", msg.Source).
			Msg("候选人索引失败")
		return false
	}
	return true
}

// IndexCandidate 对单个候选人执行 分段->向量化->入索引。
// 旧向量先删后写，保证简历更新后索引里没有残留分段。
func (p *Pipeline) IndexCandidate(ctx context.Context, candidateID string) error {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.IndexCandidate",
		trace.WithAttributes(attribute.String("candidate.id", candidateID)))
	defer span.End()

	if p.storage.MySQL == nil || p.storage.MinIO == nil || p.storage.Qdrant == nil {
		return ErrStorageNotInit
	}
	if p.embedder == nil {
		return fmt.Errorf("嵌入器未初始化")
	}

	candidate, err := p.storage.MySQL.GetCandidateByID(ctx, candidateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCandidateNotFound
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("查询候选人失败: %w", err)
	}
	if candidate.ParsedObjectKey == "" {
		return fmt.Errorf("候选人 %s 没有解析结果，无法索引", candidateID)
	}

	resume, err := p.storage.MinIO.GetParsedResume(ctx, candidate.ParsedObjectKey)
	if err != nil {
		p.markFailed(ctx, candidateID)
		tracing.RecordError(span, err, tracing.ErrorTypeExternal)
		return fmt.Errorf("读取解析简历失败: %w", err)
	}

	segments := p.segmenter.Segment(candidateID, resume)
	span.SetAttributes(attribute.Int("segments.count", len(segments)))

	// 无论新简历产出多少分段，旧向量都要清掉
	if err := p.storage.Qdrant.DeleteByDocumentID(ctx, candidateID); err != nil {
		p.markFailed(ctx, candidateID)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("清理旧向量失败: %w", err)
	}

	if len(segments) == 0 {
		if err := p.storage.MySQL.UpdateIndexStatus(ctx, candidateID, models.IndexStatusIndexed, 0); err != nil {
			return err
		}
		span.SetStatus(codes.Ok, "no segments")
		return nil
	}

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := p.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		p.markFailed(ctx, candidateID)
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return fmt.Errorf("向量化分段失败: %w", err)
	}

	if _, err := p.storage.Qdrant.UpsertSegments(ctx, segments, vectors); err != nil {
		p.markFailed(ctx, candidateID)
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("写入向量索引失败: %w", err)
	}

	if err := p.storage.MySQL.UpdateIndexStatus(ctx, candidateID, models.IndexStatusIndexed, len(segments)); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return err
	}

	// 索引内容变了，旧的搜索会话缓存全部失效
	if p.storage.Redis != nil {
		if err := p.storage.Redis.InvalidateSearchSessions(ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("清理搜索会话缓存失败")
		}
	}

	span.SetStatus(codes.Ok, "")
	logger.Ctx(ctx).Info().
		Str("candidate_id", candidateID).
		Int("segments", len(segments)).
		Msg("候选人索引完成")
	return nil
}

// markFailed 标记候选人索引失败，本身失败只告警
func (p *Pipeline) markFailed(ctx context.Context, candidateID string) {
	if err := p.storage.MySQL.UpdateIndexStatus(ctx, candidateID, models.IndexStatusFailed, 0); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("candidate_id", candidateID).
			Msg("标记索引失败状态时出错")
	}
}

// ReindexAll 为所有持有解析结果的候选人重新投递入库消息，
// 返回排队的候选人数量。clearFirst为true时先清空整个向量集合，
// 向量维度或模型变更后必须走这条路径。
func (p *Pipeline) ReindexAll(ctx context.Context, clearFirst bool) (int, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.ReindexAll",
		trace.WithAttributes(attribute.Bool("reindex.clear_first", clearFirst)))
	defer span.End()

	if p.storage.MySQL == nil || p.storage.RabbitMQ == nil {
		return 0, ErrStorageNotInit
	}

	if clearFirst {
		if p.storage.Qdrant == nil {
			return 0, ErrStorageNotInit
		}
		if err := p.storage.Qdrant.DeleteAll(ctx); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return 0, fmt.Errorf("清空向量集合失败: %w", err)
		}
		logger.Ctx(ctx).Info().Msg("向量集合已清空，开始全量重建")
	}

	candidates, err := p.storage.MySQL.ListCandidatesForReindex(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return 0, err
	}

	queued := 0
	now := time.Now().Unix()
	for _, candidate := range candidates {
		msg := &types.CandidateIngestMessage{
			CandidateID: candidate.CandidateID,
			Source:      constants.IngestSourceReindex,
			SubmittedAt: now,
		}
		if err := p.storage.RabbitMQ.PublishIngestMessage(ctx, msg); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("candidate_id", candidate.CandidateID).
				Msg("投递重建消息失败")
			continue
		}
		queued++
	}

	span.SetAttributes(attribute.Int("reindex.queued", queued))
	span.SetStatus(codes.Ok, "")
	logger.Ctx(ctx).Info().Int("queued", queued).Msg("全量重建索引已排队")
	return queued, nil
}

// DeleteCandidate 删除候选人：向量、对象存储、数据库记录一并清理
func (p *Pipeline) DeleteCandidate(ctx context.Context, candidateID string) error {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.DeleteCandidate",
		trace.WithAttributes(attribute.String("candidate.id", candidateID)))
	defer span.End()

	if p.storage.MySQL == nil {
		return ErrStorageNotInit
	}

	candidate, err := p.storage.MySQL.GetCandidateByID(ctx, candidateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCandidateNotFound
		}
		return fmt.Errorf("查询候选人失败: %w", err)
	}

	if p.storage.Qdrant != nil {
		if err := p.storage.Qdrant.DeleteByDocumentID(ctx, candidateID); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("删除候选人向量失败: %w", err)
		}
	}
	if p.storage.MinIO != nil && candidate.ParsedObjectKey != "" {
		if err := p.storage.MinIO.DeleteParsedResume(ctx, candidate.ParsedObjectKey); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("candidate_id", candidateID).
				Msg("删除解析简历对象失败")
		}
	}

	if err := p.storage.MySQL.DB().WithContext(ctx).
		Delete(&models.Candidate{}, "candidate_id = ?", candidateID).Error; err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return fmt.Errorf("删除候选人记录失败: %w", err)
	}

	if p.storage.Redis != nil {
		if err := p.storage.Redis.InvalidateSearchSessions(ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("清理搜索会话缓存失败")
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
