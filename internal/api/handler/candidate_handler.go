package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"

	"ai-recruiter-go/internal/constants"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/processor"
	"ai-recruiter-go/internal/storage"
	"ai-recruiter-go/internal/storage/models"
	"ai-recruiter-go/internal/types"
)

// CandidateHandler 处理候选人的增删查和索引重建
type CandidateHandler struct {
	pipeline *processor.Pipeline
	storage  *storage.Storage
}

// NewCandidateHandler 创建候选人Handler
func NewCandidateHandler(pipeline *processor.Pipeline, storageManager *storage.Storage) *CandidateHandler {
	return &CandidateHandler{
		pipeline: pipeline,
		storage:  storageManager,
	}
}

// candidateView 对外返回的候选人视图，JSON列反序列化为结构化字段
type candidateView struct {
	CandidateID     string                 `json:"candidate_id"`
	Name            string                 `json:"name"`
	Email           string                 `json:"email,omitempty"`
	Phone           string                 `json:"phone,omitempty"`
	JobTitle        string                 `json:"job_title"`
	Location        string                 `json:"location"`
	ExperienceYears float64                `json:"experience_years"`
	Summary         string                 `json:"summary"`
	Skills          []string               `json:"skills"`
	Languages       []types.LanguageRecord `json:"languages"`
	IndexStatus     string                 `json:"index_status"`
	SegmentCount    int                    `json:"segment_count"`
}

func viewFromModel(c *models.Candidate) candidateView {
	view := candidateView{
		CandidateID:     c.CandidateID,
		Name:            c.Name,
		Email:           c.Email,
		Phone:           c.Phone,
		JobTitle:        c.JobTitle,
		Location:        c.Location,
		ExperienceYears: c.ExperienceYears,
		Summary:         c.Summary,
		Skills:          []string{},
		Languages:       []types.LanguageRecord{},
		IndexStatus:     c.IndexStatus,
		SegmentCount:    c.SegmentCount,
	}
	if len(c.SkillsJSON) > 0 {
		_ = json.Unmarshal(c.SkillsJSON, &view.Skills)
	}
	if len(c.LanguagesJSON) > 0 {
		_ = json.Unmarshal(c.LanguagesJSON, &view.Languages)
	}
	return view
}

// HandleCreateCandidate 接收解析后的结构化简历并排队索引。
// POST /api/v1/candidates
func (h *CandidateHandler) HandleCreateCandidate(ctx context.Context, c *app.RequestContext) {
	var resume types.StructuredResume
	if err := c.BindAndValidate(&resume); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if strings.TrimSpace(resume.Name) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "name 不能为空"})
		return
	}

	source := c.Query("source")
	if source == "" {
		source = constants.IngestSourceUpload
	}

	candidateID, err := h.pipeline.EnqueueCandidate(ctx, &resume, source)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("候选人入库失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "候选人入库失败"})
		return
	}

	// 索引是异步的，返回202让调用方轮询状态
	c.JSON(consts.StatusAccepted, utils.H{
		"candidate_id": candidateID,
		"index_status": models.IndexStatusPending,
	})
}

// HandleGetCandidate 查询单个候选人。
// GET /api/v1/candidates/:candidate_id
func (h *CandidateHandler) HandleGetCandidate(ctx context.Context, c *app.RequestContext) {
	candidateID := c.Param("candidate_id")
	if candidateID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "candidate_id 不能为空"})
		return
	}

	candidate, err := h.storage.MySQL.GetCandidateByID(ctx, candidateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "候选人不存在"})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("candidate_id", candidateID).Msg("查询候选人失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询候选人失败"})
		return
	}

	c.JSON(consts.StatusOK, viewFromModel(candidate))
}

// HandleListCandidates 分页列出候选人，可按索引状态过滤。
// GET /api/v1/candidates?page=1&page_size=20&status=INDEXED
func (h *CandidateHandler) HandleListCandidates(ctx context.Context, c *app.RequestContext) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	status := c.Query("status")

	candidates, total, err := h.storage.MySQL.ListCandidates(ctx, status, page, pageSize)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("分页查询候选人失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "查询候选人失败"})
		return
	}

	views := make([]candidateView, len(candidates))
	for i := range candidates {
		views[i] = viewFromModel(&candidates[i])
	}

	c.JSON(consts.StatusOK, utils.H{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"data":      views,
	})
}

// HandleDeleteCandidate 删除候选人及其向量和解析结果。
// DELETE /api/v1/candidates/:candidate_id
func (h *CandidateHandler) HandleDeleteCandidate(ctx context.Context, c *app.RequestContext) {
	candidateID := c.Param("candidate_id")
	if candidateID == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "candidate_id 不能为空"})
		return
	}

	if err := h.pipeline.DeleteCandidate(ctx, candidateID); err != nil {
		if errors.Is(err, processor.ErrCandidateNotFound) {
			c.JSON(consts.StatusNotFound, utils.H{"error": "候选人不存在"})
			return
		}
		logger.Ctx(ctx).Error().Err(err).Str("candidate_id", candidateID).Msg("删除候选人失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "删除候选人失败"})
		return
	}

	c.JSON(consts.StatusOK, utils.H{"deleted": candidateID})
}

// HandleReindexAll 为全部候选人排队重建向量索引。
// clear=true时先清空向量集合（维度或模型变更场景）。
// POST /api/v1/admin/reindex?clear=true
func (h *CandidateHandler) HandleReindexAll(ctx context.Context, c *app.RequestContext) {
	clearFirst := c.Query("clear") == "true"
	queued, err := h.pipeline.ReindexAll(ctx, clearFirst)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("重建索引排队失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "重建索引排队失败"})
		return
	}

	c.JSON(consts.StatusAccepted, utils.H{"queued": queued})
}

// HandleHealth 健康检查，逐个探测后端依赖。
// GET /api/v1/health
func (h *CandidateHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	components := utils.H{}
	healthy := true

	if h.storage.Redis != nil {
		if err := h.storage.Redis.Ping(ctx); err != nil {
			components["redis"] = "down"
			healthy = false
		} else {
			components["redis"] = "up"
		}
	}
	if h.storage.Qdrant != nil {
		if _, err := h.storage.Qdrant.CountPoints(ctx); err != nil {
			components["qdrant"] = "down"
			healthy = false
		} else {
			components["qdrant"] = "up"
		}
	}
	if h.storage.MySQL != nil {
		if db, err := h.storage.MySQL.DB().DB(); err != nil || db.PingContext(ctx) != nil {
			components["mysql"] = "down"
			healthy = false
		} else {
			components["mysql"] = "up"
		}
	}

	status := "ok"
	code := consts.StatusOK
	if !healthy {
		status = "degraded"
		code = consts.StatusServiceUnavailable
	}
	c.JSON(code, utils.H{"status": status, "components": components})
}
