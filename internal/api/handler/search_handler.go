package handler

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/processor"
	"ai-recruiter-go/internal/search"
	"ai-recruiter-go/internal/types"
)

// SearchHandler 处理候选人搜索相关请求
type SearchHandler struct {
	searchService *processor.SearchService
	reranker      *search.CohereReranker
}

// NewSearchHandler 创建搜索Handler
func NewSearchHandler(searchService *processor.SearchService, reranker *search.CohereReranker) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		reranker:      reranker,
	}
}

// HandleSearch 执行候选人搜索。
// POST /api/v1/search
func (h *SearchHandler) HandleSearch(ctx context.Context, c *app.RequestContext) {
	var req types.SearchRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求格式错误: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "query 不能为空"})
		return
	}

	resp, err := h.searchService.Search(ctx, &req)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("搜索请求失败")
		c.JSON(consts.StatusInternalServerError, utils.H{"error": "搜索失败"})
		return
	}

	c.JSON(consts.StatusOK, resp)
}

// rerankerConfigRequest 重排序器配置请求体
type rerankerConfigRequest struct {
	APIKey string `json:"api_key"`
}

// HandleConfigureReranker 运行时启停重排序器。
// 传入非空api_key启用，传入空串禁用。
// PUT /api/v1/admin/reranker
func (h *SearchHandler) HandleConfigureReranker(ctx context.Context, c *app.RequestContext) {
	if h.reranker == nil {
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "重排序器未装配"})
		return
	}

	var req rerankerConfigRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求格式错误: " + err.Error()})
		return
	}

	h.reranker.Reconfigure(req.APIKey)
	c.JSON(consts.StatusOK, utils.H{"state": string(h.reranker.State())})
}

// HandleRerankerState 查询重排序器当前状态。
// GET /api/v1/admin/reranker
func (h *SearchHandler) HandleRerankerState(ctx context.Context, c *app.RequestContext) {
	if h.reranker == nil {
		c.JSON(consts.StatusOK, utils.H{"state": "disabled"})
		return
	}
	c.JSON(consts.StatusOK, utils.H{"state": string(h.reranker.State())})
}
