package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/constants"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/search"
	"ai-recruiter-go/internal/storage"
	"ai-recruiter-go/internal/storage/models"
	"ai-recruiter-go/internal/tracing"
	"ai-recruiter-go/internal/types"
)

var searchTracer = otel.Tracer("ai-recruiter-go/processor/search")

// fallbackScore SQL文本搜索兜底路径的固定得分，
// 该路径没有相关性打分，统一给一个中间值
const fallbackScore = 0.5

// SearchService 组合检索、重排序、SQL校验过滤和会话缓存的门面
type SearchService struct {
	storage   *storage.Storage
	retriever *search.Retriever
	reranker  *search.CohereReranker
	cfg       config.SearchConfig
}

// NewSearchService 创建搜索服务
func NewSearchService(storageManager *storage.Storage, retriever *search.Retriever, reranker *search.CohereReranker, cfg config.SearchConfig) (*SearchService, error) {
	if storageManager == nil {
		return nil, ErrStorageNotInit
	}
	if retriever == nil {
		return nil, fmt.Errorf("检索器未初始化")
	}
	return &SearchService{
		storage:   storageManager,
		retriever: retriever,
		reranker:  reranker,
		cfg:       cfg,
	}, nil
}

// queryFingerprint 查询指纹，同样的查询+过滤条件+参数命中同一份会话缓存
func queryFingerprint(req *types.SearchRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "q=%s|k=%d|r=%t", strings.ToLower(strings.TrimSpace(req.Query)), req.TopK, req.UseReranking)
	if req.Filters.MinExperience != nil {
		fmt.Fprintf(h, "|minexp=%g", *req.Filters.MinExperience)
	}
	if req.Filters.MaxExperience != nil {
		fmt.Fprintf(h, "|maxexp=%g", *req.Filters.MaxExperience)
	}
	if req.Filters.Location != "" {
		fmt.Fprintf(h, "|loc=%s", strings.ToLower(req.Filters.Location))
	}
	for _, lang := range req.Filters.Languages {
		fmt.Fprintf(h, "|lang=%s", strings.ToLower(lang))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalize 补全请求的默认参数
func (s *SearchService) normalize(req *types.SearchRequest) {
	req.Query = strings.TrimSpace(req.Query)
	if req.TopK <= 0 {
		req.TopK = s.cfg.DefaultTopK
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = req.TopK
	}
}

// Search 执行一次候选人搜索。
// 缓存命中直接分页返回；未命中走 检索->重排序->SQL校验 的完整链路，
// 检索链路不可用时降级为SQL文本搜索并打上Degraded标记。
func (s *SearchService) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	ctx, span := searchTracer.Start(ctx, "SearchService.Search")
	defer span.End()

	s.normalize(req)
	if req.Query == "" {
		err := fmt.Errorf("查询不能为空")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("search.query", tracing.SafeQueryText(req.Query)),
		attribute.Int("search.top_k", req.TopK),
		attribute.Bool("search.use_reranking", req.UseReranking),
		attribute.Int("search.page", req.Page),
	)

	started := time.Now()
	queryHash := queryFingerprint(req)

	// 会话缓存命中：直接切片分页
	if s.storage.Redis != nil {
		matches, total, err := s.storage.Redis.GetSearchSessionPage(ctx, queryHash, req.Page, req.PageSize)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("读取搜索会话缓存失败，走完整检索")
		} else if total > 0 {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			span.SetStatus(codes.Ok, "")
			return &types.SearchResponse{
				Query:    req.Query,
				Total:    int(total),
				Page:     req.Page,
				PageSize: req.PageSize,
				Matches:  matches,
			}, nil
		}
	}

	// 同一查询并发击穿时只放一个请求去重建缓存，
	// 拿不到锁的请求也照常执行，只是不写缓存
	holdsLock := true
	var lockValue string
	if s.storage.Redis != nil {
		lockKey := storage.LockKey(queryHash)
		value, err := s.storage.Redis.AcquireLock(ctx, lockKey, constants.SearchLockTTL)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("获取搜索锁失败")
			holdsLock = false
		} else if value == "" {
			holdsLock = false
		} else {
			lockValue = value
			defer func() {
				if _, relErr := s.storage.Redis.ReleaseLock(ctx, lockKey, lockValue); relErr != nil {
					logger.Ctx(ctx).Warn().Err(relErr).Msg("释放搜索锁失败")
				}
			}()
		}
	}

	matches, degraded, err := s.runSearch(ctx, req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return nil, err
	}

	if s.storage.Redis != nil && holdsLock && !degraded {
		if cacheErr := s.storage.Redis.CacheSearchSession(ctx, queryHash, matches); cacheErr != nil {
			logger.Ctx(ctx).Warn().Err(cacheErr).Msg("写入搜索会话缓存失败")
		}
	}

	s.logQuery(ctx, req, queryHash, len(matches), degraded, time.Since(started))

	response := &types.SearchResponse{
		Query:    req.Query,
		Total:    len(matches),
		Page:     req.Page,
		PageSize: req.PageSize,
		Matches:  paginate(matches, req.Page, req.PageSize),
		Degraded: degraded,
	}
	span.SetAttributes(
		attribute.Int("search.results.total", len(matches)),
		attribute.Bool("search.degraded", degraded),
	)
	span.SetStatus(codes.Ok, "")
	return response, nil
}

// runSearch 完整检索链路，返回排序后的全量匹配（黄金结果集）
func (s *SearchService) runSearch(ctx context.Context, req *types.SearchRequest) ([]types.SearchMatch, bool, error) {
	_, results, err := s.retriever.Retrieve(ctx, req.Query, req.Filters, req.TopK)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("向量检索不可用，降级为SQL文本搜索")
		matches, fbErr := s.fallbackSearch(ctx, req)
		if fbErr != nil {
			return nil, false, fmt.Errorf("检索失败且兜底搜索也失败: %w", fbErr)
		}
		return matches, true, nil
	}

	if len(results) == 0 {
		return []types.SearchMatch{}, false, nil
	}

	// SQL校验过滤：确认候选人仍存在，并应用无法下推的谓词
	ids := make([]string, len(results))
	for i, res := range results {
		ids[i] = res.DocumentID
	}
	verified, err := s.storage.MySQL.FilterCandidates(ctx, ids, req.Filters)
	if err != nil {
		return nil, false, err
	}

	candidates := make([]types.RerankCandidate, 0, len(results))
	for _, res := range results {
		if _, ok := verified[res.DocumentID]; !ok {
			continue
		}
		candidates = append(candidates, types.RerankCandidate{
			ID:    res.DocumentID,
			Text:  res.RepresentativeText,
			Score: res.Score,
		})
	}

	if req.UseReranking && s.reranker != nil {
		candidates = s.reranker.Rerank(ctx, req.Query, candidates)
	}

	matches := make([]types.SearchMatch, 0, len(candidates))
	for _, cand := range candidates {
		row := verified[cand.ID]
		matches = append(matches, matchFromRow(&row, cand.Score, cand.Text))
	}
	return matches, false, nil
}

// matchFromRow 合并候选人记录与检索得分为对外视图
func matchFromRow(row *models.Candidate, score float64, matchedText string) types.SearchMatch {
	var skills []string
	if len(row.SkillsJSON) > 0 {
		_ = json.Unmarshal(row.SkillsJSON, &skills)
	}
	return types.SearchMatch{
		CandidateID:     row.CandidateID,
		Name:            row.Name,
		Email:           row.Email,
		JobTitle:        row.JobTitle,
		Location:        row.Location,
		ExperienceYears: row.ExperienceYears,
		Skills:          skills,
		Score:           score,
		MatchedText:     matchedText,
	}
}

// fallbackSearch SQL文本搜索兜底，固定得分
func (s *SearchService) fallbackSearch(ctx context.Context, req *types.SearchRequest) ([]types.SearchMatch, error) {
	if s.storage.MySQL == nil {
		return nil, ErrStorageNotInit
	}

	candidates, err := s.storage.MySQL.TextSearchCandidates(ctx, req.Query, req.Filters, req.TopK)
	if err != nil {
		return nil, err
	}

	matches := make([]types.SearchMatch, 0, len(candidates))
	for i := range candidates {
		matches = append(matches, matchFromRow(&candidates[i], fallbackScore, candidates[i].Summary))
	}
	return matches, nil
}

// paginate 对黄金结果集切片
func paginate(matches []types.SearchMatch, page, pageSize int) []types.SearchMatch {
	start := (page - 1) * pageSize
	if start >= len(matches) {
		return []types.SearchMatch{}
	}
	end := start + pageSize
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end]
}

// logQuery 写检索审计日志，失败不影响主流程
func (s *SearchService) logQuery(ctx context.Context, req *types.SearchRequest, queryHash string, resultCount int, degraded bool, duration time.Duration) {
	if s.storage.MySQL == nil {
		return
	}
	filtersJSON, err := json.Marshal(req.Filters)
	if err != nil {
		filtersJSON = []byte("{}")
	}
	s.storage.MySQL.LogSearchQuery(ctx, &models.SearchQueryLog{
		QueryText:     req.Query,
		QueryHash:     queryHash,
		FiltersJSON:   datatypes.JSON(filtersJSON),
		TopK:          req.TopK,
		ResultCount:   resultCount,
		UsedReranking: req.UseReranking,
		Degraded:      degraded,
		DurationMs:    duration.Milliseconds(),
	})
}
