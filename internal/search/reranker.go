package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/tracing"
	"ai-recruiter-go/internal/types"
)

// RerankerState 重排序器的可用状态。
// 状态只在构造和显式Reconfigure时评估，不在每次请求时隐式重查。
type RerankerState string

const (
	// RerankerDisabled 未配置API密钥，重排序跳过
	RerankerDisabled RerankerState = "disabled"
	// RerankerReady 已配置，可以发起重排序调用
	RerankerReady RerankerState = "ready"
)

// CohereReranker 调用Cohere Rerank API做交叉编码重排序。
// 可选组件：不可用或调用失败时静默降级为按检索分排序，不向调用方抛错。
type CohereReranker struct {
	mu      sync.RWMutex
	state   RerankerState
	apiKey  string
	baseURL string
	model   string

	httpClient *http.Client
	tracer     trace.Tracer
}

// NewCohereReranker 创建重排序器。API密钥为空时进入Disabled状态，
// 这不是错误：重排序是可选增强，密钥可以后续通过Reconfigure补充。
func NewCohereReranker(cfg config.CohereConfig) *CohereReranker {
	state := RerankerDisabled
	if cfg.APIKey != "" {
		state = RerankerReady
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &CohereReranker{
		state:      state,
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("ai-recruiter-go/internal/search"),
	}
}

// State 返回当前状态
func (r *CohereReranker) State() RerankerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Reconfigure 用新密钥重新评估可用状态。
// 这是状态改变的唯一入口，密钥清空则回到Disabled。
func (r *CohereReranker) Reconfigure(apiKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apiKey = apiKey
	if apiKey != "" {
		r.state = RerankerReady
	} else {
		r.state = RerankerDisabled
	}
}

// cohereRerankRequest Cohere v2 rerank请求体
type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

// cohereRerankResponse Cohere v2 rerank响应体
type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// sortByScore 按分数降序稳定排序，平分保持原有顺序
func sortByScore(candidates []types.RerankCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
}

// Rerank 对候选列表重排序。
// Ready状态下把全部候选一次性批量送出，返回的相关度分按下标映射回填；
// Disabled或调用失败时保留检索分并按分数降序稳定排序返回，绝不报错。
func (r *CohereReranker) Rerank(ctx context.Context, query string, candidates []types.RerankCandidate) []types.RerankCandidate {
	if len(candidates) == 0 {
		return candidates
	}

	ctx, span := r.tracer.Start(ctx, "reranker.Rerank")
	defer span.End()
	span.SetAttributes(
		attribute.String("rerank.query", tracing.SafeQueryText(query)),
		attribute.Int("rerank.candidate_count", len(candidates)),
	)

	r.mu.RLock()
	state, apiKey := r.state, r.apiKey
	r.mu.RUnlock()

	if state != RerankerReady {
		span.SetAttributes(attribute.String("rerank.state", string(state)))
		sortByScore(candidates)
		return candidates
	}

	scores, err := r.callRerank(ctx, apiKey, query, candidates)
	if err != nil {
		// 静默降级，不影响检索结果的可用性
		tracing.RecordError(span, err, tracing.ErrorTypeReranker)
		logger.Ctx(ctx).Warn().Err(err).Msg("重排序调用失败，降级为检索分排序")
		sortByScore(candidates)
		return candidates
	}

	for idx, score := range scores {
		if idx >= 0 && idx < len(candidates) {
			candidates[idx].Score = score
		}
	}
	sortByScore(candidates)
	return candidates
}

// callRerank 发起一次批量重排序调用，返回 下标->相关度分 映射
func (r *CohereReranker) callRerank(ctx context.Context, apiKey, query string, candidates []types.RerankCandidate) (map[int]float64, error) {
	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Text
	}

	reqBody := cohereRerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      len(candidates),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化重排序请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建重排序请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("重排序请求发送失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取重排序响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("重排序API返回状态码 %d: %s", resp.StatusCode, tracing.TruncateString(string(body), tracing.DefaultMaxLength))
	}

	var parsed cohereRerankResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析重排序响应失败: %w", err)
	}

	scores := make(map[int]float64, len(parsed.Results))
	for _, result := range parsed.Results {
		scores[result.Index] = result.RelevanceScore
	}
	return scores, nil
}
