package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/parser"
	"ai-recruiter-go/internal/tracing"
	"ai-recruiter-go/internal/types"
)

// VectorHit 向量索引返回的单条命中
type VectorHit struct {
	SegmentID string
	Distance  float64 // 越小越相似
	Text      string
	Payload   map[string]interface{}
}

// VectorFilter 可下推到向量索引的谓词。
// 索引侧只支持标量等值/范围匹配，多值过滤由调用方在检索后处理。
type VectorFilter struct {
	MinExperienceYears *float64
	MaxExperienceYears *float64
}

// VectorFilterFrom 从检索过滤条件提取可下推的谓词，无可下推谓词时返回nil
func VectorFilterFrom(filters types.SearchFilters) *VectorFilter {
	if !filters.HasVectorPredicate() {
		return nil
	}
	return &VectorFilter{
		MinExperienceYears: filters.MinExperience,
		MaxExperienceYears: filters.MaxExperience,
	}
}

// SegmentQuerier 检索器依赖的向量索引查询能力
type SegmentQuerier interface {
	Query(ctx context.Context, vector []float64, k int, filter *VectorFilter) ([]VectorHit, error)
}

// Retriever 编排一次检索：查询向量化、召回池定容、过滤回退、
// 分段打分融合、按文档聚合。单次查询内无共享可变状态，可并发调用。
type Retriever struct {
	embedder embedding.Embedder
	index    SegmentQuerier
	lexical  *LexicalScorer
	fusion   *HybridFusion
	cfg      config.SearchConfig
	tracer   trace.Tracer
}

// NewRetriever 创建检索器，所有依赖显式注入
func NewRetriever(embedder embedding.Embedder, index SegmentQuerier, lexical *LexicalScorer, fusion *HybridFusion, cfg config.SearchConfig) *Retriever {
	return &Retriever{
		embedder: embedder,
		index:    index,
		lexical:  lexical,
		fusion:   fusion,
		cfg:      cfg,
		tracer:   otel.Tracer("ai-recruiter-go/internal/search"),
	}
}

// fetchPoolSize 计算召回池大小。
// 存在检索后SQL过滤时取更宽的池子，保证过滤链走完后仍有足够候选。
func (r *Retriever) fetchPoolSize(topK int, needsPostFilter bool) int {
	if needsPostFilter {
		if r.cfg.PoolMultiplier*topK > r.cfg.FilteredPoolFloor {
			return r.cfg.PoolMultiplier * topK
		}
		return r.cfg.FilteredPoolFloor
	}
	if topK > r.cfg.MinFetchPool {
		return topK
	}
	return r.cfg.MinFetchPool
}

// Retrieve 执行检索并返回规范化查询与按分数降序的文档级结果。
// 空结果是合法输出（无匹配），错误只在向量化或索引彻底不可用时返回，
// 由上层决定降级路径。
func (r *Retriever) Retrieve(ctx context.Context, query string, filters types.SearchFilters, topK int) (string, []types.CandidateResult, error) {
	ctx, span := r.tracer.Start(ctx, "retriever.Retrieve")
	defer span.End()

	normalized := strings.TrimSpace(query)
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}

	fetchK := r.fetchPoolSize(topK, filters.NeedsPostFilter())
	span.SetAttributes(
		attribute.String("search.query", tracing.SafeQueryText(normalized)),
		attribute.Int("search.top_k", topK),
		attribute.Int("search.fetch_k", fetchK),
	)

	// 查询只向量化一次
	vectors, err := r.embedder.EmbedStrings(ctx, []string{normalized})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return normalized, nil, fmt.Errorf("查询向量化失败: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		err := fmt.Errorf("向量化服务返回空向量")
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return normalized, nil, err
	}
	queryVector := vectors[0]

	// 带谓词检索，谓词命中为空（或失败）时退回无过滤检索
	filter := VectorFilterFrom(filters)

	hits, err := r.index.Query(ctx, queryVector, fetchK, filter)
	if err != nil {
		if filter == nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return normalized, nil, fmt.Errorf("向量检索失败: %w", err)
		}
		// 过滤检索失败不终止整次查询，走无过滤回退
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		logger.Ctx(ctx).Warn().Err(err).Msg("过滤检索失败，回退到无过滤检索")
		hits = nil
	}

	if len(hits) == 0 && filter != nil {
		fallbackK := topK
		if fallbackK < r.cfg.MinFetchPool {
			fallbackK = r.cfg.MinFetchPool
		}
		hits, err = r.index.Query(ctx, queryVector, fallbackK, nil)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return normalized, nil, fmt.Errorf("向量检索失败: %w", err)
		}
	}

	span.SetAttributes(attribute.Int("search.hit_count", len(hits)))
	if len(hits) == 0 {
		// 两次尝试后仍为空是合法的"无匹配"结果
		return normalized, []types.CandidateResult{}, nil
	}

	// 分段级打分与融合
	texts := make(map[string]string, len(hits))
	vectorScores := make(map[string]float64, len(hits))
	for _, hit := range hits {
		texts[hit.SegmentID] = hit.Text
		vectorScores[hit.SegmentID] = SimilarityFromDistance(hit.Distance)
	}

	lexicalScores := r.lexical.Score(normalized, texts)
	fusedScores := r.fusion.Fuse(normalized, vectorScores, lexicalScores)

	// 按融合分降序排出分段序，平分时保留命中顺序（稳定排序）
	ranked := make([]VectorHit, len(hits))
	copy(ranked, hits)
	sort.SliceStable(ranked, func(i, j int) bool {
		return fusedScores[ranked[i].SegmentID] > fusedScores[ranked[j].SegmentID]
	})

	candidates := r.aggregate(ranked, fusedScores)
	span.SetAttributes(attribute.Int("search.candidate_count", len(candidates)))

	logger.Ctx(ctx).Debug().
		Int("hits", len(hits)).
		Int("candidates", len(candidates)).
		Msg("检索完成")

	return normalized, candidates, nil
}

// aggregate 将分段级融合分按文档聚合。
// 文档分 = 0.7×最高分段分 + 0.3×平均分段分：单个高分分段不足以代表
// 整体匹配，跨多个分段（技能+经历+头衔）印证的候选人应当排在前面。
// 代表性文本取贡献最大的前若干个分段拼接。
func (r *Retriever) aggregate(ranked []VectorHit, fusedScores map[string]float64) []types.CandidateResult {
	type docGroup struct {
		chunkScores []float64
		chunkTexts  []string
	}

	groups := make(map[string]*docGroup)
	order := make([]string, 0) // 首次出现顺序，平分时的决胜依据

	for _, hit := range ranked {
		docID := parser.DocumentIDOf(hit.SegmentID)
		group, ok := groups[docID]
		if !ok {
			group = &docGroup{}
			groups[docID] = group
			order = append(order, docID)
		}
		group.chunkScores = append(group.chunkScores, fusedScores[hit.SegmentID])
		group.chunkTexts = append(group.chunkTexts, hit.Text)
	}

	candidates := make([]types.CandidateResult, 0, len(order))
	for _, docID := range order {
		group := groups[docID]
		if len(group.chunkScores) == 0 {
			// 无存活分段分的文档直接排除，不输出合成零分
			continue
		}

		best := group.chunkScores[0]
		sum := 0.0
		for _, s := range group.chunkScores {
			if s > best {
				best = s
			}
			sum += s
		}
		mean := sum / float64(len(group.chunkScores))

		texts := group.chunkTexts
		if len(texts) > r.cfg.RepresentativeChunks {
			texts = texts[:r.cfg.RepresentativeChunks]
		}

		candidates = append(candidates, types.CandidateResult{
			DocumentID:         docID,
			Score:              r.cfg.BestChunkWeight*best + r.cfg.MeanChunkWeight*mean,
			ChunkScores:        group.chunkScores,
			RepresentativeText: strings.Join(texts, " "),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	return candidates
}
