package search

import (
	"ai-recruiter-go/internal/config"
)

// HybridFusion 按查询类型动态加权，融合向量相似度和词法得分。
// 技能型查询（很短或命中技能词表）偏词法，描述型查询偏语义。
type HybridFusion struct {
	lexical *LexicalScorer
	vocab   *Vocabulary
	cfg     config.SearchConfig
}

// NewHybridFusion 创建融合器，复用词法打分器的分词规则做查询分类
func NewHybridFusion(lexical *LexicalScorer, vocab *Vocabulary, cfg config.SearchConfig) *HybridFusion {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	return &HybridFusion{lexical: lexical, vocab: vocab, cfg: cfg}
}

// IsSkillQuery 判断是否为技能型查询：
// 去停用词后剩余词数<=2，或任一剩余词命中技能词表。
func (f *HybridFusion) IsSkillQuery(query string) bool {
	keywords := f.lexical.Keywords(query)
	if len(keywords) <= 2 {
		return true
	}
	for _, w := range keywords {
		if f.vocab.TechSkills[w] {
			return true
		}
	}
	return false
}

// Weights 返回本次查询的 (向量权重, 词法权重)
func (f *HybridFusion) Weights(query string) (vectorWeight, lexicalWeight float64) {
	if f.IsSkillQuery(query) {
		return f.cfg.SkillVectorWeight, f.cfg.SkillLexicalWeight
	}
	return f.cfg.SemanticVectorWeight, f.cfg.SemanticLexicalWeight
}

// SimilarityFromDistance 将距离（越小越相似）转换为有界相似度 1/(1+d)
func SimilarityFromDistance(distance float64) float64 {
	return 1 / (1 + distance)
}

// clamp01 分数进入融合前统一截断到[0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Fuse 对每个分段计算加权融合分。任一侧缺失的条目按0处理。
// 向量侧分数必须已从距离转换为[0,1]相似度。
func (f *HybridFusion) Fuse(query string, vectorScores, lexicalScores map[string]float64) map[string]float64 {
	vectorWeight, lexicalWeight := f.Weights(query)

	fused := make(map[string]float64, len(vectorScores))

	for id := range vectorScores {
		fused[id] = 0
	}
	for id := range lexicalScores {
		fused[id] = 0
	}

	for id := range fused {
		vector := clamp01(vectorScores[id])
		lexical := clamp01(lexicalScores[id])
		fused[id] = vectorWeight*vector + lexicalWeight*lexical
	}

	return fused
}
