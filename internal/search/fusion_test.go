package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ai-recruiter-go/internal/config"
)

func newTestFusion() *HybridFusion {
	vocab := DefaultVocabulary()
	lexical := NewLexicalScorer(vocab, 1.5)
	return NewHybridFusion(lexical, vocab, config.DefaultSearchConfig())
}

func TestHybridFusion_QueryClassification(t *testing.T) {
	f := newTestFusion()

	// 单个技能词 → 技能型
	assert.True(t, f.IsSkillQuery("flutter"))
	// 两个有效词 → 技能型
	assert.True(t, f.IsSkillQuery("react developer"))
	// 长描述但包含技能词 → 技能型
	assert.True(t, f.IsSkillQuery("candidate familiar with kubernetes deployments and monitoring tooling"))
	// 去停用词后仍是长描述且无技能词 → 描述型
	assert.False(t, f.IsSkillQuery("Looking for a senior backend engineer with five years experience"))
}

func TestHybridFusion_Weights(t *testing.T) {
	f := newTestFusion()

	vectorW, lexicalW := f.Weights("flutter")
	assert.InDelta(t, 0.2, vectorW, 1e-9)
	assert.InDelta(t, 0.8, lexicalW, 1e-9)

	vectorW, lexicalW = f.Weights("Looking for a senior backend engineer with five years experience")
	assert.InDelta(t, 0.6, vectorW, 1e-9)
	assert.InDelta(t, 0.4, lexicalW, 1e-9)
}

func TestHybridFusion_Fuse(t *testing.T) {
	f := newTestFusion()

	vectorScores := map[string]float64{"a": 0.5, "b": 1.0}
	lexicalScores := map[string]float64{"a": 1.0, "c": 0.4}

	// "flutter" 是技能型查询: 0.2向量 + 0.8词法
	fused := f.Fuse("flutter", vectorScores, lexicalScores)

	assert.InDelta(t, 0.2*0.5+0.8*1.0, fused["a"], 1e-9)
	// 词法侧缺失按0处理
	assert.InDelta(t, 0.2*1.0, fused["b"], 1e-9)
	// 向量侧缺失按0处理
	assert.InDelta(t, 0.8*0.4, fused["c"], 1e-9)
}

func TestHybridFusion_FuseClampsInput(t *testing.T) {
	f := newTestFusion()

	// 越界输入在融合前截断到[0,1]
	fused := f.Fuse("flutter", map[string]float64{"a": 1.7}, map[string]float64{"a": -0.5})
	assert.InDelta(t, 0.2, fused["a"], 1e-9)
}

func TestSimilarityFromDistance(t *testing.T) {
	assert.InDelta(t, 1.0, SimilarityFromDistance(0), 1e-9)
	assert.InDelta(t, 0.5, SimilarityFromDistance(1), 1e-9)
	assert.Greater(t, SimilarityFromDistance(0.1), SimilarityFromDistance(0.9))
}
