package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer() *LexicalScorer {
	return NewLexicalScorer(DefaultVocabulary(), 1.5)
}

func TestLexicalScorer_ScoresBoundedAndNormalized(t *testing.T) {
	s := newTestScorer()

	texts := map[string]string{
		"a": "Skills: Python, Django, PostgreSQL",
		"b": "Skills: Java, Spring",
		"c": "Role: Accountant. Description: bookkeeping and audits",
	}

	scores := s.Score("python developer", texts)
	require.Len(t, scores, 3)

	for id, score := range scores {
		assert.GreaterOrEqual(t, score, 0.0, "id=%s", id)
		assert.LessOrEqual(t, score, 1.0, "id=%s", id)
	}

	// 批次内原始分最高的条目归一化后恰好为1.0
	assert.InDelta(t, 1.0, scores["a"], 1e-9)
	// 完全不相关的文本保持0分
	assert.Equal(t, 0.0, scores["c"])
}

func TestLexicalScorer_Keywords(t *testing.T) {
	s := newTestScorer()

	// 停用词和单字符词被过滤
	assert.Equal(t, []string{"senior", "backend", "engineer"},
		s.Keywords("a senior backend engineer with experience"))

	// 全部被过滤时放宽为长度>=3且不过滤停用词
	assert.Equal(t, []string{"the", "and"}, s.Keywords("the and"))
}

func TestLexicalScorer_SynonymExpansion(t *testing.T) {
	s := newTestScorer()

	texts := map[string]string{
		"kube": "Skills: k8s, Docker",
		"none": "Skills: Excel",
	}

	// "kubernetes" 通过同义词 "k8s" 命中
	scores := s.Score("kubernetes", texts)
	assert.InDelta(t, 1.0, scores["kube"], 1e-9)
	assert.Equal(t, 0.0, scores["none"])
}

func TestLexicalScorer_TechSkillOutranksPlainWord(t *testing.T) {
	s := newTestScorer()

	texts := map[string]string{
		"skill": "flutter",
		"plain": "gardening",
	}

	scores := s.Score("flutter gardening", texts)
	// 技能词命中3倍加权，排名必须高于普通词命中
	assert.Greater(t, scores["skill"], scores["plain"])
	assert.InDelta(t, 1.0, scores["skill"], 1e-9)
}

func TestLexicalScorer_PhraseBonus(t *testing.T) {
	s := newTestScorer()

	texts := map[string]string{
		"phrase":    "Summary: senior golang developer at a fintech",
		"scattered": "golang mentioned here, developer mentioned there, senior elsewhere",
	}

	scores := s.Score("senior golang developer", texts)
	// 整句短语命中的文本得分更高
	assert.Greater(t, scores["phrase"], scores["scattered"])
}

func TestLexicalScorer_TitleBoostCapped(t *testing.T) {
	s := newTestScorer()

	// 文本堆满头衔关键词和同义模式，乘数也不能超过上限
	text := "senior lead principal developer engineer programmer architect analyst manager designer scientist"
	boost := s.titleBoost("senior developer engineer architect analyst manager designer scientist lead junior", text)
	assert.LessOrEqual(t, boost, 1.5)
	assert.InDelta(t, 1.5, boost, 1e-9)
}

func TestLexicalScorer_TitleBoostBigram(t *testing.T) {
	s := newTestScorer()

	// "<技能> <头衔>" 二元组且技能出现在文本头部
	withSkillInHead := s.titleBoost("flutter developer", "Job Title: Flutter Developer. Summary: mobile apps")
	withoutSkill := s.titleBoost("flutter developer", "Job Title: Backend Developer. Summary: APIs")

	assert.Greater(t, withSkillInHead, withoutSkill)
}

func TestLexicalScorer_EmptyBatch(t *testing.T) {
	s := newTestScorer()
	scores := s.Score("python", map[string]string{})
	assert.Empty(t, scores)
}
