package search

import (
	"math"
	"regexp"
	"strings"
)

// titleContextWindow 文本头部被视为头衔/摘要区域的字符数
const titleContextWindow = 200

var wordPattern = regexp.MustCompile(`\w+`)

// LexicalScorer 无状态的词法相关度打分器。
// 打分是批次相对的：按批次内最大原始分归一化到[0,1]，
// 不同查询批次之间的分数不可比较。
type LexicalScorer struct {
	vocab         *Vocabulary
	titleBoostCap float64
}

// NewLexicalScorer 创建词法打分器。titleBoostCap为头衔加权乘数上限。
func NewLexicalScorer(vocab *Vocabulary, titleBoostCap float64) *LexicalScorer {
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	if titleBoostCap <= 0 {
		titleBoostCap = 1.5
	}
	return &LexicalScorer{vocab: vocab, titleBoostCap: titleBoostCap}
}

// Keywords 提取查询中有意义的关键词：
// 小写分词，过滤停用词和长度<2的词；结果为空时放宽为长度>=3、不过滤停用词。
func (s *LexicalScorer) Keywords(query string) []string {
	allWords := wordPattern.FindAllString(strings.ToLower(query), -1)

	keywords := make([]string, 0, len(allWords))
	for _, w := range allWords {
		if !s.vocab.StopWords[w] && len(w) >= 2 {
			keywords = append(keywords, w)
		}
	}

	if len(keywords) == 0 {
		for _, w := range allWords {
			if len(w) >= 3 {
				keywords = append(keywords, w)
			}
		}
	}

	return keywords
}

// expandSynonyms 用同义词表扩展关键词集合，返回原词加全部同义词
func (s *LexicalScorer) expandSynonyms(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	expanded := make([]string, 0, len(keywords))

	add := func(w string) {
		if !seen[w] {
			seen[w] = true
			expanded = append(expanded, w)
		}
	}

	for _, w := range keywords {
		add(w)
	}
	for _, w := range keywords {
		for _, syn := range s.vocab.Synonyms[strings.ToLower(w)] {
			add(syn)
		}
	}

	return expanded
}

// titleBoost 计算头衔加权乘数，从1.0起步，封顶于titleBoostCap。
// 查询和文本都出现头衔关键词时+0.15，文本出现其同义模式时再+0.1，
// 查询含"<技能> <头衔>"二元组且技能出现在文本头部时+0.2。
func (s *LexicalScorer) titleBoost(query, text string) float64 {
	queryLower := strings.ToLower(query)
	textLower := strings.ToLower(text)

	boost := 1.0

	for _, keyword := range s.vocab.TitleKeywords {
		if !strings.Contains(queryLower, keyword) {
			continue
		}
		if strings.Contains(textLower, keyword) {
			boost += 0.15
		}
		for _, synonym := range s.vocab.TitlePatterns[keyword] {
			if strings.Contains(textLower, synonym) {
				boost += 0.1
				break
			}
		}
	}

	// "flutter developer" 这类查询：技能词出现在文本头部（头衔/摘要区域）时额外加权
	queryWords := strings.Fields(queryLower)
	titleKeywordSet := toSet(s.vocab.TitleKeywords...)
	for i, word := range queryWords {
		if !s.vocab.IsBoostedTerm(word) {
			continue
		}
		if i+1 < len(queryWords) && titleKeywordSet[queryWords[i+1]] {
			head := textLower
			if len(head) > titleContextWindow {
				head = head[:titleContextWindow]
			}
			if strings.Contains(head, word) {
				boost += 0.2
			}
		}
	}

	return math.Min(boost, s.titleBoostCap)
}

// Score 计算查询与一组文本的词法相关度，返回归一化到[0,1]的分数。
// 词频取对数刻度，技能词3倍加权，仅同义词命中按0.8折算，
// 整句短语命中追加 2×|关键词数|，最后乘头衔加权并按批次最大值归一化。
func (s *LexicalScorer) Score(query string, texts map[string]string) map[string]float64 {
	keywords := s.Keywords(query)
	originalSet := toSet(keywords...)
	expanded := s.expandSynonyms(keywords)

	queryLower := strings.ToLower(query)

	scores := make(map[string]float64, len(texts))
	maxScore := 0.001 // 避免除零

	for id, text := range texts {
		textLower := strings.ToLower(text)
		score := 0.0

		for _, word := range expanded {
			count := strings.Count(textLower, word)
			if count == 0 {
				continue
			}

			base := 1 + math.Log(1+float64(count))

			if s.vocab.IsBoostedTerm(word) {
				base *= 3
			}
			if !originalSet[word] {
				base *= 0.8 // 仅同义词命中，权重略低于原词
			}

			score += base
		}

		if queryLower != "" && strings.Contains(textLower, queryLower) {
			score += float64(len(keywords)) * 2
		}

		score *= s.titleBoost(query, text)

		scores[id] = score
		if score > maxScore {
			maxScore = score
		}
	}

	for id, score := range scores {
		scores[id] = score / maxScore
	}

	return scores
}
