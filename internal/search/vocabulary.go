package search

// Vocabulary 词法打分使用的静态词表。
// 作为可插拔配置注入而不是硬编码在打分器内部，便于后续扩展多语言词表。
// 当前默认词表为英文。
type Vocabulary struct {
	// StopWords 停用词，含通用英文停用词和招聘领域的高频噪声词
	StopWords map[string]bool

	// TechSkills 具体技术技能词表。
	// 打分时3倍加权，同时是查询分类（技能型 vs 描述型）的判断依据。
	TechSkills map[string]bool

	// RoleCategories 方向/类别词（backend、devops等）。
	// 打分时与技能词同样3倍加权，但不参与查询分类：
	// "senior backend engineer with five years" 是描述型查询，
	// 不应因为出现方向词就按技能型加权。
	RoleCategories map[string]bool

	// Synonyms 技术术语同义词映射，双向匹配
	Synonyms map[string][]string

	// TitlePatterns 职位头衔的同义模式，用于头衔加权
	TitlePatterns map[string][]string

	// TitleKeywords 职位头衔关键词列表
	TitleKeywords []string
}

// DefaultVocabulary 返回内置的英文默认词表
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		StopWords: toSet(
			"a", "an", "the", "and", "or", "but", "in", "on", "at", "to", "for",
			"of", "with", "by", "from", "as", "is", "was", "are", "were", "been",
			"be", "have", "has", "had", "do", "does", "did", "will", "would",
			"could", "should", "may", "might", "must", "shall", "can", "need",
			"that", "this", "these", "those", "i", "you", "he", "she", "it",
			"we", "they", "what", "which", "who", "whom", "where", "when", "why",
			"how", "all", "each", "every", "both", "few", "more", "most", "other",
			"some", "such", "no", "nor", "not", "only", "own", "same", "so",
			"than", "too", "very", "just", "also", "now", "skills", "experience",
			"years", "work", "working", "job", "position", "role", "level",
			"looking", "seeking", "required", "requirements", "preferred",
		),
		TechSkills: toSet(
			"flutter", "dart", "react", "angular", "vue", "javascript", "typescript",
			"python", "java", "kotlin", "swift", "go", "rust", "ruby", "php",
			"node", "nodejs", "express", "django", "flask", "spring", "rails",
			"sql", "mysql", "postgresql", "mongodb", "redis", "elasticsearch",
			"aws", "azure", "gcp", "docker", "kubernetes", "terraform",
			"react native", "ios", "android",
			"machine learning", "ml", "ai",
			"tensorflow", "pytorch", "pandas", "numpy", "scikit",
			"html", "css", "sass", "tailwind", "bootstrap",
			"git", "agile", "scrum", "jira", "figma", "sketch",
		),
		RoleCategories: toSet(
			"mobile", "frontend", "backend", "fullstack", "devops", "mlops",
		),
		Synonyms: map[string][]string{
			"react":                   {"reactjs", "react.js"},
			"reactjs":                 {"react", "react.js"},
			"vue":                     {"vuejs", "vue.js"},
			"vuejs":                   {"vue", "vue.js"},
			"angular":                 {"angularjs", "angular.js"},
			"node":                    {"nodejs", "node.js"},
			"nodejs":                  {"node", "node.js"},
			"javascript":              {"js", "ecmascript"},
			"js":                      {"javascript", "ecmascript"},
			"typescript":              {"ts"},
			"ts":                      {"typescript"},
			"python":                  {"py"},
			"py":                      {"python"},
			"golang":                  {"go"},
			"go":                      {"golang"},
			"kubernetes":              {"k8s"},
			"k8s":                     {"kubernetes"},
			"postgresql":              {"postgres", "psql"},
			"postgres":                {"postgresql", "psql"},
			"mongodb":                 {"mongo"},
			"mongo":                   {"mongodb"},
			"elasticsearch":           {"elastic", "es"},
			"machine learning":        {"ml", "machinelearning"},
			"ml":                      {"machine learning", "machinelearning"},
			"artificial intelligence": {"ai"},
			"ai":                      {"artificial intelligence"},
			"frontend":                {"front-end", "front end"},
			"backend":                 {"back-end", "back end"},
			"fullstack":               {"full-stack", "full stack"},
			"devops":                  {"dev-ops", "dev ops"},
			"react native":            {"reactnative", "rn"},
			"nextjs":                  {"next.js", "next"},
			"nuxtjs":                  {"nuxt.js", "nuxt"},
		},
		TitlePatterns: map[string][]string{
			"developer":      {"engineer", "dev", "programmer", "coder"},
			"engineer":       {"developer", "dev"},
			"senior":         {"sr", "sr.", "lead", "principal"},
			"junior":         {"jr", "jr.", "entry"},
			"frontend":       {"front-end", "front end", "ui"},
			"backend":        {"back-end", "back end", "server"},
			"fullstack":      {"full-stack", "full stack"},
			"data scientist": {"data science", "ml engineer"},
			"devops":         {"sre", "site reliability", "platform engineer"},
			"mobile":         {"ios", "android", "app developer"},
		},
		TitleKeywords: []string{
			"developer", "engineer", "designer", "manager", "lead",
			"senior", "junior", "architect", "analyst", "scientist",
		},
	}
}

// IsBoostedTerm 判断词是否应获得3倍打分加权（技能词或方向词）
func (v *Vocabulary) IsBoostedTerm(word string) bool {
	return v.TechSkills[word] || v.RoleCategories[word]
}

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
