package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
aliyun:
  api_key: "test-aliyun-key"
  embedding:
    model: "text-embedding-v3"
    dimensions: 1024
qdrant:
  endpoint: "http://localhost:6333"
  collection: "cv_segments_test"
cohere:
  api_key: "test-cohere-key"
mysql:
  host: "127.0.0.1"
  port: 3306
  username: "root"
  password: "secret"
  database: "recruiter_test"
redis:
  address: "localhost:6379"
server:
  address: ":9090"
search:
  default_top_k: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test-aliyun-key", cfg.Aliyun.APIKey)
	assert.Equal(t, "cv_segments_test", cfg.Qdrant.Collection)
	assert.Equal(t, "test-cohere-key", cfg.Cohere.APIKey)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Search.DefaultTopK)

	// 未出现在YAML中的字段应填充默认值
	assert.Equal(t, "rerank-v3.5", cfg.Cohere.Model)
	assert.Equal(t, "https://api.cohere.com/v2/rerank", cfg.Cohere.BaseURL)
	assert.Equal(t, "Cosine", cfg.Qdrant.DistanceMetric)
	assert.Equal(t, 1024, cfg.Qdrant.Dimension)
	assert.InDelta(t, 0.7, cfg.Search.BestChunkWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Search.MeanChunkWeight, 1e-9)
	assert.InDelta(t, 1.5, cfg.Search.TitleBoostCap, 1e-9)
	assert.Equal(t, 60, cfg.Search.FilteredPoolFloor)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliyun:\n  api_key: \"file-key\"\n"), 0644))

	t.Setenv("ALIYUN_API_KEY", "env-key")
	t.Setenv("COHERE_API_KEY", "env-cohere-key")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// 环境变量优先于文件中的值
	assert.Equal(t, "env-key", cfg.Aliyun.APIKey)
	assert.Equal(t, "env-cohere-key", cfg.Cohere.APIKey)
}

func TestLoadConfig_MissingFileInTest(t *testing.T) {
	// 测试环境下找不到配置文件时返回默认配置而不是报错
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, DefaultSearchConfig(), cfg.Search)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aliyun: [not a map"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestDefaultSearchConfig_WeightsSumToOne(t *testing.T) {
	cfg := DefaultSearchConfig()

	assert.InDelta(t, 1.0, cfg.BestChunkWeight+cfg.MeanChunkWeight, 1e-9)
	assert.InDelta(t, 1.0, cfg.SkillLexicalWeight+cfg.SkillVectorWeight, 1e-9)
	assert.InDelta(t, 1.0, cfg.SemanticVectorWeight+cfg.SemanticLexicalWeight, 1e-9)
}
