package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/types"
)

// ParsedResumeStore 解析后简历的持久化接口
type ParsedResumeStore interface {
	PutParsedResume(ctx context.Context, candidateID string, resume *types.StructuredResume) (string, error)
	GetParsedResume(ctx context.Context, objectKey string) (*types.StructuredResume, error)
	DeleteParsedResume(ctx context.Context, objectKey string) error
}

var _ ParsedResumeStore = (*MinIO)(nil)

// MinIO 对象存储适配器，保存解析后的简历JSON。
// 重建向量索引时从这里回读，不需要重新解析原始文件。
type MinIO struct {
	client       *minio.Client
	cfg          *config.MinIOConfig
	parsedBucket string
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	parsedBucket := cfg.ParsedCVBucket
	if parsedBucket == "" {
		parsedBucket = "parsed-cv"
	}

	m := &MinIO{
		client:       client,
		cfg:          cfg,
		parsedBucket: parsedBucket,
	}

	if err := m.ensureBucketExists(parsedBucket, cfg.Location); err != nil {
		return nil, fmt.Errorf("确保解析简历存储桶 %s 存在失败: %w", parsedBucket, err)
	}

	logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", parsedBucket).Msg("MinIO客户端就绪")
	return m, nil
}

// ensureBucketExists 确保存储桶存在，不存在则创建
func (m *MinIO) ensureBucketExists(bucketName, location string) error {
	exists, err := m.client.BucketExists(context.Background(), bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", bucketName, err)
	}
	if !exists {
		err = m.client.MakeBucket(context.Background(), bucketName, minio.MakeBucketOptions{Region: location})
		if err != nil {
			return fmt.Errorf("创建存储桶 %s 失败: %w", bucketName, err)
		}
		logger.Info().Str("bucket", bucketName).Msg("存储桶已创建")
	}
	return nil
}

// ParsedObjectKey 解析后简历JSON的对象键
func ParsedObjectKey(candidateID string) string {
	return fmt.Sprintf("parsed/%s.json", candidateID)
}

// PutParsedResume 写入解析后的简历JSON，返回对象键
func (m *MinIO) PutParsedResume(ctx context.Context, candidateID string, resume *types.StructuredResume) (string, error) {
	if resume == nil {
		return "", fmt.Errorf("简历不能为空")
	}

	payload, err := json.Marshal(resume)
	if err != nil {
		return "", fmt.Errorf("序列化简历失败: %w", err)
	}

	objectKey := ParsedObjectKey(candidateID)
	_, err = m.client.PutObject(ctx, m.parsedBucket, objectKey,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.parsedBucket, objectKey, err)
	}

	logger.Ctx(ctx).Debug().
		Str("candidate_id", candidateID).
		Str("object_key", objectKey).
		Int("size", len(payload)).
		Msg("解析后简历已写入对象存储")
	return objectKey, nil
}

// GetParsedResume 按对象键读取解析后的简历JSON
func (m *MinIO) GetParsedResume(ctx context.Context, objectKey string) (*types.StructuredResume, error) {
	obj, err := m.client.GetObject(ctx, m.parsedBucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", m.parsedBucket, objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 失败: %w", m.parsedBucket, objectKey, err)
	}

	var resume types.StructuredResume
	if err := json.Unmarshal(data, &resume); err != nil {
		return nil, fmt.Errorf("反序列化简历失败 %s: %w", objectKey, err)
	}
	return &resume, nil
}

// DeleteParsedResume 删除解析后的简历JSON
func (m *MinIO) DeleteParsedResume(ctx context.Context, objectKey string) error {
	err := m.client.RemoveObject(ctx, m.parsedBucket, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除对象 %s/%s 失败: %w", m.parsedBucket, objectKey, err)
	}
	return nil
}
