package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/constants"
	"ai-recruiter-go/internal/tracing"
	"ai-recruiter-go/internal/types"
)

// ErrNotFound key不存在，包装 redis.Nil 以隔离底层依赖
var ErrNotFound = redis.Nil

var redisTracer = otel.Tracer("ai-recruiter-go/storage/redis")

// Redis 搜索会话缓存和分布式锁的适配器
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis客户端并注册OpenTelemetry钩子
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis配置不能为空")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis地址不能为空")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}

	client := redis.NewClient(opt)

	// 所有Redis操作统一经redisotel上报span
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("注册Redis追踪钩子失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("连接Redis失败 %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.Ping(ctx).Err()
}

// SessionKey 搜索会话缓存key，queryHash为查询指纹
func SessionKey(queryHash string) string {
	return fmt.Sprintf(constants.KeySearchSession, queryHash)
}

// LockKey 搜索会话写锁key
func LockKey(queryHash string) string {
	return fmt.Sprintf(constants.KeySearchLock, queryHash)
}

// CacheSearchSession 将完整的排序后结果集（黄金结果集）缓存到ZSET。
// 成员为序列化后的匹配项，分数是倒序排名，ZRevRange取出即为原始顺序。
func (r *Redis) CacheSearchSession(ctx context.Context, queryHash string, matches []types.SearchMatch) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	if len(matches) == 0 {
		return nil // 空结果不缓存
	}

	key := SessionKey(queryHash)

	members := make([]redis.Z, len(matches))
	for i, match := range matches {
		payload, err := json.Marshal(match)
		if err != nil {
			return fmt.Errorf("序列化搜索结果失败: %w", err)
		}
		members[i] = redis.Z{
			Score:  float64(len(matches) - i),
			Member: string(payload),
		}
	}

	pipe := r.Client.Pipeline()
	pipe.Del(ctx, key) // 先清旧缓存，避免新旧结果混在同一个ZSET
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, constants.SearchSessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// GetSearchSessionPage 从缓存的会话中取一页结果。
// 缓存未命中（key不存在）返回 (nil, 0, nil)。
func (r *Redis) GetSearchSessionPage(ctx context.Context, queryHash string, page, pageSize int) ([]types.SearchMatch, int64, error) {
	key := SessionKey(queryHash)

	ctx, span := redisTracer.Start(ctx, "Redis.GetSearchSessionPage",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemRedis,
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
			attribute.Int("search.page", page),
			attribute.Int("search.page_size", pageSize),
		))
	defer span.End()

	if r.Client == nil {
		return nil, 0, fmt.Errorf("redis客户端未初始化")
	}
	if page < 1 {
		page = 1
	}
	start := int64(page-1) * int64(pageSize)
	end := start + int64(pageSize) - 1

	pipe := r.Client.Pipeline()
	countCmd := pipe.ZCard(ctx, key)
	rangeCmd := pipe.ZRevRange(ctx, key, start, end)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, err
	}

	total := countCmd.Val()
	if total == 0 {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		span.SetStatus(codes.Ok, "cache miss")
		return nil, 0, nil
	}

	raw := rangeCmd.Val()
	matches := make([]types.SearchMatch, 0, len(raw))
	for _, item := range raw {
		var match types.SearchMatch
		if err := json.Unmarshal([]byte(item), &match); err != nil {
			// 单条损坏跳过，不让整页失败
			span.RecordError(err)
			continue
		}
		matches = append(matches, match)
	}

	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.Int64("cache.total", total),
		attribute.Int("cache.page_items", len(matches)),
	)
	span.SetStatus(codes.Ok, "")
	return matches, total, nil
}

// InvalidateSearchSessions 清空所有搜索会话缓存，候选人数据变更后调用。
// 用SCAN渐进遍历，避免KEYS阻塞
func (r *Redis) InvalidateSearchSessions(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	pattern := fmt.Sprintf(constants.KeySearchSession, "*")
	iter := r.Client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := r.Client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("删除搜索会话缓存失败: %w", err)
		}
	}
	return iter.Err()
}

// AcquireLock 尝试获取分布式锁，返回锁持有者标识；未获取到返回空串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	if r.Client == nil {
		return "", fmt.Errorf("redis客户端未初始化")
	}
	lockValue := fmt.Sprintf("%d", time.Now().UnixNano())
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return lockValue, nil
	}
	return "", nil
}

// ReleaseLock 释放分布式锁，Lua脚本保证只有持有者能释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis客户端未初始化")
	}
	script := `
        if redis.call("get", KEYS[1]) == ARGV[1] then
            return redis.call("del", KEYS[1])
        else
            return 0
        end
    `
	res, err := r.Client.Eval(ctx, script, []string{lockKey}, lockValue).Result()
	if err != nil {
		return false, err
	}

	if released, ok := res.(int64); ok && released == 1 {
		return true, nil
	}
	return false, nil
}
