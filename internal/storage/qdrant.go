package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/search"
	"ai-recruiter-go/internal/tracing"
	"ai-recruiter-go/internal/types"
)

// 定义Qdrant的专用tracer
var qdrantTracer = otel.Tracer("ai-recruiter-go/storage/qdrant")

// QdrantPointIDNamespace 用于从分段标识生成确定性的Qdrant点ID。
// 相同简历的相同分段总是得到相同的点ID，保证重复入库的幂等性。
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("c5b1f8e4-90d7-4a6b-b2ce-61df3d1a8f42"))

// payloadTextLimit 载荷中存储的分段文本长度上限
const payloadTextLimit = 1000

// Qdrant 向量数据库适配器，走HTTP REST接口。
// 实现 search.SegmentQuerier：对外暴露距离语义（越小越相似），
// Qdrant的Cosine相似度在适配层转换为 distance = 1 - score。
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	apiKey         string
	httpClient     *http.Client
}

var _ search.SegmentQuerier = (*Qdrant)(nil)

// QdrantOption 定义Qdrant构造函数选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 设置距离度量
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHTTPTimeout 设置HTTP客户端超时
func WithHTTPTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = &http.Client{Timeout: timeout}
	}
}

// NewQdrant 创建Qdrant客户端并确保集合存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:6333"
	}
	collectionName := cfg.Collection
	if collectionName == "" {
		collectionName = "cv_segments"
	}
	vectorSize := cfg.Dimension
	if vectorSize <= 0 {
		vectorSize = 1024
	}

	q := &Qdrant{
		endpoint:       endpoint,
		collectionName: collectionName,
		vectorSize:     vectorSize,
		distanceMetric: "Cosine",
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.DistanceMetric != "" {
		q.distanceMetric = cfg.DistanceMetric
	}
	if cfg.TimeoutSeconds > 0 {
		q.httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}

	for _, opt := range opts {
		opt(q)
	}

	if err := q.ensureCollectionExists(context.Background()); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", collectionName, err)
	}

	logger.Info().Str("endpoint", endpoint).Str("collection", collectionName).Msg("Qdrant连接就绪")
	return q, nil
}

// ensureCollectionExists 确保向量集合存在，不存在则创建
func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollectionExists",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "check_collection"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("db.vector_size", q.vectorSize),
	)

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	err := q.doRequest(ctx, http.MethodGet, fmt.Sprintf("/collections/%s", q.collectionName), nil, &info)
	if err != nil {
		if isNotFound(err) {
			span.AddEvent("collection_not_found")
			return q.createCollection(ctx)
		}
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}

	existingSize := info.Result.Config.Params.Vectors.Size
	existingDistance := info.Result.Config.Params.Vectors.Distance
	if existingSize != q.vectorSize || existingDistance != q.distanceMetric {
		logger.Warn().
			Int("existing_size", existingSize).
			Str("existing_distance", existingDistance).
			Int("expected_size", q.vectorSize).
			Str("expected_distance", q.distanceMetric).
			Msg("现有集合配置与当前配置不匹配")
		span.AddEvent("collection_config_mismatch")
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// createCollection 创建新的向量集合，并为经验年限建立范围索引
func (q *Qdrant) createCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CreateCollection",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "create_collection"),
		attribute.String("db.collection", q.collectionName),
	)

	createReqBody := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
		"optimizers_config": map[string]interface{}{
			"default_segment_number": 2,
		},
	}

	if err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s", q.collectionName), createReqBody, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("创建集合失败: %w", err)
	}

	// 经验年限的范围过滤需要payload索引
	indexReqBody := map[string]interface{}{
		"field_name":   "experience_years",
		"field_schema": "float",
	}
	if err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/index", q.collectionName), indexReqBody, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("创建payload索引失败: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	logger.Info().Str("collection", q.collectionName).Int("dimension", q.vectorSize).Msg("已创建Qdrant集合")
	return nil
}

// PointIDFor 从分段标识生成确定性的点ID
func PointIDFor(segmentID string) string {
	return uuid.NewV5(QdrantPointIDNamespace, segmentID).String()
}

// UpsertSegments 将分段及其向量写入集合。
// 点ID由分段标识确定性派生，重复写入覆盖旧点。
func (q *Qdrant) UpsertSegments(ctx context.Context, segments []types.Segment, vectors [][]float64) ([]string, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.UpsertSegments",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "upsert_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("segments.count", len(segments)),
	)

	if len(segments) != len(vectors) {
		err := fmt.Errorf("分段数量(%d)与向量数量(%d)不匹配", len(segments), len(vectors))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if len(segments) == 0 {
		span.SetStatus(codes.Ok, "no segments to store")
		return []string{}, nil
	}

	points := make([]map[string]interface{}, 0, len(segments))
	ids := make([]string, 0, len(segments))

	for i, segment := range segments {
		if len(vectors[i]) != q.vectorSize {
			err := fmt.Errorf("向量维度(%d)与配置维度(%d)不匹配", len(vectors[i]), q.vectorSize)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return nil, err
		}

		pointID := PointIDFor(segment.SegmentID)
		ids = append(ids, pointID)

		payload := segment.Metadata.Payload()
		payload["segment_id"] = segment.SegmentID
		payload["document_id"] = segment.DocumentID
		payload["content_text"] = truncatePayloadText(segment.Text, payloadTextLimit)

		points = append(points, map[string]interface{}{
			"id":      pointID,
			"vector":  vectors[i],
			"payload": payload,
		})
	}

	requestBody := map[string]interface{}{"points": points}
	var response struct {
		Result struct {
			Status string `json:"status"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPut, fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName), requestBody, &response)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("qdrant.response_status", response.Status),
		attribute.Float64("qdrant.response_time", response.Time),
	)
	span.SetStatus(codes.Ok, "")
	return ids, nil
}

// buildFilter 把范围谓词转换为Qdrant过滤器格式
func buildFilter(filter *search.VectorFilter) map[string]interface{} {
	if filter == nil {
		return nil
	}

	rangeCondition := map[string]interface{}{}
	if filter.MinExperienceYears != nil {
		rangeCondition["gte"] = *filter.MinExperienceYears
	}
	if filter.MaxExperienceYears != nil {
		rangeCondition["lte"] = *filter.MaxExperienceYears
	}
	if len(rangeCondition) == 0 {
		return nil
	}

	return map[string]interface{}{
		"must": []map[string]interface{}{
			{
				"key":   "experience_years",
				"range": rangeCondition,
			},
		},
	}
}

// Query 向量相似检索，实现 search.SegmentQuerier。
// Qdrant返回的Cosine分数越大越相似，这里转换为距离语义(1-score)交给上层。
func (q *Qdrant) Query(ctx context.Context, vector []float64, k int, filter *search.VectorFilter) ([]search.VectorHit, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Query",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "search_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.Int("search.limit", k),
		attribute.Bool("search.filtered", filter != nil),
	)

	if len(vector) != q.vectorSize {
		err := fmt.Errorf("查询向量维度(%d)与配置维度(%d)不匹配", len(vector), q.vectorSize)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if k <= 0 {
		k = 10
	}

	searchReq := map[string]interface{}{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	if qf := buildFilter(filter); qf != nil {
		searchReq["filter"] = qf
	}

	var result struct {
		Result []struct {
			ID      string                 `json:"id"`
			Score   float64                `json:"score"`
			Payload map[string]interface{} `json:"payload"`
		} `json:"result"`
		Status string  `json:"status"`
		Time   float64 `json:"time"`
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collectionName), searchReq, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, err
	}

	hits := make([]search.VectorHit, 0, len(result.Result))
	for _, point := range result.Result {
		segmentID, _ := point.Payload["segment_id"].(string)
		if segmentID == "" {
			// 旧版本写入的点可能缺少segment_id，跳过
			continue
		}
		text, _ := point.Payload["content_text"].(string)
		hits = append(hits, search.VectorHit{
			SegmentID: segmentID,
			Distance:  1 - point.Score,
			Text:      text,
			Payload:   point.Payload,
		})
	}

	span.SetAttributes(
		attribute.Int("search.results.count", len(hits)),
		attribute.String("qdrant.response_status", result.Status),
		attribute.Float64("qdrant.response_time", result.Time),
	)
	span.SetStatus(codes.Ok, "")
	return hits, nil
}

// DeleteByDocumentID 删除一份简历的全部分段点，重新入库前调用
func (q *Qdrant) DeleteByDocumentID(ctx context.Context, documentID string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteByDocumentID",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "delete_points"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("document.id", documentID),
	)

	reqBody := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{
					"key":   "document_id",
					"match": map[string]interface{}{"value": documentID},
				},
			},
		},
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName), reqBody, nil)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteAll 清空集合中的全部点（保留集合和索引配置），全量重建索引时使用
func (q *Qdrant) DeleteAll(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.DeleteAll",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "delete_all_points"),
		attribute.String("db.collection", q.collectionName),
	)

	// 空must过滤器匹配所有点
	reqBody := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{},
		},
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", q.collectionName), reqBody, nil)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}

	span.SetStatus(codes.Ok, "")
	logger.Ctx(ctx).Info().Str("collection", q.collectionName).Msg("已清空向量集合")
	return nil
}

// CountPoints 获取集合中的点数量
func (q *Qdrant) CountPoints(ctx context.Context) (int64, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CountPoints",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", "count_points"),
		attribute.String("db.collection", q.collectionName),
	)

	countReqBody := map[string]interface{}{"exact": true}
	var result struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}

	err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/count", q.collectionName), countReqBody, &result)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("qdrant.points.count", result.Result.Count))
	span.SetStatus(codes.Ok, "")
	return result.Result.Count, nil
}

// notFoundError 标记404响应，供ensureCollectionExists识别
type notFoundError struct{ msg string }

func (e *notFoundError) Error() string { return e.msg }

func isNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

// doRequest 统一的HTTP请求入口：注入trace上下文、记录span、检查状态码
func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("net.peer.name", q.endpoint),
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", path),
	)

	var req *http.Request
	var err error

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, bytes.NewBuffer(jsonBody))
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		span.SetAttributes(attribute.Int("http.request.body.size", len(jsonBody)))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, q.endpoint+path, nil)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}

	if resp.StatusCode == http.StatusNotFound {
		err = &notFoundError{msg: fmt.Sprintf("qdrant API not found: path=%s", path)}
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, tracing.TruncateString(string(respBody), tracing.DefaultMaxLength))
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err = json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// truncatePayloadText 截断载荷文本
func truncatePayloadText(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen > 3 {
		return s[:maxLen-3] + "..."
	}
	return s[:maxLen]
}
