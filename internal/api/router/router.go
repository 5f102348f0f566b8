package router

import (
	"context"
	"crypto/subtle"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"github.com/hertz-contrib/keyauth"

	"ai-recruiter-go/internal/api/handler"
	"ai-recruiter-go/internal/logger"
)

// requestContextMiddleware 为每个请求生成request_id并把带字段的logger注入上下文
func requestContextMiddleware() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		requestID := uuid.NewString()
		ctx.Header("X-Request-ID", requestID)

		reqLogger := logger.Logger.With().
			Str("request_id", requestID).
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Logger()
		c = reqLogger.WithContext(c)

		ctx.Next(c)
	}
}

// apiKeyMiddleware 基于X-API-Key头的访问控制，常量时间比较防时序探测
func apiKeyMiddleware(apiKey string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:X-API-Key", ""),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "无效的API Key"})
		}),
	)
}

// RegisterRoutes 注册API路由。
// apiKey为空时不启用鉴权（本地开发场景）；健康检查始终免鉴权。
func RegisterRoutes(h *server.Hertz, searchHandler *handler.SearchHandler, candidateHandler *handler.CandidateHandler, apiKey string) {
	h.Use(requestContextMiddleware())

	api := h.Group("/api/v1")
	api.GET("/health", candidateHandler.HandleHealth)

	protected := api.Group("")
	if apiKey != "" {
		protected.Use(apiKeyMiddleware(apiKey))
	}

	protected.POST("/search", searchHandler.HandleSearch)

	protected.POST("/candidates", candidateHandler.HandleCreateCandidate)
	protected.GET("/candidates", candidateHandler.HandleListCandidates)
	protected.GET("/candidates/:candidate_id", candidateHandler.HandleGetCandidate)
	protected.DELETE("/candidates/:candidate_id", candidateHandler.HandleDeleteCandidate)

	admin := protected.Group("/admin")
	admin.POST("/reindex", candidateHandler.HandleReindexAll)
	admin.GET("/reranker", searchHandler.HandleRerankerState)
	admin.PUT("/reranker", searchHandler.HandleConfigureReranker)
}
