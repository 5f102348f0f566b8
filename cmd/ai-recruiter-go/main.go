package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"ai-recruiter-go/internal/api/handler"
	"ai-recruiter-go/internal/api/router"
	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/parser"
	"ai-recruiter-go/internal/processor"
	"ai-recruiter-go/internal/search"
	"ai-recruiter-go/internal/storage"
	"ai-recruiter-go/internal/tracing"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}

	logger.Init(logger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(logger.Logger))
	logger.Info().Str("config", configPath).Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerShutdown, err := tracing.InitTracerProvider(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}()

	storageManager, err := storage.NewStorage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	logger.Info().Msg("存储服务初始化成功")

	embedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化Embedder失败")
	}

	// 检索引擎装配：词法打分 -> 混合融合 -> 检索器 -> 重排序器
	vocab := search.DefaultVocabulary()
	lexical := search.NewLexicalScorer(vocab, cfg.Search.TitleBoostCap)
	fusion := search.NewHybridFusion(lexical, vocab, cfg.Search)
	retriever := search.NewRetriever(embedder, storageManager.Qdrant, lexical, fusion, cfg.Search)
	reranker := search.NewCohereReranker(cfg.Cohere)
	logger.Info().Str("reranker_state", string(reranker.State())).Msg("检索引擎初始化成功")

	pipeline, err := processor.NewPipeline(storageManager, embedder)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化入库管线失败")
	}

	searchService, err := processor.NewSearchService(storageManager, retriever, reranker, cfg.Search)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化搜索服务失败")
	}

	// 启动入库消费者
	var consumerStop chan<- struct{}
	if storageManager.RabbitMQ != nil {
		consumerStop, err = storageManager.RabbitMQ.StartIngestConsumer(pipeline.HandleIngestMessage)
		if err != nil {
			logger.Fatal().Err(err).Msg("启动入库消费者失败")
		}
	} else {
		logger.Warn().Msg("RabbitMQ未配置，异步入库不可用")
	}

	searchHandler := handler.NewSearchHandler(searchService, reranker)
	candidateHandler := handler.NewCandidateHandler(pipeline, storageManager)

	serverTracer, serverTracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		serverTracer,
	)
	h.Use(hertztracing.ServerMiddleware(serverTracerCfg))

	router.RegisterRoutes(h, searchHandler, candidateHandler, cfg.Server.APIKey)
	logger.Info().Str("address", cfg.Server.Address).Msg("HTTP服务器启动中")

	go func() {
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出")

	if consumerStop != nil {
		close(consumerStop)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
	}
	logger.Info().Msg("优雅退出完成")
}
