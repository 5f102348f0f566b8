package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ai-recruiter-go/internal/config"
	"ai-recruiter-go/internal/logger"
	"ai-recruiter-go/internal/types"
)

// MessageQueue 消息队列接口
type MessageQueue interface {
	PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error
	PublishIngestMessage(ctx context.Context, msg *types.CandidateIngestMessage) error
	Close() error
}

var _ MessageQueue = (*RabbitMQ)(nil)

// RabbitMQ 候选人异步入库的消息队列适配器
type RabbitMQ struct {
	conn         *amqp.Connection
	channelPool  sync.Pool
	publishMutex sync.Mutex
	cfg          *config.RabbitMQConfig
}

// NewRabbitMQ 创建RabbitMQ客户端并声明入库拓扑（交换机、队列、绑定）
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器 (%s): %w", cfg.URL, err)
	}

	mq := &RabbitMQ{conn: conn, cfg: cfg}
	mq.channelPool = sync.Pool{
		New: func() interface{} {
			ch, poolErr := conn.Channel()
			if poolErr != nil {
				logger.Warn().Err(poolErr).Msg("创建RabbitMQ通道失败")
				return nil
			}
			return ch
		},
	}

	if err := mq.declareIngestTopology(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info().Str("url", cfg.URL).Msg("RabbitMQ连接就绪")
	return mq, nil
}

// declareIngestTopology 声明候选人入库链路的交换机/队列/绑定
func (r *RabbitMQ) declareIngestTopology() error {
	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	err := ch.ExchangeDeclare(
		r.cfg.CandidateExchange, // exchange名称
		"direct",                // exchange类型
		true,                    // 持久化
		false,                   // 自动删除
		false,                   // 内部专用
		false,                   // 非阻塞
		nil,                     // 参数
	)
	if err != nil {
		return fmt.Errorf("声明exchange失败: %w", err)
	}

	_, err = ch.QueueDeclare(
		r.cfg.IngestQueue, // 队列名称
		true,              // 持久化
		false,             // 自动删除
		false,             // 独占
		false,             // 非阻塞
		nil,               // 参数
	)
	if err != nil {
		return fmt.Errorf("声明队列失败: %w", err)
	}

	err = ch.QueueBind(
		r.cfg.IngestQueue,       // 队列名
		r.cfg.IngestRoutingKey,  // 路由键
		r.cfg.CandidateExchange, // exchange名
		false,                   // 非阻塞
		nil,                     // 参数
	)
	if err != nil {
		return fmt.Errorf("绑定队列到exchange失败: %w", err)
	}
	return nil
}

// getChannel 获取可用通道
func (r *RabbitMQ) getChannel() *amqp.Channel {
	ch := r.channelPool.Get()
	if ch == nil {
		newCh, err := r.conn.Channel()
		if err != nil {
			logger.Warn().Err(err).Msg("创建新RabbitMQ通道失败")
			return nil
		}
		return newCh
	}
	return ch.(*amqp.Channel)
}

// putChannel 归还通道到池
func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// PublishJSON 发布JSON格式的消息
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchangeName, routingKey string, data interface{}, persistent bool) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}

	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	var deliveryMode uint8 = 1 // 非持久化
	if persistent {
		deliveryMode = 2
	}

	return ch.PublishWithContext(
		ctx,
		exchangeName, // exchange名
		routingKey,   // 路由键
		false,        // 强制
		false,        // 立即
		amqp.Publishing{
			DeliveryMode: deliveryMode,
			ContentType:  "application/json",
			Body:         jsonData,
			Timestamp:    time.Now(),
		},
	)
}

// PublishIngestMessage 发布候选人入库消息，持久化投递
func (r *RabbitMQ) PublishIngestMessage(ctx context.Context, msg *types.CandidateIngestMessage) error {
	if msg == nil || msg.CandidateID == "" {
		return fmt.Errorf("入库消息缺少候选人ID")
	}
	return r.PublishJSON(ctx, r.cfg.CandidateExchange, r.cfg.IngestRoutingKey, msg, true)
}

// StartIngestConsumer 启动入库消费者。
// handler返回true则Ack，false则Nack并重新入队；关闭stopCh停止消费。
func (r *RabbitMQ) StartIngestConsumer(handler func(context.Context, *types.CandidateIngestMessage) bool) (chan<- struct{}, error) {
	stopCh := make(chan struct{})

	ch := r.getChannel()
	if ch == nil {
		return nil, fmt.Errorf("无法获取RabbitMQ通道")
	}

	prefetch := r.cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("设置QoS失败: %w", err)
	}

	deliveries, err := ch.Consume(
		r.cfg.IngestQueue, // 队列
		"",                // 消费者标签，留空由server生成
		false,             // 自动确认
		false,             // 独占
		false,             // 非本地
		false,             // 非阻塞
		nil,               // 参数
	)
	if err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("注册消费者失败: %w", err)
	}

	workers := r.cfg.IngestWorkers
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stopCh:
					return
				case delivery, ok := <-deliveries:
					if !ok {
						logger.Warn().Msg("RabbitMQ投递通道已关闭")
						return
					}
					r.handleDelivery(delivery, handler)
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		r.putChannel(ch)
		logger.Info().Str("queue", r.cfg.IngestQueue).Msg("入库消费者已全部停止")
	}()

	logger.Info().
		Str("queue", r.cfg.IngestQueue).
		Int("prefetch", prefetch).
		Int("workers", workers).
		Msg("入库消费者已启动")
	return stopCh, nil
}

// handleDelivery 处理单条投递，解析失败的消息直接丢弃不重入队
func (r *RabbitMQ) handleDelivery(delivery amqp.Delivery, handler func(context.Context, *types.CandidateIngestMessage) bool) {
	var msg types.CandidateIngestMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		logger.Warn().Err(err).Msg("入库消息格式错误，丢弃")
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			logger.Warn().Err(nackErr).Msg("丢弃消息失败")
		}
		return
	}

	if handler(logger.WithContext(context.Background()), &msg) {
		if err := delivery.Ack(false); err != nil {
			logger.Warn().Err(err).Msg("确认消息失败")
		}
		return
	}

	// 处理失败，重新入队等待重试
	if err := delivery.Nack(false, true); err != nil {
		logger.Warn().Err(err).Msg("拒绝消息失败")
	}
}
