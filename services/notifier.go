package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Notification 新消息通知，交给外部通知系统
type Notification struct {
	RecipientID    string    `json:"recipientId"`
	SenderID       string    `json:"senderId"`
	ConversationID string    `json:"conversationId"`
	TopicID        string    `json:"topicId"`
	MessageID      string    `json:"messageId"`
	Preview        string    `json:"preview"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Notifier 外部通知出口
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotificationDispatcher 发送后的旁路通知，不能阻塞或影响发送结果
type NotificationDispatcher interface {
	Dispatch(n Notification) bool
}

const notifyTimeout = 5 * time.Second

// Dispatcher 有界队列 + 固定 worker 的通知派发器
// 队列满或已关闭时直接丢弃并记录日志
type Dispatcher struct {
	sink  Notifier
	log   *zap.Logger
	queue chan Notification
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sink Notifier, workers, queueSize int, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	d := &Dispatcher{
		sink:  sink,
		log:   log.Named("notify"),
		queue: make(chan Notification, queueSize),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch 非阻塞入队，返回是否被接受
func (d *Dispatcher) Dispatch(n Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warn("dispatcher closed, dropping notification", zap.String("messageId", n.MessageID))
		return false
	}
	select {
	case d.queue <- n:
		return true
	default:
		d.log.Warn("notification queue full, dropping", zap.String("messageId", n.MessageID))
		return false
	}
}

// Close 停止接收并等待队列处理完
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("notifier panicked", zap.Any("panic", r), zap.String("messageId", n.MessageID))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := d.sink.Notify(ctx, n); err != nil {
		d.log.Error("failed to deliver notification",
			zap.String("recipientId", n.RecipientID),
			zap.String("messageId", n.MessageID),
			zap.Error(err))
	}
}

// RedisNotifier 把通知推入 redis 列表，由通知服务消费
type RedisNotifier struct {
	client *redis.Client
	key    string
}

func NewRedisNotifier(client *redis.Client, key string) *RedisNotifier {
	return &RedisNotifier{client: client, key: key}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.client.RPush(ctx, r.key, payload).Err()
}

// LogNotifier 未配置 redis 时的兜底实现
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.Info("new message notification",
		zap.String("recipientId", n.RecipientID),
		zap.String("senderId", n.SenderID),
		zap.String("topicId", n.TopicID),
		zap.String("messageId", n.MessageID))
	return nil
}
