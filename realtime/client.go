package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval   = 10 * time.Second // 发送 Ping 的间隔
	pongTimeout    = 30 * time.Second // 超过该时间没有任何读到的帧则断开
	writeTimeout   = 10 * time.Second
	maxFrameSize   = 16 << 10
	sendBufferSize = 64
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("send buffer full")
)

// Client 一个 websocket 连接，写操作只在 writePump 中进行
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	log  *zap.Logger

	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, log *zap.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
		log:  log.With(zap.String("connId", id)),
	}
}

func (c *Client) ID() string { return c.id }

// Send 非阻塞写入发送队列；队列满视为连接失效
func (c *Client) Send(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSlowConsumer
	}
}

// Close 通知 writePump 发送关闭帧并断开底层连接，可重复调用
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// WritePump 发送队列与心跳
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.flush()
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed, closing connection", zap.Error(err))
				return
			}
		}
	}
}

// flush 关闭前写出队列中剩余的帧，例如 auth_error
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// ReadPump 读循环，每个文本帧交给 handle；返回即连接结束
func (c *Client) ReadPump(handle func(raw []byte)) {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("unexpected close", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		handle(msg)
	}
}
