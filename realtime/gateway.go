package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rentgidi-chat/models"
	"rentgidi-chat/services"
)

// State 单个连接的状态
type State int

const (
	StateConnected State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// TokenVerifier 校验访问令牌并返回其中的用户 ID
type TokenVerifier interface {
	VerifyUserToken(token string) (string, error)
}

// MessageAPI 网关用到的消息服务方法，与 REST 共用同一实现
type MessageAPI interface {
	SendMessage(ctx context.Context, in services.SendInput) (*services.SendResult, error)
	MarkMessageAsRead(ctx context.Context, messageID, userID string) (*services.ReadResult, error)
	TypingAudience(ctx context.Context, topicID, userID string) ([]string, error)
}

type GatewayConfig struct {
	AuthTimeout  time.Duration
	TypingTTL    time.Duration
	RateLimitRPS int
}

// Gateway 处理 socket 事件：认证、入房、发消息、已读回执、输入状态
type Gateway struct {
	registry *Registry
	messages MessageAPI
	users    services.UserDirectory
	tokens   TokenVerifier
	log      *zap.Logger
	cfg      GatewayConfig

	sessions sync.Map // handle id -> *Session
}

func NewGateway(registry *Registry, messages MessageAPI, users services.UserDirectory, tokens TokenVerifier, cfg GatewayConfig, log *zap.Logger) *Gateway {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 30 * time.Second
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 5 * time.Second
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	return &Gateway{
		registry: registry,
		messages: messages,
		users:    users,
		tokens:   tokens,
		log:      log.Named("gateway"),
		cfg:      cfg,
	}
}

// Registry 返回连接登记表
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Serve 运行一个 websocket 连接直到断开
func (g *Gateway) Serve(c *Client) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := g.Open(c)
	go c.WritePump()
	c.ReadPump(func(raw []byte) {
		sess.HandleRaw(ctx, raw)
	})
	sess.Close()
}

// Open 为新连接创建会话，超过 AuthTimeout 未认证则强制关闭
func (g *Gateway) Open(h Handle) *Session {
	s := &Session{
		gw:      g,
		handle:  h,
		state:   StateConnected,
		limiter: rate.NewLimiter(rate.Limit(g.cfg.RateLimitRPS), g.cfg.RateLimitRPS*2),
		typing:  make(map[string]struct{}),
		log:     g.log.With(zap.String("connId", h.ID())),
	}
	s.mu.Lock()
	s.authTimer = time.AfterFunc(g.cfg.AuthTimeout, s.authExpired)
	s.mu.Unlock()
	g.sessions.Store(h.ID(), s)
	return s
}

// Shutdown 关闭全部连接
func (g *Gateway) Shutdown() {
	g.sessions.Range(func(_, v interface{}) bool {
		v.(*Session).Close()
		return true
	})
}

// Session 一个连接的状态机
type Session struct {
	gw      *Gateway
	handle  Handle
	limiter *rate.Limiter
	log     *zap.Logger

	mu        sync.Mutex
	state     State
	reg       *Registration
	authTimer *time.Timer
	typing    map[string]struct{}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleRaw 解码并处理一个原始帧
func (s *Session) HandleRaw(ctx context.Context, raw []byte) {
	evt, err := DecodeInbound(raw)
	if err != nil {
		s.log.Debug("dropping malformed frame", zap.Error(err))
		s.reply(errorEvent(EventMessageError, "invalid event"))
		return
	}
	s.Handle(ctx, evt)
}

// Handle 按事件类型分发
func (s *Session) Handle(ctx context.Context, evt InboundEvent) {
	s.mu.Lock()
	state, reg := s.state, s.reg
	s.mu.Unlock()

	if state == StateClosed {
		return
	}
	if e, ok := evt.(*AuthenticateEvent); ok {
		s.authenticate(ctx, e)
		return
	}
	if state != StateAuthenticated {
		s.failAuth("event before authenticate", nil, "Authentication required")
		return
	}

	switch e := evt.(type) {
	case *JoinRoomEvent:
		s.joinRoom(e)
	case *SendMessageEvent:
		s.sendMessage(ctx, reg, e)
	case *MarkAsReadEvent:
		s.markAsRead(ctx, reg, e)
	case *TypingEvent:
		s.typingChanged(ctx, reg, e.TopicID, true)
	case *StopTypingEvent:
		s.typingChanged(ctx, reg, e.TopicID, false)
	default:
		s.log.Warn("unhandled event type")
	}
}

func (s *Session) authenticate(ctx context.Context, e *AuthenticateEvent) {
	if s.State() != StateConnected {
		s.log.Debug("ignoring repeated authenticate")
		return
	}

	userID, err := s.gw.tokens.VerifyUserToken(e.Token)
	if err != nil || userID == "" || e.UserID == "" || userID != e.UserID {
		s.failAuth("token rejected", err, "Authentication failed")
		return
	}
	ident, err := s.gw.users.ResolveUser(ctx, userID)
	if err != nil {
		s.failAuth("identity lookup failed", err, "Authentication failed")
		return
	}

	s.mu.Lock()
	if s.state != StateConnected {
		// 认证期间超时或被关闭
		s.mu.Unlock()
		return
	}
	reg, err := s.gw.registry.Register(s.handle, ident.ID, ident.Role, ident.Name)
	if err != nil {
		s.mu.Unlock()
		s.failAuth("registration failed", err, "Authentication failed")
		return
	}
	s.state = StateAuthenticated
	s.reg = reg
	s.authTimer.Stop()
	s.log = s.log.With(zap.String("userId", ident.ID))
	s.mu.Unlock()

	s.log.Info("socket authenticated")
	s.reply(Event{Name: EventAuthenticated, Data: AuthenticatedPayload{UserID: ident.ID, Role: ident.Role, Name: ident.Name}})
}

// failAuth auth_error 之后总是关闭连接，msg 不包含具体失败原因
func (s *Session) failAuth(reason string, err error, msg string) {
	s.log.Info("socket authentication failed", zap.String("reason", reason), zap.Error(err))
	s.reply(errorEvent(EventAuthError, msg))
	s.Close()
}

// authExpired 状态检查与关闭在同一把锁内完成，不会关掉刚认证成功的连接
func (s *Session) authExpired() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	reg, typing := s.markClosedLocked()
	s.mu.Unlock()

	s.log.Info("closing unauthenticated socket after grace period")
	s.reply(errorEvent(EventAuthError, "Authentication timeout"))
	s.finishClose(reg, typing)
}

func (s *Session) joinRoom(e *JoinRoomEvent) {
	topicID := strings.TrimSpace(e.TopicID)
	if topicID == "" {
		s.reply(errorEvent(EventRoomError, "topicId is required"))
		return
	}
	if err := s.gw.registry.JoinRoom(s.handle, topicID); err != nil {
		s.reply(errorEvent(EventRoomError, "failed to join room"))
		return
	}
	s.reply(Event{Name: EventRoomJoined, Data: RoomJoinedPayload{TopicID: topicID, RoomName: RoomName(topicID)}})
}

func (s *Session) sendMessage(ctx context.Context, reg *Registration, e *SendMessageEvent) {
	if !s.limiter.Allow() {
		s.reply(errorEvent(EventMessageError, "rate limit exceeded"))
		return
	}
	res, err := s.gw.messages.SendMessage(ctx, services.SendInput{
		SenderID:    reg.UserID,
		RecipientID: e.ReceiverID,
		TopicID:     e.TopicID,
		Content:     e.Content,
		Kind:        models.MessageTypeText,
	})
	if err != nil {
		s.reply(errorEvent(EventMessageError, publicMessage(err, "failed to send message")))
		return
	}
	s.clearTyping(ctx, e.TopicID)

	msg := res.Message
	payload := ReceiveMessagePayload{
		ID:             msg.MessageID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		MessageType:    msg.MessageType,
		Sender:         Participant{ID: reg.UserID, Name: reg.Name, Role: reg.Role},
		Receiver:       Participant{ID: msg.ReceiverID},
		TopicID:        msg.TopicID,
		CreatedAt:      msg.CreatedAt,
		IsRead:         msg.IsRead,
	}

	// 房间内只投递给会话双方；发送连接即使未入房也会收到回显作为确认
	targets := []*Registration{reg}
	for _, r := range s.gw.registry.ConnectionsInRoom(msg.TopicID) {
		if r == reg {
			continue
		}
		if r.UserID == msg.SenderID || r.UserID == msg.ReceiverID {
			targets = append(targets, r)
		}
	}
	s.gw.fanOut(targets, Event{Name: EventReceiveMessage, Data: payload})
}

func (s *Session) markAsRead(ctx context.Context, reg *Registration, e *MarkAsReadEvent) {
	if !s.limiter.Allow() {
		s.reply(errorEvent(EventMessageError, "rate limit exceeded"))
		return
	}
	res, err := s.gw.messages.MarkMessageAsRead(ctx, e.MessageID, reg.UserID)
	if err != nil {
		s.reply(errorEvent(EventMessageError, publicMessage(err, "failed to mark message as read")))
		return
	}
	msg := res.Message
	evt := Event{Name: EventMessageRead, Data: MessageReadPayload{
		MessageID:      msg.MessageID,
		ConversationID: msg.ConversationID,
		ReadAt:         msg.ReadAt,
	}}
	// 发送方的所有设备更新回执；阅读者的其他设备同步清除未读
	targets := s.gw.registry.ConnectionsForUser(msg.SenderID)
	targets = append(targets, s.gw.registry.ConnectionsForUser(reg.UserID)...)
	s.gw.fanOut(targets, evt)
}

func (s *Session) typingChanged(ctx context.Context, reg *Registration, topicID string, typing bool) {
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return
	}
	s.mu.Lock()
	if typing {
		s.typing[topicID] = struct{}{}
	} else {
		delete(s.typing, topicID)
	}
	s.mu.Unlock()
	s.gw.broadcastTyping(ctx, reg, topicID, typing)
}

func (s *Session) clearTyping(ctx context.Context, topicID string) {
	s.mu.Lock()
	_, was := s.typing[topicID]
	delete(s.typing, topicID)
	reg := s.reg
	s.mu.Unlock()
	if was && reg != nil {
		s.gw.broadcastTyping(ctx, reg, topicID, false)
	}
}

// Close 进入 Closed 状态：注销登记、补发停止输入，关闭底层连接
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	reg, typing := s.markClosedLocked()
	s.mu.Unlock()
	s.finishClose(reg, typing)
}

// markClosedLocked 调用方持有 s.mu
func (s *Session) markClosedLocked() (*Registration, map[string]struct{}) {
	s.state = StateClosed
	s.authTimer.Stop()
	typing := s.typing
	s.typing = map[string]struct{}{}
	return s.reg, typing
}

func (s *Session) finishClose(reg *Registration, typing map[string]struct{}) {
	s.gw.sessions.Delete(s.handle.ID())
	s.gw.registry.Unregister(s.handle)
	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for topicID := range typing {
			s.gw.broadcastTyping(ctx, reg, topicID, false)
		}
		cancel()
	}
	_ = s.handle.Close()
	s.log.Debug("socket closed")
}

func (s *Session) reply(evt Event) {
	if err := s.handle.Send(evt); err != nil {
		s.log.Debug("reply failed", zap.String("event", evt.Name), zap.Error(err))
	}
}

// broadcastTyping 只发给房间内能和输入者对话的用户：房东以及已有会话的对方
// 与 receiveMessage 一致，同一房源下的其他租客看不到
func (g *Gateway) broadcastTyping(ctx context.Context, from *Registration, topicID string, typing bool) {
	audience, err := g.messages.TypingAudience(ctx, topicID, from.UserID)
	if err != nil {
		g.log.Warn("failed to resolve typing audience", zap.String("topicId", topicID), zap.Error(err))
		return
	}
	if len(audience) == 0 {
		return
	}
	allowed := make(map[string]bool, len(audience))
	for _, id := range audience {
		allowed[id] = true
	}

	name := EventUserStoppedTyping
	payload := TypingPayload{UserID: from.UserID, UserName: from.Name, TopicID: topicID}
	if typing {
		name = EventUserTyping
		payload.ExpiresInMs = g.cfg.TypingTTL.Milliseconds()
	}
	var targets []*Registration
	for _, r := range g.registry.ConnectionsInRoom(topicID) {
		if r.UserID != from.UserID && allowed[r.UserID] {
			targets = append(targets, r)
		}
	}
	g.fanOut(targets, Event{Name: name, Data: payload})
}

// fanOut 逐个连接投递，单个连接失败只影响它自己：记录日志并注销
func (g *Gateway) fanOut(targets []*Registration, evt Event) int {
	delivered := 0
	seen := make(map[string]struct{}, len(targets))
	for _, r := range targets {
		id := r.Handle.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := r.Handle.Send(evt); err != nil {
			g.log.Warn("dropping stale connection",
				zap.String("connId", id),
				zap.String("userId", r.UserID),
				zap.String("event", evt.Name),
				zap.Error(err))
			g.dropStale(r.Handle)
			continue
		}
		delivered++
	}
	return delivered
}

func (g *Gateway) dropStale(h Handle) {
	if v, ok := g.sessions.Load(h.ID()); ok {
		v.(*Session).Close()
		return
	}
	if _, ok := g.registry.Unregister(h); ok {
		_ = h.Close()
	}
}

func publicMessage(err error, fallback string) string {
	var svcErr *services.Error
	if errors.As(err, &svcErr) && !errors.Is(err, services.ErrStorage) {
		return svcErr.Msg
	}
	return fallback
}
