package realtime

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrNotRegistered     = errors.New("connection not registered")
)

// Handle 一个在线的双向连接（一个标签页 / 设备）
type Handle interface {
	ID() string
	Send(evt Event) error
	Close() error
}

// Registration 已认证连接的登记信息
// 房间成员关系按连接记录，一个设备离开不影响同一用户的其他设备
type Registration struct {
	Handle Handle
	UserID string
	Role   string
	Name   string

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// Rooms 当前加入的房间
func (r *Registration) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Registry 连接登记表
// 用户和房间各自分区加锁，互不相关的用户不会互相阻塞
type Registry struct {
	conns sync.Map // handle id -> *Registration
	count atomic.Int64
	users *partitionMap
	rooms *partitionMap
}

func NewRegistry() *Registry {
	return &Registry{
		users: newPartitionMap(),
		rooms: newPartitionMap(),
	}
}

// Register 登记一个完成认证的连接
func (r *Registry) Register(h Handle, userID, role, name string) (*Registration, error) {
	reg := &Registration{
		Handle: h,
		UserID: userID,
		Role:   role,
		Name:   name,
		rooms:  make(map[string]struct{}),
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, loaded := r.conns.LoadOrStore(h.ID(), reg); loaded {
		return nil, ErrAlreadyRegistered
	}
	r.count.Add(1)
	r.users.add(userID, reg)
	return reg, nil
}

// Unregister 移除连接及其全部房间成员关系，重复调用无副作用
func (r *Registry) Unregister(h Handle) (*Registration, bool) {
	v, ok := r.conns.LoadAndDelete(h.ID())
	if !ok {
		return nil, false
	}
	reg := v.(*Registration)
	r.count.Add(-1)

	reg.mu.Lock()
	reg.closed = true
	rooms := reg.rooms
	reg.rooms = nil
	reg.mu.Unlock()

	r.users.remove(reg.UserID, h.ID())
	for room := range rooms {
		r.rooms.remove(room, h.ID())
	}
	return reg, true
}

// Lookup 查找连接的登记信息
func (r *Registry) Lookup(h Handle) (*Registration, bool) {
	v, ok := r.conns.Load(h.ID())
	if !ok {
		return nil, false
	}
	return v.(*Registration), true
}

// JoinRoom 连接加入话题房间
func (r *Registry) JoinRoom(h Handle, topicID string) error {
	reg, ok := r.Lookup(h)
	if !ok {
		return ErrNotRegistered
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return ErrNotRegistered
	}
	reg.rooms[topicID] = struct{}{}
	r.rooms.add(topicID, reg)
	return nil
}

// LeaveRoom 连接离开话题房间
func (r *Registry) LeaveRoom(h Handle, topicID string) {
	reg, ok := r.Lookup(h)
	if !ok {
		return
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, in := reg.rooms[topicID]; !in {
		return
	}
	delete(reg.rooms, topicID)
	r.rooms.remove(topicID, h.ID())
}

// ConnectionsForUser 用户的全部在线连接
func (r *Registry) ConnectionsForUser(userID string) []*Registration {
	return r.users.snapshot(userID)
}

// ConnectionsInRoom 加入了话题房间的全部连接
func (r *Registry) ConnectionsInRoom(topicID string) []*Registration {
	return r.rooms.snapshot(topicID)
}

// Count 已登记的连接数
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// All 全部已登记连接，关闭服务时使用
func (r *Registry) All() []*Registration {
	var out []*Registration
	r.conns.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Registration))
		return true
	})
	return out
}

type partition struct {
	mu      sync.RWMutex
	members map[string]*Registration
	dead    bool
}

// partitionMap key -> 连接集合，外层锁只在取分区时短暂持有
type partitionMap struct {
	mu    sync.RWMutex
	parts map[string]*partition
}

func newPartitionMap() *partitionMap {
	return &partitionMap{parts: make(map[string]*partition)}
}

func (m *partitionMap) get(key string) *partition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parts[key]
}

func (m *partitionMap) getOrCreate(key string) *partition {
	if p := m.get(key); p != nil && !p.isDead() {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parts[key]
	if !ok || p.isDead() {
		p = &partition{members: make(map[string]*Registration)}
		m.parts[key] = p
	}
	return p
}

func (m *partitionMap) add(key string, reg *Registration) {
	for {
		p := m.getOrCreate(key)
		p.mu.Lock()
		if p.dead {
			// 分区刚被清空回收，换一个新的
			p.mu.Unlock()
			continue
		}
		p.members[reg.Handle.ID()] = reg
		p.mu.Unlock()
		return
	}
}

func (m *partitionMap) remove(key, handleID string) {
	p := m.get(key)
	if p == nil {
		return
	}
	p.mu.Lock()
	delete(p.members, handleID)
	empty := len(p.members) == 0 && !p.dead
	if empty {
		p.dead = true
	}
	p.mu.Unlock()

	if empty {
		m.mu.Lock()
		if m.parts[key] == p {
			delete(m.parts, key)
		}
		m.mu.Unlock()
	}
}

func (m *partitionMap) snapshot(key string) []*Registration {
	p := m.get(key)
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Registration, 0, len(p.members))
	for _, reg := range p.members {
		out = append(out, reg)
	}
	return out
}

func (p *partition) isDead() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dead
}
