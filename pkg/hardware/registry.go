package hardware

import "sync"

// Registry 在线会话表与设备标识表
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	devices  map[string]string
}

// NewRegistry 创建会话表
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		devices:  make(map[string]string),
	}
}

// Register 登记会话，返回同一设备仍在表中的旧会话（由调用方清理）
func (r *Registry) Register(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var previous *Session
	if oldID, ok := r.devices[s.DeviceKey]; ok && oldID != s.ID {
		previous = r.sessions[oldID]
	}
	r.sessions[s.ID] = s
	r.devices[s.DeviceKey] = s.ID
	return previous
}

// Lookup 按会话ID查找
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// LookupDevice 按设备标识查找
func (r *Registry) LookupDevice(deviceKey string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.devices[deviceKey]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// Remove 移除会话，并发调用只有一次返回 true
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	if r.devices[s.DeviceKey] == id {
		delete(r.devices, s.DeviceKey)
	}
	return s, true
}

// Snapshot 当前在线会话
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len 在线会话数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
