// Package session tracks the per-user conversation state machine:
// NORMAL (no persona active) or ACTIVE (one persona active). A user with no
// recorded session is in NORMAL state; the machine can be reset indefinitely.
package session

import (
	"sync"

	"go.uber.org/zap"
)

// StateKind 是会话状态机的两个状态。取代旧实现里按状态名字符串
// 反射查找处理方法的做法，调度方对它做显式 switch。
type StateKind string

const (
	StateNormal StateKind = "normal"
	StateActive StateKind = "active"
)

// State 描述一个用户当前所处的状态。Active 时 Persona 为激活的人设名。
type State struct {
	Kind    StateKind
	Persona string
}

type entry struct {
	persona string
	data    any
}

// Tracker 维护每个用户的会话状态。每个用户最多一个会话。
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]entry
	logger   *zap.Logger
}

// NewTracker 创建会话跟踪器。
func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sessions: make(map[string]entry),
		logger:   logger.With(zap.String("component", "session_tracker")),
	}
}

// Start 将用户置为 ACTIVE(persona)，覆盖已有会话。data 为调用方
// 附加的任意会话数据。
func (t *Tracker) Start(userID, persona string, data any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[userID] = entry{persona: persona, data: data}
	t.logger.Debug("session started",
		zap.String("user_id", userID),
		zap.String("persona", persona))
}

// End 移除用户的会话，幂等：没有会话时是 no-op，不是错误。
func (t *Tracker) End(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.sessions, userID)
	t.logger.Debug("session ended", zap.String("user_id", userID))
}

// Get 返回用户当前状态和附加数据。没有记录的用户处于 NORMAL。
func (t *Tracker) Get(userID string) (State, any) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.sessions[userID]
	if !ok {
		return State{Kind: StateNormal}, nil
	}
	return State{Kind: StateActive, Persona: e.persona}, e.data
}

// ActiveCount 返回当前处于 ACTIVE 的用户数，用于指标上报。
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
