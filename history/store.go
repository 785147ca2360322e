// Package history owns per-user conversation histories and the trimming
// policy that bounds them. Every append runs the trim synchronously, so a
// history is never observed above its configured bound outside a single
// append+trim critical section.
package history

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/types"
)

// systemPromptAwareFamilies 列出会保留 system 锚点的 Provider 家族。
// 其余家族的历史在修剪时会丢掉开头的 system 条目。
var systemPromptAwareFamilies = map[string]bool{
	"OpenAI": true,
}

// Config 历史仓库配置
type Config struct {
	// MaxLength 单用户历史长度上限（含锚点）
	MaxLength int
	// ProviderFamily 当前 Provider 家族名，决定 system 锚点的去留
	ProviderFamily string
}

// Store 按用户维护有序历史。一把锁保护整个表：单条消息的
// append+trim 序列必须原子，跨用户操作在这个规模下不构成竞争热点。
type Store struct {
	mu        sync.Mutex
	histories map[string][]types.Message

	maxLength   int
	systemAware bool
	logger      *zap.Logger
}

// NewStore 创建历史仓库。
func NewStore(cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		histories:   make(map[string][]types.Message),
		maxLength:   cfg.MaxLength,
		systemAware: systemPromptAwareFamilies[cfg.ProviderFamily],
		logger:      logger.With(zap.String("component", "history_store")),
	}
}

// Append 追加一条消息并同步执行修剪，返回本次修剪移除的条数。
func (s *Store) Append(userID string, role types.Role, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.histories[userID], types.NewMessage(role, content))
	h, removed := s.trim(h)
	s.histories[userID] = h

	if removed > 0 {
		s.logger.Debug("history trimmed",
			zap.String("user_id", userID),
			zap.Int("removed", removed),
			zap.Int("length", len(h)))
	}
	return removed
}

// Get 返回用户历史的副本。未知用户得到空历史，这不是错误。
func (s *Store) Get(userID string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.histories[userID]
	out := make([]types.Message, len(h))
	copy(out, h)
	return out
}

// Len 返回用户历史当前长度。
func (s *Store) Len(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories[userID])
}

// ClearUser 清空单个用户的历史。该用户从未有过记录时返回 false
// （no-op，不是错误）。
func (s *Store) ClearUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.histories[userID]; !ok {
		return false
	}
	delete(s.histories, userID)
	s.logger.Debug("user history cleared", zap.String("user_id", userID))
	return true
}

// ClearAll 清空所有用户的历史。
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := len(s.histories)
	s.histories = make(map[string][]types.Message)
	s.logger.Info("all histories cleared", zap.Int("users", cleared))
}

// DropLastUser 回滚末尾的 user 条目（补全调用失败后使用），
// 使历史只反映成功完成的轮次。末尾不是 user 条目时返回 false。
func (s *Store) DropLastUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.histories[userID]
	if len(h) == 0 || h[len(h)-1].Role != types.RoleUser {
		return false
	}
	s.histories[userID] = h[:len(h)-1]
	return true
}

// trim 执行修剪策略，返回修剪后的历史和移除条数。
//
// 每次成对移除两条以保持 user/assistant 轮次配对；只移除一条会让
// 要求严格交替的 Provider 的轮次错位。
func (s *Store) trim(h []types.Message) ([]types.Message, int) {
	removed := 0
	if len(h) == 0 {
		return h, 0
	}

	// 对话不能以 assistant 开头（此前的修剪可能造成这种状态）
	if h[0].Role == types.RoleAssistant {
		h = h[1:]
		removed++
	}

	// 家族不支持 system 提示时，丢弃开头的 system 条目
	if !s.systemAware && len(h) > 0 && h[0].Role == types.RoleSystem {
		h = h[1:]
		removed++
	}

	if s.systemAware && len(h) > 0 && h[0].Role == types.RoleSystem {
		// 有锚点：保留第 0 条，成对移除紧随其后的两条，保底 3 条
		for len(h) > s.maxLength {
			if len(h) <= 3 {
				break
			}
			h = append(h[:1], h[3:]...)
			removed += 2
		}
	} else {
		// 无锚点：成对移除最旧的两条，阈值为上限减一，保底 2 条
		for len(h) > s.maxLength-1 {
			if len(h) <= 2 {
				break
			}
			h = h[2:]
			removed += 2
		}
	}

	return h, removed
}
