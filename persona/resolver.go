package persona

import (
	"sync"

	"go.uber.org/zap"
)

// Resolver 维护"当前模型"的解析。优先级：
//
//	用户级覆盖 > 共享当前模型 > 配置的默认模型
//
// 共享当前模型对应旧实现里全局可变的 openai_model 字段；这里把它和
// 用户覆盖表一起收进一个显式对象，统一由一把锁保护。
type Resolver struct {
	mu           sync.RWMutex
	defaultModel string
	current      string
	overrides    map[string]string
	logger       *zap.Logger
}

// NewResolver 创建模型解析器。共享当前模型初始为默认模型。
func NewResolver(defaultModel string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		defaultModel: defaultModel,
		current:      defaultModel,
		overrides:    make(map[string]string),
		logger:       logger.With(zap.String("component", "model_resolver")),
	}
}

// Resolve 返回该用户下一轮应使用的模型 ID。
func (r *Resolver) Resolve(userID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.overrides[userID]; ok {
		return m
	}
	if r.current != "" {
		return r.current
	}
	return r.defaultModel
}

// SetUser 为单个用户设置模型覆盖。
func (r *Resolver) SetUser(userID, modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.overrides[userID] = modelID
	r.logger.Debug("user model override set",
		zap.String("user_id", userID),
		zap.String("model", modelID))
}

// SetCurrent 设置共享当前模型（全局基线）。
func (r *Resolver) SetCurrent(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current = modelID
	r.logger.Debug("current model set", zap.String("model", modelID))
}

// ClearUser 移除单个用户的模型覆盖，幂等。
func (r *Resolver) ClearUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.overrides, userID)
}

// Reset 在用户退出人设时调用：移除用户覆盖，并把共享当前模型
// 拉回默认模型。
func (r *Resolver) Reset(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.overrides, userID)
	r.current = r.defaultModel
	r.logger.Debug("model resolution reset",
		zap.String("user_id", userID),
		zap.String("model", r.defaultModel))
}

// DefaultModel 返回配置的默认模型 ID。
func (r *Resolver) DefaultModel() string {
	return r.defaultModel
}
