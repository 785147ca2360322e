// Package bot implements the turn dispatcher: the per-user state machine that
// routes an inbound message to a control command, a persona activation, an
// exit, or an ordinary completion turn, and converts every failure into a
// user-facing reply.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/history"
	"github.com/BaSui01/personaflow/internal/metrics"
	"github.com/BaSui01/personaflow/llm"
	"github.com/BaSui01/personaflow/llm/tokenizer"
	"github.com/BaSui01/personaflow/persona"
	"github.com/BaSui01/personaflow/session"
	"github.com/BaSui01/personaflow/types"
)

// OutcomeKind 标识一轮处理的结果类别。
type OutcomeKind string

const (
	// OutcomeControl 控制命令的直接回复（重置/清除/帮助/退出确认）
	OutcomeControl OutcomeKind = "control"
	// OutcomePersona 经下游补全产生的回复
	OutcomePersona OutcomeKind = "persona"
	// OutcomeError 失败轮次，Text 为面向用户的道歉话术
	OutcomeError OutcomeKind = "error"
)

// Outcome 是一轮处理的结果。Err 只在 OutcomeError 时非空；
// Text 永远是可直接发送给用户的文本。
type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  *types.Error
}

// Config 调度器行为配置
type Config struct {
	// ExitKeyword 退出口令（子串匹配）
	ExitKeyword string
	// ResetCommand 全局重置命令（子串匹配）
	ResetCommand string
	// ClearCommand 单用户清除命令（子串匹配）
	ClearCommand string
	// HelpCommands 帮助命令（完整匹配）
	HelpCommands []string
	// CallTimeout 单次补全调用超时
	CallTimeout time.Duration
	// MaxTokens 透传给补全请求
	MaxTokens int
	// Temperature 透传给补全请求
	Temperature float32
}

// Deps 调度器的协作对象
type Deps struct {
	Table     *persona.Table
	Resolver  *persona.Resolver
	Tracker   *session.Tracker
	Store     *history.Store
	Provider  llm.Provider
	Collector *metrics.Collector
}

// Dispatcher 编排一轮消息处理。同一用户的轮次串行执行（锁覆盖
// 补全调用，聊天本身就是单线对话）；不同用户互不阻塞。
type Dispatcher struct {
	cfg       Config
	table     *persona.Table
	resolver  *persona.Resolver
	tracker   *session.Tracker
	store     *history.Store
	provider  llm.Provider
	collector *metrics.Collector
	estimator *tokenizer.Estimator
	logger    *zap.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewDispatcher 创建调度器。
func NewDispatcher(cfg Config, deps Deps, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}
	return &Dispatcher{
		cfg:       cfg,
		table:     deps.Table,
		resolver:  deps.Resolver,
		tracker:   deps.Tracker,
		store:     deps.Store,
		provider:  deps.Provider,
		collector: deps.Collector,
		estimator: tokenizer.NewEstimator(deps.Table.Default().ModelID),
		logger:    logger.With(zap.String("component", "dispatcher")),
		userLocks: make(map[string]*sync.Mutex),
	}
}

// userLock 返回该用户的轮次锁。
func (d *Dispatcher) userLock(userID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		d.userLocks[userID] = l
	}
	return l
}

// HandleTurn 处理一条入站消息并返回结果。
func (d *Dispatcher) HandleTurn(ctx context.Context, userID, text string) Outcome {
	l := d.userLock(userID)
	l.Lock()
	defer l.Unlock()

	start := time.Now()
	out := d.handle(ctx, userID, text)

	d.collector.RecordTurn(string(out.Kind), time.Since(start))
	d.collector.SetActiveSessions(d.tracker.ActiveCount())
	return out
}

func (d *Dispatcher) handle(ctx context.Context, userID, text string) Outcome {
	st, _ := d.tracker.Get(userID)
	switch st.Kind {
	case session.StateActive:
		return d.handleActive(ctx, userID, st.Persona, text)
	default:
		return d.handleNormal(ctx, userID, text)
	}
}

// handleNormal 处理 NORMAL 状态：先扫描人设关键词，再识别控制命令，
// 否则走默认模型聊天。
func (d *Dispatcher) handleNormal(ctx context.Context, userID, text string) Outcome {
	if p := d.table.FindByKeyword(text); p != nil {
		d.tracker.Start(userID, p.Name, nil)
		if out, ok := d.switchModel(userID, p.ModelID); !ok {
			return out
		}
		d.logger.Info("persona activated",
			zap.String("user_id", userID),
			zap.String("persona", p.Name),
			zap.String("model", p.ModelID))
		// 触发消息本身作为该人设下的第一轮转发，不丢弃
		return d.forward(ctx, userID, p, text)
	}

	switch {
	case strings.Contains(text, d.cfg.ResetCommand):
		d.store.ClearAll()
		return Outcome{Kind: OutcomeControl, Text: "记录清除，会话已重置。"}

	case strings.Contains(text, d.cfg.ClearCommand):
		if d.store.ClearUser(userID) {
			return Outcome{Kind: OutcomeControl, Text: "您的会话历史已被清除。"}
		}
		// 没有历史可清除时不回复
		return Outcome{Kind: OutcomeControl}
	}

	for _, h := range d.cfg.HelpCommands {
		if text == h {
			return Outcome{Kind: OutcomeControl, Text: d.helpText()}
		}
	}

	return d.forward(ctx, userID, d.table.Default(), text)
}

// handleActive 处理 ACTIVE 状态：识别退出口令，否则在激活人设的
// 模型下转发。
func (d *Dispatcher) handleActive(ctx context.Context, userID, personaName, text string) Outcome {
	p := d.table.Get(personaName)
	if p == nil {
		// 会话指向的人设已不在表中，按退出处理
		d.tracker.End(userID)
		d.resolver.Reset(userID)
		e := types.NewError(types.ErrModelNotFound, fmt.Sprintf("persona %q no longer configured", personaName))
		return Outcome{Kind: OutcomeError, Text: "模型设置失败", Err: e}
	}

	if strings.Contains(text, d.cfg.ExitKeyword) {
		d.store.ClearUser(userID)
		d.tracker.End(userID)
		d.resolver.Reset(userID)
		d.logger.Info("persona exited",
			zap.String("user_id", userID),
			zap.String("persona", p.Name))
		return Outcome{
			Kind: OutcomeControl,
			Text: fmt.Sprintf("%s已退出，已切换到默认模型：%s", p.Name, d.resolver.DefaultModel()),
		}
	}

	if out, ok := d.switchModel(userID, p.ModelID); !ok {
		return out
	}
	return d.forward(ctx, userID, p, text)
}

// switchModel 通过反查人设表校验模型 ID 后设置用户覆盖。
// 反查失败时返回"切换失败"结果，状态不变。
func (d *Dispatcher) switchModel(userID, modelID string) (Outcome, bool) {
	if d.table.FindByModelID(modelID) == nil {
		d.logger.Error("model id not declared by any persona", zap.String("model", modelID))
		e := types.NewError(types.ErrModelNotFound, fmt.Sprintf("model %q not found in persona table", modelID))
		return Outcome{Kind: OutcomeError, Text: "模型设置失败", Err: e}, false
	}
	d.resolver.SetUser(userID, modelID)
	return Outcome{}, true
}

// forward 执行一次普通转发轮次：追加 user 条目、调用补全、追加
// assistant 条目。失败时回滚 user 条目，历史只保留成功完成的轮次。
func (d *Dispatcher) forward(ctx context.Context, userID string, p *persona.Persona, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Outcome{Kind: OutcomePersona, Text: "用户输入为空"}
	}

	model := d.resolver.Resolve(userID)

	// 首轮注入可选的 system 提示作为锚点
	if p.SystemPrompt != "" && d.store.Len(userID) == 0 {
		d.collector.RecordTrimmed(d.store.Append(userID, types.RoleSystem, p.SystemPrompt))
	}

	d.collector.RecordTrimmed(d.store.Append(userID, types.RoleUser, text))
	msgs := d.store.Get(userID)
	estTokens := d.estimator.CountMessages(msgs)

	traceID := uuid.NewString()
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	resp, err := d.provider.Completion(callCtx, &llm.ChatRequest{
		TraceID:     traceID,
		UserID:      userID,
		Model:       model,
		Messages:    msgs,
		MaxTokens:   d.cfg.MaxTokens,
		Temperature: d.cfg.Temperature,
	})
	elapsed := time.Since(start)

	if err != nil {
		d.store.DropLastUser(userID)
		e := asError(err)
		d.collector.RecordCompletionError(string(e.Code))
		d.logger.Warn("completion failed",
			zap.String("trace_id", traceID),
			zap.String("user_id", userID),
			zap.String("model", model),
			zap.Error(err))
		return Outcome{Kind: OutcomeError, Text: apologyFor(e.Code), Err: e}
	}

	reply := resp.Text()
	d.collector.RecordTrimmed(d.store.Append(userID, types.RoleAssistant, reply))
	d.collector.RecordCompletion(model, elapsed, estTokens)
	d.logger.Debug("turn completed",
		zap.String("trace_id", traceID),
		zap.String("user_id", userID),
		zap.String("model", model),
		zap.Duration("elapsed", elapsed),
		zap.Int("prompt_tokens_est", estTokens))

	return Outcome{Kind: OutcomePersona, Text: FormatReply(reply)}
}

// helpText 生成功能指南。关键词列表在人设表加载时已计算一次。
func (d *Dispatcher) helpText() string {
	return fmt.Sprintf(
		"🌈 GPTs使用指南 🌈\n\n"+
			"🎨 魔法口令：%s 🌟[%s]口令切换模型\n"+
			"🔄 '%s' - 清除当前会话历史\n"+
			"💬 其他普通文本 - 聊天机器人智能回复\n"+
			"\n🌟 有任何问题或建议，随时欢迎反馈！",
		strings.Join(d.table.Keywords(), "、"),
		d.cfg.ExitKeyword,
		d.cfg.ResetCommand,
	)
}

func asError(err error) *types.Error {
	var e *types.Error
	if errors.As(err, &e) {
		return e
	}
	return types.NewError(types.ErrUnknown, err.Error()).WithCause(err)
}
