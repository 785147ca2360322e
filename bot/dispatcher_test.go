package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/config"
	"github.com/BaSui01/personaflow/history"
	"github.com/BaSui01/personaflow/llm"
	"github.com/BaSui01/personaflow/persona"
	"github.com/BaSui01/personaflow/session"
	"github.com/BaSui01/personaflow/types"
)

type fakeProvider struct {
	reply string
	err   error
	calls []*llm.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{
		Model: req.Model,
		Choices: []llm.ChatChoice{
			{Message: types.NewAssistantMessage(f.reply)},
		},
	}, nil
}

func (f *fakeProvider) lastCall(t *testing.T) *llm.ChatRequest {
	t.Helper()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	dispatcher *Dispatcher
	provider   *fakeProvider
	table      *persona.Table
	resolver   *persona.Resolver
	tracker    *session.Tracker
	store      *history.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	table, err := persona.NewTable([]config.PersonaConfig{
		{Name: "默认", ModelID: "gpt-default"},
		{Name: "猫娘", ModelID: "gpt-cat", Keywords: []string{"猫娘"}, SystemPrompt: "你是一只猫娘"},
		{Name: "狗狗", ModelID: "gpt-dog", Keywords: []string{"狗"}},
	}, "默认")
	require.NoError(t, err)

	f := &fixture{
		provider: &fakeProvider{reply: "好的喵"},
		table:    table,
		resolver: persona.NewResolver("gpt-default", zap.NewNop()),
		tracker:  session.NewTracker(zap.NewNop()),
		store:    history.NewStore(history.Config{MaxLength: 10, ProviderFamily: "OpenAI"}, zap.NewNop()),
	}
	f.dispatcher = NewDispatcher(
		Config{
			ExitKeyword:  "退出",
			ResetCommand: "重置会话",
			ClearCommand: "清除我的会话",
			HelpCommands: []string{"帮助", "功能"},
			CallTimeout:  time.Second,
		},
		Deps{
			Table:    f.table,
			Resolver: f.resolver,
			Tracker:  f.tracker,
			Store:    f.store,
			Provider: f.provider,
		},
		zap.NewNop(),
	)
	return f
}

func TestHandleTurn_NormalChatUsesDefaultModel(t *testing.T) {
	f := newFixture(t)

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "今天天气怎么样")
	assert.Equal(t, OutcomePersona, out.Kind)
	assert.Equal(t, "好的喵", out.Text)
	assert.Equal(t, "gpt-default", f.provider.lastCall(t).Model)

	h := f.store.Get("u1")
	require.Len(t, h, 2)
	assert.Equal(t, types.RoleUser, h[0].Role)
	assert.Equal(t, types.RoleAssistant, h[1].Role)
}

func TestHandleTurn_KeywordActivatesPersona(t *testing.T) {
	f := newFixture(t)

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "我要猫娘陪聊")
	assert.Equal(t, OutcomePersona, out.Kind)

	// 会话进入 ACTIVE，触发消息本身被转发
	st, _ := f.tracker.Get("u1")
	assert.Equal(t, session.StateActive, st.Kind)
	assert.Equal(t, "猫娘", st.Persona)

	call := f.provider.lastCall(t)
	assert.Equal(t, "gpt-cat", call.Model)
	assert.Equal(t, "我要猫娘陪聊", call.Messages[len(call.Messages)-1].Content)
}

func TestHandleTurn_FirstMatchWins(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.HandleTurn(context.Background(), "u1", "猫娘和狗都可以")
	st, _ := f.tracker.Get("u1")
	assert.Equal(t, "猫娘", st.Persona)
}

func TestHandleTurn_SystemPromptInjectedOnFirstTurn(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.HandleTurn(context.Background(), "u1", "我要猫娘陪聊")

	call := f.provider.lastCall(t)
	require.NotEmpty(t, call.Messages)
	assert.Equal(t, types.RoleSystem, call.Messages[0].Role)
	assert.Equal(t, "你是一只猫娘", call.Messages[0].Content)

	// 第二轮不再重复注入
	f.dispatcher.HandleTurn(context.Background(), "u1", "喵喵喵")
	count := 0
	for _, m := range f.store.Get("u1") {
		if m.Role == types.RoleSystem {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestHandleTurn_ExitClearsEverything(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.HandleTurn(context.Background(), "u1", "我要猫娘陪聊")
	out := f.dispatcher.HandleTurn(context.Background(), "u1", "我想退出了")

	assert.Equal(t, OutcomeControl, out.Kind)
	assert.Contains(t, out.Text, "猫娘已退出")
	assert.Contains(t, out.Text, "gpt-default")

	st, data := f.tracker.Get("u1")
	assert.Equal(t, session.StateNormal, st.Kind)
	assert.Nil(t, data)
	assert.Empty(t, f.store.Get("u1"))
}

func TestHandleTurn_ExitThenReactivateUsesDefaultModel(t *testing.T) {
	f := newFixture(t)

	f.dispatcher.HandleTurn(context.Background(), "u1", "我要猫娘陪聊")
	f.dispatcher.HandleTurn(context.Background(), "u1", "退出")

	// 退出后的普通消息必须走默认模型，而不是猫娘的模型
	f.dispatcher.HandleTurn(context.Background(), "u1", "随便聊聊")
	assert.Equal(t, "gpt-default", f.provider.lastCall(t).Model)
}

func TestHandleTurn_RollbackOnCompletionFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.err = types.NewError(types.ErrRateLimited, "rate limited").WithRetryable(true)

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "hello")

	assert.Equal(t, OutcomeError, out.Kind)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrRateLimited, out.Err.Code)
	// 道歉话术，不是原始错误
	assert.Equal(t, "我们太火热了，得冷静一下。稍等片刻再试试？", out.Text)

	// 失败轮次的 user 条目被回滚
	for _, m := range f.store.Get("u1") {
		assert.NotEqual(t, "hello", m.Content)
	}
}

func TestHandleTurn_ApologyPerErrorCode(t *testing.T) {
	tests := []struct {
		code types.ErrorCode
		want string
	}{
		{types.ErrUpstreamTimeout, "这里似乎有条时间的河，我们不小心迷路了。稍后再试？"},
		{types.ErrConnection, "网络小巷子里似乎有堵墙，穿不过去呢。稍后再试？"},
		{types.ErrUpstreamError, "API 好像在捉迷藏，找不到它了。稍后再试试？"},
		{types.ErrUnknown, "网络出现了未知的小惊喜····"},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			f := newFixture(t)
			f.provider.err = types.NewError(tt.code, "boom")
			out := f.dispatcher.HandleTurn(context.Background(), "u1", "hi")
			assert.Equal(t, tt.want, out.Text)
		})
	}
}

func TestHandleTurn_FullReset(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.HandleTurn(context.Background(), "u1", "你好")
	f.dispatcher.HandleTurn(context.Background(), "u2", "你好")

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "重置会话")
	assert.Equal(t, OutcomeControl, out.Kind)
	assert.Equal(t, "记录清除，会话已重置。", out.Text)

	assert.Empty(t, f.store.Get("u1"))
	assert.Empty(t, f.store.Get("u2"))
}

func TestHandleTurn_PerUserClearLeavesOthers(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.HandleTurn(context.Background(), "u1", "你好")
	f.dispatcher.HandleTurn(context.Background(), "u2", "你好")

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "清除我的会话")
	assert.Equal(t, "您的会话历史已被清除。", out.Text)

	assert.Empty(t, f.store.Get("u1"))
	assert.Len(t, f.store.Get("u2"), 2)
}

func TestHandleTurn_ClearWithoutHistorySilent(t *testing.T) {
	f := newFixture(t)
	out := f.dispatcher.HandleTurn(context.Background(), "u1", "清除我的会话")
	assert.Equal(t, OutcomeControl, out.Kind)
	assert.Empty(t, out.Text)
}

func TestHandleTurn_HelpListsKeywordsStably(t *testing.T) {
	f := newFixture(t)

	first := f.dispatcher.HandleTurn(context.Background(), "u1", "帮助")
	assert.Equal(t, OutcomeControl, first.Kind)
	assert.Contains(t, first.Text, "猫娘")
	assert.Contains(t, first.Text, "狗")

	// 重复调用帮助文本不增长
	second := f.dispatcher.HandleTurn(context.Background(), "u1", "功能")
	assert.Equal(t, first.Text, second.Text)
}

func TestHandleTurn_StalePersonaSession(t *testing.T) {
	f := newFixture(t)
	// 会话指向的人设不在表中（如配置变更后遗留）
	f.tracker.Start("u1", "已删除的人设", nil)

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "你好")
	assert.Equal(t, OutcomeError, out.Kind)
	require.NotNil(t, out.Err)
	assert.Equal(t, types.ErrModelNotFound, out.Err.Code)
	assert.Equal(t, "模型设置失败", out.Text)

	st, _ := f.tracker.Get("u1")
	assert.Equal(t, session.StateNormal, st.Kind)
}

func TestHandleTurn_EmptyInput(t *testing.T) {
	f := newFixture(t)

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "   ")
	assert.Equal(t, OutcomePersona, out.Kind)
	assert.Equal(t, "用户输入为空", out.Text)
	assert.Empty(t, f.store.Get("u1"))
	assert.Empty(t, f.provider.calls)
}

func TestHandleTurn_ReplyFormatted(t *testing.T) {
	f := newFixture(t)
	f.provider.reply = "``````\n  你好呀。\n"

	out := f.dispatcher.HandleTurn(context.Background(), "u1", "你好")
	assert.Equal(t, "你好呀。", out.Text)

	// 历史里保存原始回复
	h := f.store.Get("u1")
	require.Len(t, h, 2)
	assert.Equal(t, "``````\n  你好呀。\n", h[1].Content)
}
