package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/personaflow/types"
)

func newOpenAIStore(max int) *Store {
	return NewStore(Config{MaxLength: max, ProviderFamily: "OpenAI"}, zap.NewNop())
}

func roles(msgs []types.Message) []types.Role {
	out := make([]types.Role, len(msgs))
	for i, m := range msgs {
		out[i] = m.Role
	}
	return out
}

func TestAppend_BoundedAnchored(t *testing.T) {
	s := newOpenAIStore(5)
	s.Append("u1", types.RoleSystem, "你是猫娘")

	for i := 0; i < 10; i++ {
		s.Append("u1", types.RoleUser, fmt.Sprintf("问 %d", i))
		s.Append("u1", types.RoleAssistant, fmt.Sprintf("答 %d", i))
		assert.LessOrEqual(t, s.Len("u1"), 5)
	}

	h := s.Get("u1")
	// 锚点保留在第 0 位
	require.NotEmpty(t, h)
	assert.Equal(t, types.RoleSystem, h[0].Role)
	assert.Equal(t, "你是猫娘", h[0].Content)
}

func TestTrim_AnchoredRemovesPairAfterAnchor(t *testing.T) {
	s := newOpenAIStore(5)
	s.Append("u1", types.RoleSystem, "sys")
	s.Append("u1", types.RoleUser, "q1")
	s.Append("u1", types.RoleAssistant, "a1")
	s.Append("u1", types.RoleUser, "q2")
	s.Append("u1", types.RoleAssistant, "a2")
	// 第 6 条触发修剪：移除锚点后紧随的两条（q1/a1）
	s.Append("u1", types.RoleUser, "q3")

	h := s.Get("u1")
	require.Len(t, h, 4)
	assert.Equal(t, "sys", h[0].Content)
	assert.Equal(t, "q2", h[1].Content)
	assert.Equal(t, "a2", h[2].Content)
	assert.Equal(t, "q3", h[3].Content)
}

func TestTrim_UnanchoredUsesLowerThreshold(t *testing.T) {
	s := newOpenAIStore(5)
	s.Append("u1", types.RoleUser, "q1")
	s.Append("u1", types.RoleAssistant, "a1")
	s.Append("u1", types.RoleUser, "q2")
	s.Append("u1", types.RoleAssistant, "a2")
	// 无锚点阈值是 max-1=4：第 5 条触发，移除最旧两条
	s.Append("u1", types.RoleUser, "q3")

	h := s.Get("u1")
	require.Len(t, h, 3)
	assert.Equal(t, "q2", h[0].Content)
	assert.Equal(t, []types.Role{types.RoleUser, types.RoleAssistant, types.RoleUser}, roles(h))
}

func TestTrim_LeadingAssistantDropped(t *testing.T) {
	s := newOpenAIStore(5)
	s.Append("u1", types.RoleAssistant, "stray")
	h := s.Get("u1")
	assert.Empty(t, h)
}

func TestTrim_NonAwareFamilyDropsSystem(t *testing.T) {
	s := NewStore(Config{MaxLength: 5, ProviderFamily: "Qwen"}, zap.NewNop())
	s.Append("u1", types.RoleSystem, "sys")
	s.Append("u1", types.RoleUser, "q1")

	h := s.Get("u1")
	require.Len(t, h, 1)
	assert.Equal(t, types.RoleUser, h[0].Role)
}

func TestTrim_FloorPreserved(t *testing.T) {
	// 上限 3，锚点场景下长度 3 是保底，不再修剪
	s := newOpenAIStore(3)
	s.Append("u1", types.RoleSystem, "sys")
	s.Append("u1", types.RoleUser, "q1")
	s.Append("u1", types.RoleAssistant, "a1")
	s.Append("u1", types.RoleUser, "q2")

	h := s.Get("u1")
	// 超过上限时移除一对；保底使长度回到 3 以内
	assert.LessOrEqual(t, len(h), 3)
	assert.Equal(t, types.RoleSystem, h[0].Role)
}

func TestClearUser(t *testing.T) {
	s := newOpenAIStore(5)
	assert.False(t, s.ClearUser("u1"))

	s.Append("u1", types.RoleUser, "hi")
	s.Append("u2", types.RoleUser, "hello")

	assert.True(t, s.ClearUser("u1"))
	assert.Empty(t, s.Get("u1"))
	// 其他用户不受影响
	assert.Len(t, s.Get("u2"), 1)
}

func TestClearAll(t *testing.T) {
	s := newOpenAIStore(5)
	s.Append("u1", types.RoleUser, "hi")
	s.Append("u2", types.RoleUser, "hello")

	s.ClearAll()
	assert.Empty(t, s.Get("u1"))
	assert.Empty(t, s.Get("u2"))
}

func TestDropLastUser(t *testing.T) {
	s := newOpenAIStore(5)
	assert.False(t, s.DropLastUser("u1"))

	s.Append("u1", types.RoleUser, "hello")
	assert.True(t, s.DropLastUser("u1"))
	assert.Empty(t, s.Get("u1"))

	// 末尾是 assistant 时不回滚
	s.Append("u1", types.RoleUser, "q")
	s.Append("u1", types.RoleAssistant, "a")
	assert.False(t, s.DropLastUser("u1"))
	assert.Len(t, s.Get("u1"), 2)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := newOpenAIStore(5)
	s.Append("u1", types.RoleUser, "hi")

	h := s.Get("u1")
	h[0].Content = "mutated"

	assert.Equal(t, "hi", s.Get("u1")[0].Content)
}
