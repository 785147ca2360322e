// Package persona maps trigger keywords to downstream model identifiers and
// resolves the model a user's next turn should run on.
package persona

import (
	"fmt"
	"strings"

	"github.com/BaSui01/personaflow/config"
)

// Persona 是一个人设：触发关键词集合绑定到一个下游模型。加载后不可变。
type Persona struct {
	Name         string
	ModelID      string
	Keywords     []string
	SystemPrompt string
}

// Table 按配置顺序保存人设表。关键词匹配是子串匹配，
// 表中靠前的人设先命中（关键词集合允许重叠）。
type Table struct {
	personas    []Persona
	defaultName string

	// 帮助文本用的全量关键词，加载时计算一次
	keywords []string
}

// NewTable 从配置构建人设表。默认人设必须在表中。
func NewTable(cfgs []config.PersonaConfig, defaultName string) (*Table, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("persona table is empty")
	}

	t := &Table{
		personas:    make([]Persona, 0, len(cfgs)),
		defaultName: defaultName,
	}
	for _, c := range cfgs {
		t.personas = append(t.personas, Persona{
			Name:         c.Name,
			ModelID:      c.ModelID,
			Keywords:     append([]string(nil), c.Keywords...),
			SystemPrompt: c.SystemPrompt,
		})
		t.keywords = append(t.keywords, c.Keywords...)
	}

	if t.Default() == nil {
		return nil, fmt.Errorf("default persona %q not found in table", defaultName)
	}
	return t, nil
}

// FindByKeyword 返回第一个有关键词出现在 text 中的人设。
// 子串语义：关键词出现在消息任意位置即触发。没有命中返回 nil。
func (t *Table) FindByKeyword(text string) *Persona {
	for i := range t.personas {
		for _, kw := range t.personas[i].Keywords {
			if kw != "" && strings.Contains(text, kw) {
				return &t.personas[i]
			}
		}
	}
	return nil
}

// FindByModelID 反查声明了该模型 ID 的人设。没有命中返回 nil，
// 调用方需要把它转换为"切换失败"回复。
func (t *Table) FindByModelID(modelID string) *Persona {
	for i := range t.personas {
		if t.personas[i].ModelID == modelID {
			return &t.personas[i]
		}
	}
	return nil
}

// Get 按名字查找人设。
func (t *Table) Get(name string) *Persona {
	for i := range t.personas {
		if t.personas[i].Name == name {
			return &t.personas[i]
		}
	}
	return nil
}

// Default 返回配置的默认人设。
func (t *Table) Default() *Persona {
	return t.Get(t.defaultName)
}

// Keywords 返回全部触发关键词（按表顺序），加载时已计算好。
func (t *Table) Keywords() []string {
	return t.keywords
}

// Personas 返回表中的全部人设（按配置顺序）。
func (t *Table) Personas() []Persona {
	return t.personas
}
