// Package tokenizer estimates prompt sizes for logging and metrics.
// It wraps tiktoken lazily; when the encoding cannot be initialized the
// estimator degrades to a byte heuristic instead of failing the turn.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/personaflow/types"
)

// 模型前缀到 tiktoken 编码的映射
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

const defaultEncoding = "cl100k_base"

// Estimator 按模型估算文本的 token 数。编码器首次使用时初始化；
// 初始化失败（如离线环境）时退化为按字节数/4 估算。
type Estimator struct {
	model    string
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewEstimator 为给定模型创建估算器。
func NewEstimator(model string) *Estimator {
	encoding := defaultEncoding
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			encoding = m.encoding
			break
		}
	}
	return &Estimator{model: model, encoding: encoding}
}

func (e *Estimator) init() {
	e.enc, e.initErr = tiktoken.GetEncoding(e.encoding)
}

// Count 估算一段文本的 token 数。
func (e *Estimator) Count(text string) int {
	e.once.Do(e.init)
	if e.initErr != nil || e.enc == nil {
		// 退化估算：平均 4 字节一个 token
		return (len(text) + 3) / 4
	}
	return len(e.enc.Encode(text, nil, nil))
}

// CountMessages 估算一组消息的 token 总数，每条消息附加少量
// 报文结构开销。
func (e *Estimator) CountMessages(msgs []types.Message) int {
	const perMessageOverhead = 4
	total := 0
	for _, m := range msgs {
		total += e.Count(m.Content) + perMessageOverhead
	}
	return total
}
