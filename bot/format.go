package bot

import (
	"regexp"
	"strings"

	"github.com/BaSui01/personaflow/types"
)

// 上游偶尔把结构化负载混进正文，按 "json \n ... \n" 块整体剔除
var jsonBlockRe = regexp.MustCompile(`(?s)json \n.*?\n`)

// 展示分段的切分点：中文句号、问号或连续空行
var paragraphRe = regexp.MustCompile(`。|？|\n\n+`)

// FormatReply 清理原始回复：去掉开头的围栏引导序列和混入的 json
// 块，再裁剪首尾空白。历史里保存的是原始回复，清理只影响展示。
func FormatReply(raw string) string {
	s := raw
	if strings.HasPrefix(s, "``````") {
		s = s[6:]
	}
	s = jsonBlockRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// SplitParagraphs 把回复切成展示用的段落，丢弃空白段。
func SplitParagraphs(text string) []string {
	parts := paragraphRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// apologyFor 把错误码映射为面向用户的道歉话术，
// 永远不向用户暴露原始错误。
func apologyFor(code types.ErrorCode) string {
	switch code {
	case types.ErrRateLimited:
		return "我们太火热了，得冷静一下。稍等片刻再试试？"
	case types.ErrUpstreamTimeout:
		return "这里似乎有条时间的河，我们不小心迷路了。稍后再试？"
	case types.ErrUpstreamError, types.ErrInvalidRequest, types.ErrUnauthorized:
		return "API 好像在捉迷藏，找不到它了。稍后再试试？"
	case types.ErrConnection:
		return "网络小巷子里似乎有堵墙，穿不过去呢。稍后再试？"
	default:
		return "网络出现了未知的小惊喜····"
	}
}
