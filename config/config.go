// =============================================================================
// 📦 PersonaFlow 配置结构
// =============================================================================
// 统一配置定义：服务、LLM、机器人行为、人设表、日志
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config 是 PersonaFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// LLM 下游补全服务配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Bot 会话调度行为配置
	Bot BotConfig `yaml:"bot" env:"BOT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Personas 人设表（顺序即关键词匹配优先级）
	Personas []PersonaConfig `yaml:"personas" env:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// WebSocket 网关监听地址
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	// Prometheus 指标监听地址
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LLMConfig 下游补全服务配置
type LLMConfig struct {
	// OpenAI 兼容接口地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 单次补全调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大 Token 数（0 表示不限制）
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 温度参数
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
}

// BotConfig 会话调度行为配置
type BotConfig struct {
	// 默认人设名（必须出现在 personas 中）
	DefaultPersona string `yaml:"default_persona" env:"DEFAULT_PERSONA"`
	// 单用户历史长度上限
	MaxHistoryLength int `yaml:"max_history_length" env:"MAX_HISTORY_LENGTH"`
	// Provider 家族名，决定是否保留 system 锚点（如 "OpenAI"）
	ProviderFamily string `yaml:"provider_family" env:"PROVIDER_FAMILY"`
	// 退出口令（子串匹配）
	ExitKeyword string `yaml:"exit_keyword" env:"EXIT_KEYWORD"`
	// 全局重置命令
	ResetCommand string `yaml:"reset_command" env:"RESET_COMMAND"`
	// 单用户清除命令
	ClearCommand string `yaml:"clear_command" env:"CLEAR_COMMAND"`
	// 帮助命令（完整匹配）
	HelpCommands []string `yaml:"help_commands" env:"HELP_COMMANDS"`
	// 分段回复的发送间隔
	PaceInterval time.Duration `yaml:"pace_interval" env:"PACE_INTERVAL"`
}

// PersonaConfig 单个人设配置
type PersonaConfig struct {
	// 人设名
	Name string `yaml:"name"`
	// 下游模型 ID
	ModelID string `yaml:"model_id"`
	// 触发关键词（子串匹配，按表顺序先匹配者生效）
	Keywords []string `yaml:"keywords"`
	// 可选的 system 提示词，会话首轮注入
	SystemPrompt string `yaml:"system_prompt"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// Validate 验证配置。配置错误在启动阶段即为致命错误。
func (c *Config) Validate() error {
	var errs []string

	if len(c.Personas) == 0 {
		errs = append(errs, "at least one persona is required")
	}
	found := false
	for i, p := range c.Personas {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("personas[%d]: name is required", i))
		}
		if p.ModelID == "" {
			errs = append(errs, fmt.Sprintf("personas[%d] (%s): model_id is required", i, p.Name))
		}
		if p.Name == c.Bot.DefaultPersona {
			found = true
		}
	}
	if c.Bot.DefaultPersona == "" {
		errs = append(errs, "bot.default_persona is required")
	} else if !found {
		errs = append(errs, fmt.Sprintf("bot.default_persona %q not found in personas", c.Bot.DefaultPersona))
	}

	// 修剪策略的保底条数是 3，低于 3 的上限没有意义
	if c.Bot.MaxHistoryLength < 3 {
		errs = append(errs, "bot.max_history_length must be >= 3")
	}
	if c.Bot.ExitKeyword == "" {
		errs = append(errs, "bot.exit_keyword is required")
	}
	if c.LLM.BaseURL == "" {
		errs = append(errs, "llm.base_url is required")
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, "llm.timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
