// =============================================================================
// 📦 PersonaFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultModelID 是出厂默认人设使用的模型 ID
const DefaultModelID = "gpt-4-gizmo-g-hG7vgO0nL"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		LLM:      DefaultLLMConfig(),
		Bot:      DefaultBotConfig(),
		Log:      DefaultLogConfig(),
		Personas: DefaultPersonas(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      ":8080",
		MetricsAddr:     ":9091",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:     "https://api.aigcbest.top/v1",
		Timeout:     60 * time.Second,
		Temperature: 0.7,
	}
}

// DefaultBotConfig 返回默认机器人配置
func DefaultBotConfig() BotConfig {
	return BotConfig{
		DefaultPersona:   "默认",
		MaxHistoryLength: 5,
		ProviderFamily:   "OpenAI",
		ExitKeyword:      "退出",
		ResetCommand:     "重置会话",
		ClearCommand:     "清除我的会话",
		HelpCommands:     []string{"帮助", "功能"},
		PaceInterval:     4 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultPersonas 返回出厂人设表：只有默认人设，无触发关键词
func DefaultPersonas() []PersonaConfig {
	return []PersonaConfig{
		{
			Name:    "默认",
			ModelID: DefaultModelID,
		},
	}
}
