package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/pkg/errors"
)

const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Log    LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Log: loadLogConfig()}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	SessionIdleTTL time.Duration
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	addr, err := ParseAddr(os.Getenv("PORT"))
	if err != nil {
		return ServerConfig{}, err
	}

	ttl := 30 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("SESSION_IDLE_TTL")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return ServerConfig{}, errors.Wrapf(err, "invalid SESSION_IDLE_TTL value %q", raw)
		}
		ttl = parsed
	}

	return ServerConfig{Addr: addr, SessionIdleTTL: ttl}, nil
}

// ParseAddr turns a PORT style value into a listen address.
func ParseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", errors.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string

	GeminiAPIKey string
	GeminiModel  string

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string

	Temperature     float32
	TopK            float32
	TopP            float32
	MaxOutputTokens int32
	HistoryLimit    int
}

// Enabled 表示当前 provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != "" && c.GeminiModel != ""
	case ProviderArk:
		return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
	default:
		return false
	}
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
// Sampling parameters are applied per request by the ark backend, not here.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Provider != ProviderArk || !c.Enabled() {
		return nil, errors.New("ark credentials or model missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:   c.ArkBaseURL,
		Region:    c.ArkRegion,
		APIKey:    c.ArkAPIKey,
		AccessKey: c.ArkAccessKey,
		SecretKey: c.ArkSecretKey,
		Model:     c.ArkModel,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, errors.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	temperature, err := parseFloat32Env("CHAT_TEMPERATURE", 0.9)
	if err != nil {
		return AIConfig{}, err
	}

	topK, err := parseFloat32Env("CHAT_TOP_K", 1)
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseFloat32Env("CHAT_TOP_P", 1)
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseIntEnv("CHAT_MAX_OUTPUT_TOKENS", 2048)
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens < 1 {
		return AIConfig{}, errors.Errorf("invalid CHAT_MAX_OUTPUT_TOKENS value %d: must be positive", maxTokens)
	}

	historyLimit, err := parseIntEnv("CHAT_HISTORY_LIMIT", 20)
	if err != nil {
		return AIConfig{}, err
	}
	if historyLimit < 0 {
		historyLimit = 0
	}

	return AIConfig{
		Provider:        provider,
		GeminiAPIKey:    strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:     getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
		ArkAPIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:        strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:     temperature,
		TopK:            topK,
		TopP:            topP,
		MaxOutputTokens: int32(maxTokens),
		HistoryLimit:    historyLimit,
	}, nil
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level  string
	Format string
	File   string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
		File:   strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseFloat32Env(key string, defaultValue float32) (float32, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s value %q", key, value)
	}
	return float32(val), nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s value %q", key, value)
	}
	return val, nil
}
