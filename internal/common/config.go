package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	ProviderOpenAI  = "openai"
	ProviderHunyuan = "hunyuan"
)

// Config 服务运行配置，全部来自环境变量
type Config struct {
	Port string

	AIToken       string
	AIBaseURL     string
	AIVisionModel string
	AIChatModel   string
	// AIFake 为 true 时不访问远程模型，用于本地联调
	AIFake bool

	ChatProvider    string
	ChatReplayTurns int

	TencentSecretID  string
	TencentSecretKey string
	HunyuanEndpoint  string
	HunyuanModel     string

	DefaultDarkMode bool

	MaxImageBytes int64
	JPEGQuality   int
	MaxImageEdge  int
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		AIToken:          getEnv("AI_TOKEN", ""),
		AIBaseURL:        getEnv("AI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		AIVisionModel:    getEnv("AI_VISION_MODEL", "gemini-3-flash-preview"),
		AIChatModel:      getEnv("AI_CHAT_MODEL", "gemini-3-flash-preview"),
		AIFake:           getEnvBool("AI_FAKE", false),
		ChatProvider:     strings.ToLower(getEnv("CHAT_PROVIDER", ProviderOpenAI)),
		ChatReplayTurns:  getEnvInt("CHAT_REPLAY_TURNS", 0),
		TencentSecretID:  getEnv("TENCENTCLOUD_SECRETID", ""),
		TencentSecretKey: getEnv("TENCENTCLOUD_SECRETKEY", ""),
		HunyuanEndpoint:  getEnv("HUNYUAN_ENDPOINT", "hunyuan.ap-guangzhou.tencentcloudapi.com"),
		HunyuanModel:     getEnv("HUNYUAN_MODEL", "hunyuan-turbos-latest"),
		DefaultDarkMode:  getEnvBool("DEFAULT_DARK_MODE", false),
		MaxImageBytes:    int64(getEnvInt("MAX_IMAGE_BYTES", 8<<20)),
		JPEGQuality:      getEnvInt("JPEG_QUALITY", 80),
		MaxImageEdge:     getEnvInt("MAX_IMAGE_EDGE", 1024),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate 检查必填项
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if !c.AIFake && c.AIToken == "" {
		return fmt.Errorf("AI_TOKEN cannot be empty")
	}
	switch c.ChatProvider {
	case ProviderOpenAI:
	case ProviderHunyuan:
		if !c.AIFake && (c.TencentSecretID == "" || c.TencentSecretKey == "") {
			return fmt.Errorf("TENCENTCLOUD_SECRETID and TENCENTCLOUD_SECRETKEY are required for hunyuan")
		}
	default:
		return fmt.Errorf("unknown CHAT_PROVIDER %q", c.ChatProvider)
	}
	if c.ChatReplayTurns < 0 {
		return fmt.Errorf("CHAT_REPLAY_TURNS must be >= 0")
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100")
	}
	if c.MaxImageEdge <= 0 {
		return fmt.Errorf("MAX_IMAGE_EDGE must be > 0")
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("Port:", c.Port)
	fmt.Println("AI Base URL:", c.AIBaseURL)
	fmt.Println("AI Vision Model:", c.AIVisionModel)
	fmt.Println("AI Chat Model:", c.AIChatModel)
	fmt.Println("Chat Provider:", c.ChatProvider)
	fmt.Println("AI Fake:", c.AIFake)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
