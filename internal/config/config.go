package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/rs/zerolog"
)

// Config 聚合客户端与本地开发服务器的配置项。
type Config struct {
	Client ClientConfig
	Server ServerConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	client, err := loadClientConfig()
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Client: client, Server: server}, nil
}

// ClientConfig 描述聊天客户端配置。
type ClientConfig struct {
	ServerURL         string        `env:"CHAT_SERVER_URL,default=http://localhost:8080"`
	DataDir           string        `env:"CHAT_DATA_DIR"`
	LogLevel          string        `env:"CHAT_LOG_LEVEL,default=info"`
	HistoryLimit      int           `env:"CHAT_HISTORY_LIMIT,default=50"`
	ReconnectAttempts int           `env:"CHAT_RECONNECT_ATTEMPTS,default=0"`
	ReconnectBackoff  time.Duration `env:"CHAT_RECONNECT_BACKOFF,default=1s"`
	TypingDelay       time.Duration `env:"CHAT_TYPING_DELAY,default=1s"`
	RequireToken      bool          `env:"CHAT_REQUIRE_TOKEN,default=false"`
}

// MaxHistoryLimit 服务端单次返回历史消息的上限。
const MaxHistoryLimit = 100

func loadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// Validate 校验客户端配置，命令行参数覆盖后也需要再次调用。
func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("CHAT_SERVER_URL is required")
	}
	if c.HistoryLimit < 0 || c.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("invalid history limit %d: must be between 0 and %d", c.HistoryLimit, MaxHistoryLimit)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("invalid reconnect attempts %d", c.ReconnectAttempts)
	}
	if c.ReconnectBackoff < 0 || c.TypingDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level 解析日志级别。
func (c ClientConfig) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// SessionDir 返回会话存储目录。
func (c ClientConfig) SessionDir() string {
	return filepath.Join(c.DataDir, "session")
}

// DefaultDataDir 返回用户配置目录下的默认数据目录。
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "realtime-chat")
}

// ServerConfig 描述本地开发服务器配置。
type ServerConfig struct {
	Addr      string
	JWTSecret string
	TokenTTL  time.Duration
}

type serverEnv struct {
	Port      string        `env:"PORT,default=8080"`
	JWTSecret string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	TokenTTL  time.Duration `env:"JWT_TTL,default=24h"`
}

// loadServerConfig 解析服务器监听地址与令牌配置。
func loadServerConfig() (ServerConfig, error) {
	var raw serverEnv
	if _, err := env.UnmarshalFromEnviron(&raw); err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	addr, err := parseAddr(raw.Port)
	if err != nil {
		return ServerConfig{}, err
	}
	if raw.TokenTTL <= 0 {
		return ServerConfig{}, fmt.Errorf("invalid JWT_TTL value %q", raw.TokenTTL)
	}

	return ServerConfig{Addr: addr, JWTSecret: raw.JWTSecret, TokenTTL: raw.TokenTTL}, nil
}

func parseAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}
