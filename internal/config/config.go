package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type APICfg struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
	Breaker         BreakerCfg    `mapstructure:"breaker"`
}

type BreakerCfg struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SocketCfg struct {
	URL             string        `mapstructure:"url"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	ReconnectMax    time.Duration `mapstructure:"reconnect_max"`
	TypingPerSecond int           `mapstructure:"typing_per_second"`
}

type ChatCfg struct {
	TypingIdle     time.Duration `mapstructure:"typing_idle"`
	PendingTimeout time.Duration `mapstructure:"pending_timeout"`
	Sound          bool          `mapstructure:"sound"`
}

type AuthCfg struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
}

type LogCfg struct {
	File        string `mapstructure:"file"`
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Config struct {
	API         APICfg    `mapstructure:"api"`
	Socket      SocketCfg `mapstructure:"socket"`
	Chat        ChatCfg   `mapstructure:"chat"`
	Auth        AuthCfg   `mapstructure:"auth"`
	Log         LogCfg    `mapstructure:"log"`
	DraftsPath  string    `mapstructure:"drafts_path"`
	ContactsDir string    `mapstructure:"contacts_dir"`
	MetricsAddr string    `mapstructure:"metrics_addr"`
}

// HomeDir returns ~/.alljobs-chat, where every local file lives by default.
func HomeDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".alljobs-chat")
}

func setDefaults(v *viper.Viper) {
	home := HomeDir()

	v.SetDefault("api.base_url", "http://localhost:5000/api")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.retry_max_elapsed", 5*time.Second)
	v.SetDefault("api.breaker.max_failures", 5)
	v.SetDefault("api.breaker.interval", 60*time.Second)
	v.SetDefault("api.breaker.timeout", 30*time.Second)

	v.SetDefault("socket.url", "ws://localhost:5000/ws")
	v.SetDefault("socket.ping_period", 30*time.Second)
	v.SetDefault("socket.write_wait", 10*time.Second)
	v.SetDefault("socket.reconnect_max", 30*time.Second)
	v.SetDefault("socket.typing_per_second", 10)

	v.SetDefault("chat.typing_idle", time.Second)
	v.SetDefault("chat.pending_timeout", 15*time.Second)
	v.SetDefault("chat.sound", true)

	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", filepath.Join(home, "token"))

	v.SetDefault("log.file", filepath.Join(home, "chat.log"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("drafts_path", filepath.Join(home, "drafts.db"))
	v.SetDefault("contacts_dir", filepath.Join(home, "contacts"))
	v.SetDefault("metrics_addr", "")
}

// Load reads the YAML file at path (optional when empty or missing), then
// .env and ALLJOBS_* environment overrides. ALLJOBS_SOCKET_URL overrides
// socket.url and so on.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ALLJOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("ALLJOBS_CONFIG")
	}
	if path == "" {
		path = filepath.Join(HomeDir(), "config.yaml")
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.Socket.URL, "ws://") && !strings.HasPrefix(c.Socket.URL, "wss://") {
		return fmt.Errorf("invalid socket.url %q: must start with ws:// or wss://", c.Socket.URL)
	}
	if c.API.BaseURL == "" {
		return errors.New("api.base_url cannot be empty")
	}
	if c.Chat.TypingIdle <= 0 {
		return fmt.Errorf("invalid chat.typing_idle %s", c.Chat.TypingIdle)
	}
	if c.Chat.PendingTimeout <= 0 {
		return fmt.Errorf("invalid chat.pending_timeout %s", c.Chat.PendingTimeout)
	}
	return nil
}

// Token returns auth.token, or the trimmed contents of auth.token_file.
func (c *Config) Token() (string, error) {
	if t := strings.TrimSpace(c.Auth.Token); t != "" {
		return t, nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	t := strings.TrimSpace(string(data))
	if t == "" {
		return "", fmt.Errorf("token file %s is empty", c.Auth.TokenFile)
	}
	return t, nil
}
