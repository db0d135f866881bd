package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lotas/cognito/internal/storage"
)

// Config holds all settings for the relay, the panel and the CLI.
type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	DBPath  string        `mapstructure:"db_path"`
	Relay   RelayConfig   `mapstructure:"relay"`
	AI      AIConfig      `mapstructure:"ai"`
	Capture CaptureConfig `mapstructure:"capture"`
}

// RelayConfig configures the relay daemon.
type RelayConfig struct {
	Addr          string        `mapstructure:"addr"`
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AIConfig configures the Ollama model.
type AIConfig struct {
	Host        string        `mapstructure:"host"`
	Model       string        `mapstructure:"model"`
	VisionModel string        `mapstructure:"vision_model"`
	Locale      string        `mapstructure:"locale"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// CaptureConfig bounds image and page fetches.
type CaptureConfig struct {
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	MaxImageBytes int64         `mapstructure:"max_image_bytes"`
}

// RelayURL is the base http URL of the relay.
func (c *Config) RelayURL() string {
	return "http://" + c.Relay.Addr
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Relay.Addr) == "" {
		return errors.New("relay.addr is required")
	}
	if c.Relay.PendingTTL <= 0 {
		return fmt.Errorf("relay.pending_ttl must be positive, got %s", c.Relay.PendingTTL)
	}
	if c.Relay.SweepInterval <= 0 {
		return fmt.Errorf("relay.sweep_interval must be positive, got %s", c.Relay.SweepInterval)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive, got %s", c.AI.Timeout)
	}
	if c.Capture.MaxImageBytes <= 0 {
		return fmt.Errorf("capture.max_image_bytes must be positive, got %d", c.Capture.MaxImageBytes)
	}
	return nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("db_path", "")
	v.SetDefault("relay.addr", "127.0.0.1:19292")
	v.SetDefault("relay.pending_ttl", 10*time.Minute)
	v.SetDefault("relay.sweep_interval", time.Minute)
	v.SetDefault("ai.host", "http://localhost:11434")
	v.SetDefault("ai.model", "llama3.2")
	v.SetDefault("ai.vision_model", "")
	v.SetDefault("ai.locale", "en")
	v.SetDefault("ai.timeout", 60*time.Second)
	v.SetDefault("capture.fetch_timeout", 15*time.Second)
	v.SetDefault("capture.max_image_bytes", 10<<20)
}

// Load reads defaults, then config.yaml (from path, or the default data dir
// when path is empty), then COGNITO_* environment variables. A missing
// config file in the data dir is not an error.
func Load(path string) (*Config, error) {
	dataDir, err := storage.DefaultDataDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, dataDir)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(dataDir)
	}

	v.SetEnvPrefix("COGNITO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain names kept from earlier releases.
	if host := os.Getenv("OLLAMA_HOST"); host != "" && os.Getenv("COGNITO_AI_HOST") == "" {
		v.SetDefault("ai.host", host)
	}
	if model := os.Getenv("COGNITO_MODEL"); model != "" && os.Getenv("COGNITO_AI_MODEL") == "" {
		v.SetDefault("ai.model", model)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "cognito.db")
	}
	if cfg.AI.VisionModel == "" {
		cfg.AI.VisionModel = cfg.AI.Model
	}
	if !strings.Contains(cfg.AI.Host, "://") {
		cfg.AI.Host = "http://" + cfg.AI.Host
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
