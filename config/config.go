package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"investgame/internal/indicator"
	"investgame/internal/notification"
	"investgame/internal/portfolio"
)

// Config holds the game server configuration.
//
// Precedence, lowest first: struct defaults, the optional YAML file, then
// environment variables (a .env file in the working directory is loaded into
// the environment first and never overrides variables already set).
type Config struct {
	Addr     string `yaml:"addr" default:":8080" validate:"required"`
	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`

	SQLitePath  string `yaml:"sqlite_path" default:"data/investgame.db" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr"` // empty serves /metrics on Addr

	Redis RedisConfig `yaml:"redis"`
	Game  GameConfig  `yaml:"game"`

	// Live indicator set as "TYPE:PERIOD,..."
	Indicators string `yaml:"indicators" default:"SMA:20,SMA:50,EMA:12,EMA:26,RSI:14"`

	Schedule ScheduleConfig `yaml:"schedule"`

	// FeedURL optionally subscribes to an upstream WebSocket price server.
	FeedURL string `yaml:"feed_url" validate:"omitempty,url"`

	Notify NotifyConfig `yaml:"notify"`
}

// NotifyConfig selects liquidation alert channels. Alerts are logged when
// none is set.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url" validate:"omitempty,url"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id" validate:"required_with=TelegramToken"`
}

type RedisConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db" validate:"gte=0"`
	VerdictTTL time.Duration `yaml:"verdict_ttl" default:"1m" validate:"gt=0"`
}

type GameConfig struct {
	StartingBalance  float64 `yaml:"starting_balance" default:"1000" validate:"gt=0"`
	ShortfallPolicy  string  `yaml:"shortfall_policy" default:"carry" validate:"oneof=carry forgive"`
	MaxLeverage      float64 `yaml:"max_leverage" default:"10" validate:"gte=1"`
	MaxOpenPositions int     `yaml:"max_open_positions" default:"20" validate:"gte=0"`
	SlippageBps      int64   `yaml:"slippage_bps" validate:"gte=0,lt=10000"`
	HistoryWindow    int     `yaml:"history_window" default:"500" validate:"gte=50"`
}

// ScheduleConfig holds six-field cron expressions (seconds first).
type ScheduleConfig struct {
	Snapshot string `yaml:"snapshot" default:"0 */5 * * * *" validate:"required"`
	Sweep    string `yaml:"sweep" default:"*/30 * * * * *" validate:"required"`
}

var validate = validator.New()

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	c := &Config{}
	if err := defaults.Set(c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	c.applyEnv()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Addr = getEnv("ADDR", c.Addr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.VerdictTTL = getEnvDuration("VERDICT_TTL", c.Redis.VerdictTTL)

	c.Game.StartingBalance = getEnvFloat("STARTING_BALANCE", c.Game.StartingBalance)
	c.Game.ShortfallPolicy = getEnv("SHORTFALL_POLICY", c.Game.ShortfallPolicy)
	c.Game.MaxLeverage = getEnvFloat("MAX_LEVERAGE", c.Game.MaxLeverage)
	c.Game.MaxOpenPositions = getEnvInt("MAX_OPEN_POSITIONS", c.Game.MaxOpenPositions)
	c.Game.SlippageBps = int64(getEnvInt("SLIPPAGE_BPS", int(c.Game.SlippageBps)))
	c.Game.HistoryWindow = getEnvInt("HISTORY_WINDOW", c.Game.HistoryWindow)

	c.Indicators = getEnv("INDICATORS", c.Indicators)
	c.Schedule.Snapshot = getEnv("SNAPSHOT_SCHEDULE", c.Schedule.Snapshot)
	c.Schedule.Sweep = getEnv("SWEEP_SCHEDULE", c.Schedule.Sweep)

	c.FeedURL = getEnv("FEED_URL", c.FeedURL)
	c.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", c.Notify.WebhookURL)
	c.Notify.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
}

// Validate checks struct tags and the indicator list.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	configs := indicator.ParseSpecs(c.Indicators)
	if len(configs) == 0 {
		return fmt.Errorf("indicators: no valid entries in %q", c.Indicators)
	}
	return indicator.ValidateConfigs(configs)
}

// IndicatorConfigs returns the parsed live indicator set.
func (c *Config) IndicatorConfigs() []indicator.IndicatorConfig {
	return indicator.ParseSpecs(c.Indicators)
}

// Notifier builds the configured alert channels.
func (c *Config) Notifier() notification.Notifier {
	var m notification.Multi
	if c.Notify.WebhookURL != "" {
		m = append(m, notification.NewWebhookNotifier(c.Notify.WebhookURL))
	}
	if c.Notify.TelegramToken != "" {
		m = append(m, notification.NewTelegramNotifier(c.Notify.TelegramToken, c.Notify.TelegramChatID))
	}
	if len(m) == 0 {
		return notification.NewLogNotifier()
	}
	return m
}

// SimulatorOptions maps the game settings onto portfolio options.
func (c *Config) SimulatorOptions() portfolio.Options {
	policy, err := portfolio.ParseShortfallPolicy(c.Game.ShortfallPolicy)
	if err != nil {
		policy = portfolio.ShortfallCarry
	}
	return portfolio.Options{
		Policy: policy,
		Limits: portfolio.RiskLimits{
			MaxLeverage:      c.Game.MaxLeverage,
			MaxOpenPositions: c.Game.MaxOpenPositions,
		},
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return d
}
