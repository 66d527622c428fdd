package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"investgame/internal/notification"
	"investgame/internal/portfolio"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Addr != ":8080" || c.Game.StartingBalance != 1000 || c.Game.ShortfallPolicy != "carry" {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.Redis.Enabled || c.Redis.VerdictTTL != time.Minute {
		t.Errorf("unexpected redis defaults: %+v", c.Redis)
	}
	if got := len(c.IndicatorConfigs()); got != 5 {
		t.Errorf("expected 5 default indicators, got %d", got)
	}
}

func TestLoad_Precedence(t *testing.T) {
	path := writeYAML(t, `
addr: ":9000"
game:
  starting_balance: 5000
  shortfall_policy: forgive
redis:
  verdict_ttl: 30s
`)
	t.Setenv("ADDR", ":7000")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Addr != ":7000" {
		t.Errorf("env should override yaml, got %q", c.Addr)
	}
	if c.Game.StartingBalance != 5000 {
		t.Errorf("yaml should override defaults, got %v", c.Game.StartingBalance)
	}
	if c.Game.MaxLeverage != 10 {
		t.Errorf("unset yaml field should keep default, got %v", c.Game.MaxLeverage)
	}
	if !c.Redis.Enabled || c.Redis.Addr != "redis:6379" || c.Redis.VerdictTTL != 30*time.Second {
		t.Errorf("unexpected redis config %+v", c.Redis)
	}
	if opts := c.SimulatorOptions(); opts.Policy != portfolio.ShortfallForgive || opts.Limits.MaxLeverage != 10 {
		t.Errorf("unexpected simulator options %+v", opts)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"bad policy", "game:\n  shortfall_policy: bailout\n", nil},
		{"zero balance", "", map[string]string{"STARTING_BALANCE": "0"}},
		{"leverage below one", "game:\n  max_leverage: 0.5\n", nil},
		{"bad indicator", "indicators: \"MACD:9\"\n", nil},
		{"no indicators", "", map[string]string{"INDICATORS": "garbage"}},
		{"bad log level", "log_level: loud\n", nil},
		{"telegram without chat", "", map[string]string{"TELEGRAM_BOT_TOKEN": "t"}},
		{"bad webhook url", "notify:\n  webhook_url: not a url\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeYAML(t, tt.yaml)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestGetEnv_InvalidNumberKeepsFallback(t *testing.T) {
	t.Setenv("MAX_OPEN_POSITIONS", "many")
	if got := getEnvInt("MAX_OPEN_POSITIONS", 20); got != 20 {
		t.Errorf("got %d, want fallback 20", got)
	}
}

func TestNotifier(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := c.Notifier().(*notification.LogNotifier); !ok {
		t.Errorf("no channels should fall back to the log notifier, got %T", c.Notifier())
	}

	t.Setenv("NOTIFY_WEBHOOK_URL", "https://hooks.example.com/x")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	c, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m, ok := c.Notifier().(notification.Multi)
	if !ok || len(m) != 2 {
		t.Fatalf("expected webhook and telegram, got %#v", c.Notifier())
	}
}
