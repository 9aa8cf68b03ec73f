package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven settings for the trading controller.
type Config struct {
	Port string

	// Instrument
	Symbol string

	// Execution
	StartLive bool // start in LIVE mode (default PAPER)

	// Fyers broker
	FyersBaseURL   string
	FyersClientID  string
	FyersSecretKey string
	FyersTokenFile string

	// Simulated broker for local development (no credentials needed)
	UseSimBroker  bool
	SimStartPrice float64

	// Capital and trading file
	Capital     float64
	TradingFile string

	// Persistence
	DBPath string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string

	// Auth
	JWTSecret        string
	OperatorUser     string
	OperatorPassword string
}

// Trading holds tunable risk and session parameters loaded from YAML.
type Trading struct {
	RiskPerTrade   float64 `yaml:"risk_per_trade"`
	MaxDailyTrades int     `yaml:"max_daily_trades"`
	MaxDailyLosses int     `yaml:"max_daily_losses"`

	SessionOpen  string `yaml:"session_open"`  // "09:15"
	SessionClose string `yaml:"session_close"` // "15:30"
	EntryCutoff  string `yaml:"entry_cutoff"`  // "14:45"
	SquareOff    string `yaml:"square_off"`    // "15:15"

	ApprovalTimeoutSec int `yaml:"approval_timeout_sec"`
	TickIntervalSec    int `yaml:"tick_interval_sec"`

	StopOffset   float64 `yaml:"stop_offset"`
	TargetOffset float64 `yaml:"target_offset"`

	// Broker resilience
	MaxRetries         int `yaml:"max_retries"`
	BackoffBaseMs      int `yaml:"backoff_base_ms"`
	BreakerThreshold   int `yaml:"breaker_threshold"`
	BreakerCooldownSec int `yaml:"breaker_cooldown_sec"`
}

// DefaultTrading returns the built-in trading parameters.
func DefaultTrading() Trading {
	return Trading{
		RiskPerTrade:       0.01,
		MaxDailyTrades:     3,
		MaxDailyLosses:     2,
		SessionOpen:        "09:15",
		SessionClose:       "15:30",
		EntryCutoff:        "14:45",
		SquareOff:          "15:15",
		ApprovalTimeoutSec: 60,
		TickIntervalSec:    3,
		StopOffset:         50,
		TargetOffset:       100,
		MaxRetries:         5,
		BackoffBaseMs:      500,
		BreakerThreshold:   3,
		BreakerCooldownSec: 60,
	}
}

// ApprovalTimeout returns the pending-signal timeout as a duration.
func (t Trading) ApprovalTimeout() time.Duration {
	return time.Duration(t.ApprovalTimeoutSec) * time.Second
}

// TickInterval returns the evaluation tick period as a duration.
func (t Trading) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalSec) * time.Second
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Symbol:           getEnv("TRADE_SYMBOL", "NSE:NIFTY50-INDEX"),
		StartLive:        getEnv("START_LIVE", "false") == "true",
		FyersBaseURL:     getEnv("FYERS_BASE_URL", "https://api-t1.fyers.in"),
		FyersClientID:    os.Getenv("FYERS_CLIENT_ID"),
		FyersSecretKey:   os.Getenv("FYERS_SECRET_KEY"),
		FyersTokenFile:   getEnv("FYERS_TOKEN_FILE", ".secrets/fyers_token.json"),
		UseSimBroker:     getEnv("USE_SIM_BROKER", "true") == "true",
		SimStartPrice:    getEnvFloat("SIM_START_PRICE", 22000),
		Capital:          getEnvFloat("TRADE_CAPITAL", 100000),
		TradingFile:      getEnv("TRADING_FILE", "trading.yaml"),
		DBPath:           getEnv("DB_PATH", "./data/tradedesk.db"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		OperatorUser:     getEnv("OPERATOR_USER", "operator"),
		OperatorPassword: os.Getenv("OPERATOR_PASSWORD"),
	}, nil
}

// LoadTrading reads trading parameters from a YAML file, falling back to
// defaults for fields the file omits. A missing file returns the defaults.
func LoadTrading(path string) (Trading, error) {
	t := DefaultTrading()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("read trading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse trading config: %w", err)
	}
	if t.RiskPerTrade <= 0 || t.RiskPerTrade >= 1 {
		return t, fmt.Errorf("risk_per_trade out of range: %v", t.RiskPerTrade)
	}
	if t.ApprovalTimeoutSec <= 0 {
		t.ApprovalTimeoutSec = DefaultTrading().ApprovalTimeoutSec
	}
	if t.TickIntervalSec <= 0 {
		t.TickIntervalSec = DefaultTrading().TickIntervalSec
	}
	return t, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
