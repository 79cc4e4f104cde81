package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	BotToken    string
	BotUsername string
	AdminID     int64

	// Database
	DBPath string

	// Limits
	DefaultLimits  int
	PublicIDPrefix string
	Prices         map[string]int

	// Daily reset
	ResetHour     int
	ResetMinute   int
	ResetTimezone string

	// YooKassa
	YooKassaShopID    string
	YooKassaSecretKey string
	YooKassaBaseURL   string
	PaymentReturnURL  string
	PollInterval      time.Duration
	PollAttempts      int
	LimitPriceRUB     int

	// YandexGPT
	YandexAPIKey   string
	YandexFolderID string
	YandexGPTURL   string

	// Ops
	OpsPort      int
	BroadcastRPS float64
	LogLevel     string
}

// Price kinds, in limits per draw.
const (
	KindOneRune    = "one_rune"
	KindThreeRunes = "three_runes"
	KindFourRunes  = "four_runes"
	KindFate       = "fate"
	KindField      = "field"
)

func Load() *Config {
	cfg := &Config{
		// Telegram
		BotToken:    getEnv("BOT_TOKEN", ""),
		BotUsername: getEnv("BOT_USERNAME", "runes_oracle_bot"),
		AdminID:     getEnvInt64("ADMIN_ID", 0),

		// Database
		DBPath: getEnv("DB_PATH", "./data/runes_bot.db"),

		// Limits
		DefaultLimits:  getEnvInt("DEFAULT_LIMITS", 50),
		PublicIDPrefix: strings.ToUpper(getEnv("PUBLIC_ID_PREFIX", "RUNES")),

		// Daily reset
		ResetHour:     getEnvInt("RESET_HOUR", 0),
		ResetMinute:   getEnvInt("RESET_MINUTE", 0),
		ResetTimezone: getEnv("RESET_TIMEZONE", "Europe/Moscow"),

		// YooKassa
		YooKassaShopID:    getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey: getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaBaseURL:   strings.TrimSuffix(getEnv("YOOKASSA_BASE_URL", "https://api.yookassa.ru/v3"), "/"),
		PaymentReturnURL:  getEnv("PAYMENT_RETURN_URL", "https://t.me/runes_oracle_bot"),
		PollInterval:      getEnvDuration("PAYMENT_POLL_INTERVAL", 30*time.Second),
		PollAttempts:      getEnvInt("PAYMENT_POLL_ATTEMPTS", 20),
		LimitPriceRUB:     getEnvInt("LIMIT_PRICE_RUB", 1),

		// YandexGPT
		YandexAPIKey:   getEnv("YANDEX_API_KEY", ""),
		YandexFolderID: getEnv("YANDEX_FOLDER_ID", ""),
		YandexGPTURL:   getEnv("YANDEX_GPT_URL", "https://llm.api.cloud.yandex.net/foundationModels/v1/completion"),

		// Ops
		OpsPort:      getEnvInt("OPS_PORT", 8080),
		BroadcastRPS: getEnvFloat("BROADCAST_RPS", 3),
		LogLevel:     strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	cfg.Prices = map[string]int{
		KindOneRune:    getEnvInt("PRICE_ONE_RUNE", 1),
		KindThreeRunes: getEnvInt("PRICE_THREE_RUNES", 3),
		KindFourRunes:  getEnvInt("PRICE_FOUR_RUNES", 4),
		KindFate:       getEnvInt("PRICE_FATE", 5),
		KindField:      getEnvInt("PRICE_FIELD", 5),
	}

	if cfg.LimitPriceRUB <= 0 {
		cfg.LimitPriceRUB = 1
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 20
	}

	return cfg
}

// Location returns the timezone of the daily reset, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ResetTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Price returns the cost in limits of the given draw kind.
func (c *Config) Price(kind string) int {
	if p, ok := c.Prices[kind]; ok && p > 0 {
		return p
	}
	return 1
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
