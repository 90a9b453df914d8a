package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Kafka        KafkaConfig
	Redis        RedisConfig
	Providers    ProviderConfig
	Engine       EngineConfig
	SettingsPath string
	LogLevel     string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Enabled  bool
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers         []string
	DecisionsTopic  string
	TriggersTopic   string
	RebalanceTopic  string
	PositionsTopic  string
	ConsumerGroupID string
	Enabled         bool
}

// RedisConfig holds the quote cache configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	QuoteTTL time.Duration
	Enabled  bool
}

// ProviderConfig holds market data provider configuration
type ProviderConfig struct {
	FinnhubAPIKey     string
	FinnhubBaseURL    string
	FinnhubRateLimit  float64
	YahooEnabled      bool
	YahooRateLimit    float64
	SyntheticFallback bool
	SyntheticSeed     int64
	FetchTimeout      time.Duration
	HistoryLookback   int
}

// EngineConfig holds analysis loop configuration
type EngineConfig struct {
	CycleInterval time.Duration
	Universe      []models.Instrument
}

// Load reads configuration from environment variables, after loading .env when present
func Load() (*Config, error) {
	_ = godotenv.Load()

	universe, err := ParseUniverse(getEnv("UNIVERSE", "AAPL:Technology,MSFT:Technology,JNJ:Healthcare,JPM:Financials,XOM:Energy"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "riskengine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Enabled:  getEnvBool("DB_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers:         splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			DecisionsTopic:  getEnv("KAFKA_DECISIONS_TOPIC", "investment-decisions"),
			TriggersTopic:   getEnv("KAFKA_TRIGGERS_TOPIC", "exit-triggers"),
			RebalanceTopic:  getEnv("KAFKA_REBALANCE_TOPIC", "rebalance-requests"),
			PositionsTopic:  getEnv("KAFKA_POSITIONS_TOPIC", "trading.positions"),
			ConsumerGroupID: getEnv("KAFKA_CONSUMER_GROUP", "stock-risk-engine"),
			Enabled:         getEnvBool("KAFKA_ENABLED", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			QuoteTTL: getEnvDuration("REDIS_QUOTE_TTL", 5*time.Second),
			Enabled:  getEnvBool("REDIS_ENABLED", false),
		},
		Providers: ProviderConfig{
			FinnhubAPIKey:     getEnv("FINNHUB_API_KEY", ""),
			FinnhubBaseURL:    getEnv("FINNHUB_BASE_URL", "https://finnhub.io/api/v1"),
			FinnhubRateLimit:  getEnvFloat("FINNHUB_RATE_LIMIT", 1),
			YahooEnabled:      getEnvBool("YAHOO_ENABLED", true),
			YahooRateLimit:    getEnvFloat("YAHOO_RATE_LIMIT", 2),
			SyntheticFallback: getEnvBool("SYNTHETIC_FALLBACK", false),
			SyntheticSeed:     int64(getEnvInt("SYNTHETIC_SEED", 42)),
			FetchTimeout:      getEnvDuration("FETCH_TIMEOUT", 5*time.Second),
			HistoryLookback:   getEnvInt("HISTORY_LOOKBACK", 120),
		},
		Engine: EngineConfig{
			CycleInterval: getEnvDuration("CYCLE_INTERVAL", time.Minute),
			Universe:      universe,
		},
		SettingsPath: getEnv("SETTINGS_PATH", "settings.yaml"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}, nil
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// ParseUniverse parses "SYM:Sector,SYM:Sector". A missing sector becomes "Unknown".
func ParseUniverse(raw string) ([]models.Instrument, error) {
	var out []models.Instrument
	seen := make(map[string]bool)
	for _, item := range splitList(raw) {
		symbol, sector, _ := strings.Cut(item, ":")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		sector = strings.TrimSpace(sector)
		if symbol == "" {
			return nil, &ValidationError{Section: "universe", Field: "symbol", Reason: fmt.Sprintf("empty symbol in %q", item)}
		}
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		if sector == "" {
			sector = "Unknown"
		}
		out = append(out, models.Instrument{Symbol: symbol, Sector: sector})
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
