package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIPort string
	JWTKey  []byte
	JWTExp  time.Duration

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSslMode  string
	DBConnStr  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	WebhookSecret string

	// Scoring and verdict-ingestion defaults. DecayRate and MaxRetryAttempts
	// are only fallbacks; the live values are read from the shared settings
	// store (see service.Settings).
	DecayRate        float64
	MaxRetryAttempts int
	RetryDelay       time.Duration

	LeaderboardCacheTTL time.Duration
	HeartbeatInterval   time.Duration
	SweepInterval       time.Duration
	SettingsRefresh     time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		APIPort:    getEnv("API_PORT", "8080"),
		JWTKey:     []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp:     time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 72)) * time.Hour,
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "user"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "contest_engine_db"),
		DBSslMode:  getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		WebhookSecret: getEnv("JUDGE_WEBHOOK_SECRET", ""),

		DecayRate:        getEnvAsFloat("SCORE_DECAY_RATE", 0),
		MaxRetryAttempts: getEnvAsInt("VERDICT_MAX_RETRY_ATTEMPTS", 3),
		RetryDelay:       time.Duration(getEnvAsInt("VERDICT_RETRY_DELAY_MS", 50)) * time.Millisecond,

		LeaderboardCacheTTL: time.Duration(getEnvAsInt("LEADERBOARD_CACHE_TTL_SECONDS", 30)) * time.Second,
		HeartbeatInterval:   time.Duration(getEnvAsInt("HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second,
		SweepInterval:       time.Duration(getEnvAsInt("STATUS_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		SettingsRefresh:     time.Duration(getEnvAsInt("SETTINGS_REFRESH_SECONDS", 30)) * time.Second,
	}

	cfg.DBConnStr = "host=" + cfg.DBHost +
		" port=" + cfg.DBPort +
		" user=" + cfg.DBUser +
		" password=" + cfg.DBPassword +
		" dbname=" + cfg.DBName +
		" sslmode=" + cfg.DBSslMode

	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}
