package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv                string
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	SalesDatabaseURL      string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CacheTTLSeconds       int
	AuthSecret            string
	AccessTokenTTLMinutes int
	StrictFeeConfig       bool
	LogLevel              string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first without overriding variables that are
// already set.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	ttl, err := strconv.Atoi(getEnv("CACHE_TTL_SECONDS", "60"))
	if err != nil || ttl < 1 {
		ttl = 60
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	strict, _ := strconv.ParseBool(getEnv("STRICT_FEE_CONFIG", "false"))

	return Config{
		AppEnv:                strings.ToLower(getEnv("APP_ENV", "development")),
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:5173"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SalesDatabaseURL:      os.Getenv("SALES_DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		CacheTTLSeconds:       ttl,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		StrictFeeConfig:       strict,
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Production() bool {
	return c.AppEnv == "production" || c.AppEnv == "prod"
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
