package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	DefaultExchangeRate   float64
	DefaultWarrantyMonths int
	RateCacheTTLSeconds   int
	BakongAPIURL          string
	BakongEmail           string
	BakongToken           string
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	fallbackRate, err := strconv.ParseFloat(getEnv("DEFAULT_EXCHANGE_RATE", "4100"), 64)
	if err != nil || fallbackRate < 1000 || fallbackRate > 10000 {
		fallbackRate = 4100
	}
	warrantyMonths, err := strconv.Atoi(getEnv("DEFAULT_WARRANTY_MONTHS", "12"))
	if err != nil || warrantyMonths < 1 {
		warrantyMonths = 12
	}
	rateTTL, err := strconv.Atoi(getEnv("RATE_CACHE_TTL_SECONDS", "300"))
	if err != nil || rateTTL < 1 {
		rateTTL = 300
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		DefaultExchangeRate:   fallbackRate,
		DefaultWarrantyMonths: warrantyMonths,
		RateCacheTTLSeconds:   rateTTL,
		BakongAPIURL:          getEnv("BAKONG_API_URL", "https://api-bakong.nbc.gov.kh"),
		BakongEmail:           strings.TrimSpace(os.Getenv("BAKONG_EMAIL")),
		BakongToken:           strings.TrimSpace(os.Getenv("BAKONG_TOKEN")),
	}
}

// KHQRConfigured reports whether the Bakong credentials needed for payment
// verification are present.
func (c Config) KHQRConfigured() bool {
	return c.BakongEmail != "" && c.BakongToken != ""
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
