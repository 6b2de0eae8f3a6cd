package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 服务运行所需的全部配置
type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	JWTSecret []byte

	RedisURL        string
	NotifyChannel   string
	NotifyWorkers   int
	NotifyQueueSize int

	AuthTimeout  time.Duration
	TypingTTL    time.Duration
	RateLimitRPS int

	CORSOrigins []string
	LogLevel    string
}

const defaultMySQLDSN = "root:root@tcp(localhost:3306)/rentgidi?parseTime=true&charset=utf8mb4&loc=Local"

// Load 读取环境变量，本地可用 .env 文件补充
func Load() (*Config, error) {
	// .env 只在本地开发时存在
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8082"),
		DBDriver:      getEnv("DB_DRIVER", "mysql"),
		DBDSN:         getEnv("DB_DSN", defaultMySQLDSN),
		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),
		RedisURL:      os.Getenv("REDIS_URL"),
		NotifyChannel: getEnv("NOTIFY_CHANNEL", "notifications:messages"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "*")),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.NotifyWorkers, err = getInt("NOTIFY_WORKERS", 2); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 256); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getInt("RATE_LIMIT_RPS", 20); err != nil {
		return nil, err
	}
	if cfg.AuthTimeout, err = getDuration("AUTH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.TypingTTL, err = getDuration("TYPING_TTL", 5*time.Second); err != nil {
		return nil, err
	}

	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	switch cfg.DBDriver {
	case "mysql", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
