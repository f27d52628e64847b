package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Chat     ChatConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// ChatConfig tunes the conversation/presence subsystem.
type ChatConfig struct {
	// PresenceStaleAfter is the window after which a user with no
	// heartbeat is reported offline regardless of stored status.
	PresenceStaleAfter time.Duration

	// HeartbeatInterval is how often connected gateways re-announce
	// presence. Must be well under PresenceStaleAfter.
	HeartbeatInterval time.Duration

	// SendTimeout bounds a single send attempt before the optimistic
	// echo is marked failed.
	SendTimeout time.Duration

	// OfflineBannerAfter is how long the event channel may stay down
	// before sessions surface a visible offline state.
	OfflineBannerAfter time.Duration

	// RateLimitMessagesPerSec caps message sends per user.
	RateLimitMessagesPerSec int

	// Default list window sizes.
	ConversationPageSize int
	MessagePageSize      int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		redisDB = 0
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_MESSAGES_PER_SECOND", "10"))
	if err != nil {
		rateLimit = 10
	}

	origins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "instauto"),
			Password: getEnv("DB_PASSWORD", "instauto_password"),
			DBName:   getEnv("DB_NAME", "instauto_chat"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret-key"),
		},
		Chat: ChatConfig{
			PresenceStaleAfter:      getDuration("PRESENCE_STALE_AFTER", 90*time.Second),
			HeartbeatInterval:       getDuration("HEARTBEAT_INTERVAL", 30*time.Second),
			SendTimeout:             getDuration("SEND_TIMEOUT", 10*time.Second),
			OfflineBannerAfter:      getDuration("OFFLINE_BANNER_AFTER", 15*time.Second),
			RateLimitMessagesPerSec: rateLimit,
			ConversationPageSize:    getInt("CONVERSATION_PAGE_SIZE", 20),
			MessagePageSize:         getInt("MESSAGE_PAGE_SIZE", 50),
		},
		CORS: CORSConfig{
			AllowedOrigins: origins,
		},
	}

	// Validate required fields
	if cfg.JWT.Secret == "change-this-secret-key" && cfg.Server.Env == "production" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}
	if cfg.Chat.HeartbeatInterval >= cfg.Chat.PresenceStaleAfter {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL must be shorter than PRESENCE_STALE_AFTER")
	}

	return cfg, nil
}

// GetDSN returns the database connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}
