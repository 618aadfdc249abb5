package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	AuthzCache AuthzCacheConfig
	RateLimit  RateLimitConfig
	Provider   ProviderConfig
	Storage    StorageConfig
	Credits    CreditsConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	SupabaseURL   string
	SupabaseKey   string
	JWTSecret     string
	TokenCacheTTL time.Duration
}

type AuthzCacheConfig struct {
	MemoryTTL  time.Duration
	MemorySize int
	RedisTTL   time.Duration
}

type RateLimitConfig struct {
	PerWindow int
	Window    time.Duration
}

type ProviderConfig struct {
	OpenAIKey       string
	FALKey          string
	FALBaseURL      string
	AnthropicKey    string
	EmbedModel      string
	ModerationModel string
}

type StorageConfig struct {
	SupabaseURL   string
	SupabaseKey   string
	OutputsBucket string
}

type CreditsConfig struct {
	StartingBalance int
	DefaultCost     int
}

type CORSConfig struct {
	Origins []string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	tokenCacheTTL, err := getEnvDuration("TOKEN_CACHE_TTL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid TOKEN_CACHE_TTL: %w", err)
	}

	memoryTTL, err := getEnvDuration("AUTHZ_MEMORY_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_MEMORY_TTL: %w", err)
	}

	memorySize, err := getEnvInt("AUTHZ_MEMORY_SIZE", 10000)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_MEMORY_SIZE: %w", err)
	}

	redisTTL, err := getEnvDuration("AUTHZ_REDIS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTHZ_REDIS_TTL: %w", err)
	}

	ratePerWindow, err := getEnvInt("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
	}

	rateWindow, err := getEnvDuration("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_WINDOW: %w", err)
	}

	startingCredits, err := getEnvInt("STARTING_CREDITS", 100)
	if err != nil {
		return nil, fmt.Errorf("invalid STARTING_CREDITS: %w", err)
	}

	defaultCost, err := getEnvInt("DEFAULT_GENERATION_COST", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_GENERATION_COST: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			SupabaseURL:   getEnv("SUPABASE_URL", ""),
			SupabaseKey:   getEnv("SUPABASE_ANON_KEY", ""),
			JWTSecret:     getEnv("SUPABASE_JWT_SECRET", ""),
			TokenCacheTTL: tokenCacheTTL,
		},
		AuthzCache: AuthzCacheConfig{
			MemoryTTL:  memoryTTL,
			MemorySize: memorySize,
			RedisTTL:   redisTTL,
		},
		RateLimit: RateLimitConfig{
			PerWindow: ratePerWindow,
			Window:    rateWindow,
		},
		Provider: ProviderConfig{
			OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
			FALKey:          getEnv("FAL_KEY", ""),
			FALBaseURL:      getEnv("FAL_BASE_URL", "https://queue.fal.run"),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			EmbedModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			ModerationModel: getEnv("MODERATION_MODEL", "claude-3-5-haiku-latest"),
		},
		Storage: StorageConfig{
			SupabaseURL:   getEnv("SUPABASE_URL", ""),
			SupabaseKey:   getEnv("SUPABASE_SERVICE_KEY", ""),
			OutputsBucket: getEnv("STORAGE_BUCKET_OUTPUTS", "generation-outputs"),
		},
		Credits: CreditsConfig{
			StartingBalance: startingCredits,
			DefaultCost:     defaultCost,
		},
		CORS: CORSConfig{
			Origins: splitList(getEnv("CORS_ORIGINS", "*")),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.SupabaseURL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
