package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DB         DBConfig
	MinIO      MinIOConfig
	JWT        JWTConfig
	Server     ServerConfig
	Encryption EncryptionConfig
	Redis      RedisConfig
	Enrichment EnrichmentConfig
	Groups     GroupsConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	BodyLimit   int
	CORSOrigins string
}

type EncryptionConfig struct {
	Key string
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	MembershipTTL time.Duration
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type EnrichmentConfig struct {
	QueueBufferSize int
	MaxAttempts     int
	RetryDelays     []time.Duration
	StaleAfter      time.Duration
}

type GroupsConfig struct {
	DefaultMaxSize int64
}

var ErrMissingEncryptionKey = errors.New("ENCRYPTION_KEY must be set; refusing to store passcodes unencrypted")

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real env vars win over it.
func Load() *Config {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "cloudstorm"),
			Password: getEnv("DB_PASSWORD", "cloudstorm_secret"),
			Name:     getEnv("DB_NAME", "cloudstorm"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "cloudstorm"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "cloudstorm_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "cloudstorm"),
			Region:    getEnv("MINIO_REGION", ""),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			BodyLimit:   getEnvAsInt("SERVER_BODY_LIMIT", 100*1024*1024),
			CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Encryption: EncryptionConfig{
			Key: getEnv("ENCRYPTION_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			MembershipTTL: getEnvAsDuration("REDIS_MEMBERSHIP_TTL", 30*time.Second),
		},
		Enrichment: EnrichmentConfig{
			QueueBufferSize: getEnvAsInt("ENRICHMENT_QUEUE_BUFFER_SIZE", 100),
			MaxAttempts:     getEnvAsInt("ENRICHMENT_JOB_MAX_ATTEMPTS", 3),
			RetryDelays:     []time.Duration{30 * time.Second, 2 * time.Minute, 10 * time.Minute},
			StaleAfter:      getEnvAsDuration("ENRICHMENT_STALE_AFTER", 10*time.Minute),
		},
		Groups: GroupsConfig{
			DefaultMaxSize: int64(getEnvAsInt("GROUP_DEFAULT_MAX_SIZE", 2000000)),
		},
	}
}

// Validate reports configuration the process must not start without.
func (c *Config) Validate() error {
	if c.Encryption.Key == "" {
		return ErrMissingEncryptionKey
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
