package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables
	SNSRegion      string

	NotificationRetention time.Duration

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	CachePingTimeout time.Duration
	CacheDefaultTTL  time.Duration

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubscriber string
	PushTTLSeconds  int

	DeliveryTimeout  time.Duration
	DefaultTimezone  string
	DefaultMaxPerDay int

	InterviewJoinBefore      time.Duration
	InterviewDefaultDuration time.Duration

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Notifications     string
	Preferences       string
	PushSubscriptions string
	Reminders         string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Notifications:     getEnv("DYNAMO_TABLE_NOTIFICATIONS", "notifications"),
			Preferences:       getEnv("DYNAMO_TABLE_PREFERENCES", "notification_preferences"),
			PushSubscriptions: getEnv("DYNAMO_TABLE_PUSH_SUBSCRIPTIONS", "push_subscriptions"),
			Reminders:         getEnv("DYNAMO_TABLE_REMINDERS", "scheduled_reminders"),
		},
		SNSRegion: getEnv("SNS_REGION", "us-east-1"),

		NotificationRetention: getEnvDuration("NOTIFICATION_RETENTION", 90*24*time.Hour),

		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		CachePingTimeout: getEnvDuration("CACHE_PING_TIMEOUT", 500*time.Millisecond),
		CacheDefaultTTL:  getEnvDuration("CACHE_DEFAULT_TTL", time.Hour),

		VAPIDPublicKey:  getEnv("VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("VAPID_PRIVATE_KEY", ""),
		VAPIDSubscriber: getEnv("VAPID_SUBSCRIBER", "mailto:noreply@example.com"),
		PushTTLSeconds:  getEnvInt("PUSH_TTL_SECONDS", 86400),

		DeliveryTimeout:  getEnvDuration("DELIVERY_TIMEOUT", 5*time.Second),
		DefaultTimezone:  getEnv("DEFAULT_TIMEZONE", "UTC"),
		DefaultMaxPerDay: getEnvInt("DEFAULT_MAX_PER_DAY", 5),

		InterviewJoinBefore:      getEnvDuration("INTERVIEW_JOIN_BEFORE", 5*time.Minute),
		InterviewDefaultDuration: getEnvDuration("INTERVIEW_DEFAULT_DURATION", time.Hour),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         getEnvDuration("JWT_EXPIRY", 7*24*time.Hour),

		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

// Location resolves DefaultTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
