package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once from the environment.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Security      SecurityConfig
	Storage       StorageConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	AutoCertDir  string
	AdminEmail   string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers      []string
	PushTopic    string
	MessageTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	EventIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Iterations int
	SaltLength int
	KeyLength  int
}

type BucketingConfig struct {
	EventBuckets         int
	SessionBucketSeconds int
}

// SecurityConfig carries the escalation and tracking tunables.
type SecurityConfig struct {
	FailedThreshold    int
	LockoutDuration    time.Duration
	LocationRetention  int
	SessionMaxAge      time.Duration
	ChannelTimeout     time.Duration
	NotifyMinInterval  time.Duration
	ExpirySweepPeriod  time.Duration
}

// StorageConfig selects the persistence backend. "memory" keeps everything
// in-process for local development and tests; "scylla" is the default.
type StorageConfig struct {
	Backend string
}

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// LoadConfig reads configuration from the environment (.env honored in dev).
func LoadConfig() *Config {
	loadOnce.Do(func() {
		_ = godotenv.Load()

		cfg := &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				Domain:       getEnv("SERVER_DOMAIN", "localhost"),
				AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "./certs"),
				AdminEmail:   getEnv("SERVER_ADMIN_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "powerguard"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:      getEnvList("KAFKA_BROKERS", "localhost:9092"),
				PushTopic:    getEnv("KAFKA_PUSH_TOPIC", "guardian-push"),
				MessageTopic: getEnv("KAFKA_MESSAGE_TOPIC", "guardian-messages"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "powerguard_audit"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
				EventIndex: getEnv("ELASTICSEARCH_EVENT_INDEX", "security-events"),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("AWS_REGION", "us-east-1"),
			},
			Hashing: HashingConfig{
				Iterations: getEnvInt("HASH_ITERATIONS", 120000),
				SaltLength: getEnvInt("HASH_SALT_LENGTH", 32),
				KeyLength:  getEnvInt("HASH_KEY_LENGTH", 32),
			},
			Bucketing: BucketingConfig{
				EventBuckets:         getEnvInt("EVENT_BUCKETS", 64),
				SessionBucketSeconds: getEnvInt("SESSION_BUCKET_SECONDS", 300),
			},
			Security: SecurityConfig{
				FailedThreshold:   getEnvInt("FAILED_AUTH_THRESHOLD", 2),
				LockoutDuration:   getEnvDuration("LOCKOUT_DURATION", 30*time.Second),
				LocationRetention: getEnvInt("LOCATION_RETENTION_CAP", 500),
				SessionMaxAge:     getEnvDuration("SESSION_MAX_AGE", 24*time.Hour),
				ChannelTimeout:    getEnvDuration("CHANNEL_TIMEOUT", 10*time.Second),
				NotifyMinInterval: getEnvDuration("NOTIFY_MIN_INTERVAL", 5*time.Minute),
				ExpirySweepPeriod: getEnvDuration("EXPIRY_SWEEP_PERIOD", time.Minute),
			},
			Storage: StorageConfig{
				Backend: getEnv("STORAGE_BACKEND", "scylla"),
			},
		}

		globalConfig = cfg
	})

	return globalConfig
}

// Get returns the loaded configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
