package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"

	SecretsSSM      = "ssm"
	SecretsPostgres = "postgres"
	SecretsKeyring  = "keyring"

	QueuesSQS    = "sqs"
	QueuesMemory = "memory"

	StrategyTemplate = "template"
	StrategyLLM      = "llm"
)

type Config struct {
	Environment string
	Store       string
	Secrets     string
	Queues      string

	DBHost     string
	DBPort     string
	DBUsername string
	DBPassword string
	DBName     string
	DBSSLMode  string

	EncryptionKeyBase64 string
	KeyringService      string
	AWSRegion           string
	AWSEndpoint         string

	SMTPAddr     string
	SMTPStartTLS bool

	ReplyStrategy   string
	TemplatesPath   string
	AnthropicAPIKey string
	Model           string
	PersonaPath     string

	ReplyDelay   time.Duration
	PollDelay    time.Duration
	ScanInterval time.Duration
	CallTimeout  time.Duration

	ArchiveBucket string
	ArchiveZstd   bool

	IMAPAddr     string
	IMAPUsername string
	IMAPPassword string
	IMAPTLS      bool

	APIToken string
	Port     string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("BOGAMAIL_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:         env,
		Store:               getEnvOrDefault("BOGAMAIL_STORE", StorePostgres),
		Secrets:             getEnvOrDefault("BOGAMAIL_SECRETS", SecretsSSM),
		Queues:              getEnvOrDefault("BOGAMAIL_QUEUES", QueuesSQS),
		DBHost:              getEnvOrDefault("BOGAMAIL_DB_HOST", "localhost"),
		DBPort:              getEnvOrDefault("BOGAMAIL_DB_PORT", "5432"),
		DBUsername:          getEnvOrDefault("BOGAMAIL_DB_USER", "bogamail"),
		DBPassword:          os.Getenv("BOGAMAIL_DB_PASSWORD"),
		DBName:              getEnvOrDefault("BOGAMAIL_DB_NAME", "bogamail"),
		DBSSLMode:           getEnvOrDefault("BOGAMAIL_DB_SSLMODE", "disable"),
		EncryptionKeyBase64: os.Getenv("BOGAMAIL_ENCRYPTION_KEY_BASE64"),
		KeyringService:      getEnvOrDefault("BOGAMAIL_KEYRING_SERVICE", "bogamail"),
		AWSRegion:           getEnvOrDefault("AWS_REGION", "us-east-1"),
		AWSEndpoint:         os.Getenv("BOGAMAIL_AWS_ENDPOINT"),
		SMTPAddr:            getEnvOrDefault("BOGAMAIL_SMTP_ADDR", "smtp.gmail.com:587"),
		ReplyStrategy:       getEnvOrDefault("BOGAMAIL_REPLY_STRATEGY", StrategyTemplate),
		TemplatesPath:       getEnvOrDefault("BOGAMAIL_TEMPLATES", "templates.yaml"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		Model:               getEnvOrDefault("BOGAMAIL_MODEL", "claude-sonnet-4-5"),
		PersonaPath:         os.Getenv("BOGAMAIL_PERSONA"),
		ArchiveBucket:       os.Getenv("BOGAMAIL_ARCHIVE_BUCKET"),
		IMAPAddr:            os.Getenv("BOGAMAIL_IMAP_ADDR"),
		IMAPUsername:        os.Getenv("BOGAMAIL_IMAP_USER"),
		IMAPPassword:        os.Getenv("BOGAMAIL_IMAP_PASSWORD"),
		APIToken:            os.Getenv("BOGAMAIL_API_TOKEN"),
		Port:                getEnvOrDefault("PORT", "8080"),
	}

	var err error
	if config.SMTPStartTLS, err = getBoolOrDefault("BOGAMAIL_SMTP_STARTTLS", true); err != nil {
		return nil, err
	}
	if config.ArchiveZstd, err = getBoolOrDefault("BOGAMAIL_ARCHIVE_ZSTD", false); err != nil {
		return nil, err
	}
	if config.IMAPTLS, err = getBoolOrDefault("BOGAMAIL_IMAP_TLS", true); err != nil {
		return nil, err
	}
	if config.ReplyDelay, err = getDurationOrDefault("BOGAMAIL_REPLY_DELAY", 0); err != nil {
		return nil, err
	}
	if config.PollDelay, err = getDurationOrDefault("BOGAMAIL_POLL_DELAY", time.Second); err != nil {
		return nil, err
	}
	if config.ScanInterval, err = getDurationOrDefault("BOGAMAIL_SCAN_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if config.CallTimeout, err = getDurationOrDefault("BOGAMAIL_CALL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("BOGAMAIL_DB_PASSWORD is required for the postgres store")
		}
	case StoreDynamoDB, StoreMemory:
	default:
		return fmt.Errorf("unknown BOGAMAIL_STORE %q", c.Store)
	}

	switch c.Secrets {
	case SecretsPostgres:
		if c.EncryptionKeyBase64 == "" {
			return fmt.Errorf("BOGAMAIL_ENCRYPTION_KEY_BASE64 is required for postgres secrets")
		}
		if c.DBPassword == "" {
			return fmt.Errorf("BOGAMAIL_DB_PASSWORD is required for postgres secrets")
		}
	case SecretsSSM, SecretsKeyring:
	default:
		return fmt.Errorf("unknown BOGAMAIL_SECRETS %q", c.Secrets)
	}

	switch c.Queues {
	case QueuesSQS, QueuesMemory:
	default:
		return fmt.Errorf("unknown BOGAMAIL_QUEUES %q", c.Queues)
	}

	switch c.ReplyStrategy {
	case StrategyTemplate:
	case StrategyLLM:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the llm reply strategy")
		}
	default:
		return fmt.Errorf("unknown BOGAMAIL_REPLY_STRATEGY %q", c.ReplyStrategy)
	}

	if c.EncryptionKeyBase64 != "" {
		key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
		if err != nil {
			return fmt.Errorf("BOGAMAIL_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("BOGAMAIL_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
		}
	}

	if c.IMAPAddr != "" && c.IMAPUsername == "" {
		return fmt.Errorf("BOGAMAIL_IMAP_USER is required when BOGAMAIL_IMAP_ADDR is set")
	}

	if c.CallTimeout <= 0 {
		return fmt.Errorf("BOGAMAIL_CALL_TIMEOUT must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// NeedsAWS reports whether any selected backend talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.Store == StoreDynamoDB || c.Secrets == SecretsSSM || c.Queues == QueuesSQS || c.ArchiveBucket != ""
}

// NeedsPostgres reports whether any selected backend lives in Postgres.
func (c *Config) NeedsPostgres() bool {
	return c.Store == StorePostgres || c.Secrets == SecretsPostgres
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return parsed, nil
}
