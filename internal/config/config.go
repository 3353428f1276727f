package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Supported values for STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendSQL      = "sql"
	BackendS3       = "s3"
	BackendDynamoDB = "dynamodb"
	BackendGCS      = "gcs"
)

// Config holds everything the server needs, loaded once at startup from the environment.
type Config struct {
	Username string `env:"TF_BACKEND_USERNAME"`
	Password string `env:"TF_BACKEND_PASSWORD"`

	Protocol Protocol
	Server   Server
	Log      Log
	Store    Store
	Sentry   Sentry
}

// Protocol maps onto the Terraform http backend configuration
// (update_method, lock_method, unlock_method and the lock/unlock addresses).
type Protocol struct {
	UpdateMethod string `env:"UPDATE_METHOD" envDefault:"POST"`
	LockMethod   string `env:"LOCK_METHOD" envDefault:"LOCK"`
	UnlockMethod string `env:"UNLOCK_METHOD" envDefault:"UNLOCK"`
	LockSuffix   string `env:"LOCK_ENDPOINT_SUFFIX"`
	UnlockSuffix string `env:"UNLOCK_ENDPOINT_SUFFIX"`
	MaxBodyBytes int64  `env:"MAX_BODY_BYTES" envDefault:"0"`
}

type Server struct {
	Host         string        `env:"LISTEN_HOST" envDefault:"0.0.0.0"`
	Port         string        `env:"PORT" envDefault:"8080"`
	OpsAddr      string        `env:"OPS_ADDR"`
	OpsPprof     bool          `env:"OPS_PPROF" envDefault:"false"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"0s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"0s"`
}

// Addr is the listen address of the protocol server.
func (s Server) Addr() string {
	return s.Host + ":" + s.Port
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"text"`
}

// Sentry is optional; an empty DSN disables error reporting.
type Sentry struct {
	DSN         string `env:"SENTRY_DSN"`
	Environment string `env:"SENTRY_ENVIRONMENT"`
}

// Store selects and configures the key-value adapter.
type Store struct {
	Backend  string `env:"STORE_BACKEND" envDefault:"memory"`
	Redis    RedisConfig
	SQL      SQLConfig
	S3       S3Config
	DynamoDB DynamoDBConfig
	GCS      GCSConfig
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"tfstate:"`
}

type SQLConfig struct {
	Driver string `env:"SQL_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"SQL_DSN" envDefault:"./data/state.db"`
}

type S3Config struct {
	Bucket   string `env:"S3_BUCKET"`
	Prefix   string `env:"S3_PREFIX"`
	Region   string `env:"AWS_REGION"`
	Endpoint string `env:"AWS_ENDPOINT"`
}

type DynamoDBConfig struct {
	Table       string `env:"DYNAMODB_TABLE" envDefault:"TerraformStateBackend"`
	Region      string `env:"AWS_REGION"`
	Endpoint    string `env:"DYNAMODB_ENDPOINT"`
	CreateTable bool   `env:"DYNAMODB_CREATE_TABLE" envDefault:"false"`
}

type GCSConfig struct {
	Bucket string `env:"GCS_BUCKET"`
	Prefix string `env:"GCS_PREFIX"`
}

var methodPattern = regexp.MustCompile("^[A-Z]+$")

// Load reads an optional dotenv file and then parses the environment.
// A missing dotenv file is not an error.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", dotenvPath, err)
			}
			slog.Debug("No dotenv file found", "path", dotenvPath)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return &cfg, nil
}

// Validate refuses configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return errors.New("TF_BACKEND_USERNAME and TF_BACKEND_PASSWORD must both be set")
	}
	if strings.Contains(c.Username, ":") {
		return errors.New("TF_BACKEND_USERNAME must not contain ':'")
	}

	for name, m := range map[string]string{
		"UPDATE_METHOD": c.Protocol.UpdateMethod,
		"LOCK_METHOD":   c.Protocol.LockMethod,
		"UNLOCK_METHOD": c.Protocol.UnlockMethod,
	} {
		if !methodPattern.MatchString(m) {
			return fmt.Errorf("%s must be an upper-case HTTP method, got %q", name, m)
		}
	}
	if c.Protocol.MaxBodyBytes < 0 {
		return errors.New("MAX_BODY_BYTES must not be negative")
	}

	return c.Store.Validate()
}

func (s Store) Validate() error {
	switch s.Backend {
	case BackendMemory, BackendRedis:
		return nil
	case BackendSQL:
		if s.SQL.Driver != "sqlite" && s.SQL.Driver != "postgres" {
			return fmt.Errorf("unsupported SQL_DRIVER %q", s.SQL.Driver)
		}
		if s.SQL.DSN == "" {
			return errors.New("SQL_DSN is required for the sql store")
		}
		return nil
	case BackendS3:
		if s.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 store")
		}
		return nil
	case BackendDynamoDB:
		if s.DynamoDB.Table == "" {
			return errors.New("DYNAMODB_TABLE is required for the dynamodb store")
		}
		return nil
	case BackendGCS:
		if s.GCS.Bucket == "" {
			return errors.New("GCS_BUCKET is required for the gcs store")
		}
		return nil
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", s.Backend)
	}
}
