package config

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Pipeline *pipelineConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql" validate:"oneof=pgsql sqlite"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"explainer"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address   string `envconfig:"EXPLAINER_ADDRESS" default:":8080"`
	BaseUrl   string `envconfig:"EXPLAINER_BASE_URL" default:"http://localhost:8080"`
	LogLevel  string `envconfig:"EXPLAINER_LOG_LEVEL" default:"info"`
	GraphPath string `envconfig:"EXPLAINER_GRAPH_PATH" default:""`

	Generator     string `envconfig:"EXPLAINER_GENERATOR" default:"template" validate:"oneof=template openai"`
	OpenAIKey     string `envconfig:"EXPLAINER_OPENAI_API_KEY" default:""`
	OpenAIModel   string `envconfig:"EXPLAINER_OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseUrl string `envconfig:"EXPLAINER_OPENAI_BASE_URL" default:""`

	RendererUrl string `envconfig:"EXPLAINER_RENDERER_URL" default:""`

	Artifacts      string `envconfig:"EXPLAINER_ARTIFACTS" default:"fs" validate:"oneof=fs minio memory"`
	ArtifactsDir   string `envconfig:"EXPLAINER_ARTIFACTS_DIR" default:"/var/lib/explainer/artifacts"`
	MinioEndpoint  string `envconfig:"EXPLAINER_MINIO_ENDPOINT" default:""`
	MinioBucket    string `envconfig:"EXPLAINER_MINIO_BUCKET" default:"explainer-artifacts"`
	MinioAccessKey string `envconfig:"EXPLAINER_MINIO_ACCESS_KEY" default:""`
	MinioSecretKey string `envconfig:"EXPLAINER_MINIO_SECRET_KEY" default:""`
	MinioUseSSL    bool   `envconfig:"EXPLAINER_MINIO_USE_SSL" default:"false"`
}

type pipelineConfig struct {
	Workers      int           `envconfig:"EXPLAINER_WORKERS" default:"4" validate:"gt=0"`
	MaxAttempts  int           `envconfig:"EXPLAINER_MAX_ATTEMPTS" default:"3" validate:"gt=0"`
	BackoffBase  time.Duration `envconfig:"EXPLAINER_BACKOFF_BASE" default:"500ms"`
	BackoffCap   time.Duration `envconfig:"EXPLAINER_BACKOFF_CAP" default:"1m"`
	LeaseTTL     time.Duration `envconfig:"EXPLAINER_LEASE_TTL" default:"2m"`
	PollInterval time.Duration `envconfig:"EXPLAINER_POLL_INTERVAL" default:"1s"`

	Freshness string `envconfig:"EXPLAINER_FRESHNESS" default:"version-pinned" validate:"oneof=version-pinned always-fresh"`

	LookupTimeout   time.Duration `envconfig:"EXPLAINER_TIMEOUT_LOOKUP" default:"5s"`
	GenerateTimeout time.Duration `envconfig:"EXPLAINER_TIMEOUT_GENERATE" default:"2m"`
	FormatTimeout   time.Duration `envconfig:"EXPLAINER_TIMEOUT_FORMAT" default:"15s"`
	RenderTimeout   time.Duration `envconfig:"EXPLAINER_TIMEOUT_RENDER" default:"10m"`
	StoreTimeout    time.Duration `envconfig:"EXPLAINER_TIMEOUT_STORE" default:"1m"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
		if err := validator.New().Struct(singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a config populated with defaults only, ignoring the
// environment.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type:     "pgsql",
			Hostname: "localhost",
			Port:     "5432",
			Name:     "explainer",
			User:     "admin",
			Password: "adminpass",
		},
		Service: &svcConfig{
			Address:     ":8080",
			BaseUrl:     "http://localhost:8080",
			LogLevel:    "info",
			Generator:   "template",
			OpenAIModel: "gpt-4o-mini",
			Artifacts:   "fs",
		},
		Pipeline: &pipelineConfig{
			Workers:         4,
			MaxAttempts:     3,
			BackoffBase:     500 * time.Millisecond,
			BackoffCap:      time.Minute,
			LeaseTTL:        2 * time.Minute,
			PollInterval:    time.Second,
			Freshness:       "version-pinned",
			LookupTimeout:   5 * time.Second,
			GenerateTimeout: 2 * time.Minute,
			FormatTimeout:   15 * time.Second,
			RenderTimeout:   10 * time.Minute,
			StoreTimeout:    time.Minute,
		},
	}
}

func (c Config) String() string {
	redacted := c
	if redacted.Database != nil {
		db := *redacted.Database
		db.Password = "***"
		redacted.Database = &db
	}
	if redacted.Service != nil {
		svc := *redacted.Service
		if svc.OpenAIKey != "" {
			svc.OpenAIKey = "***"
		}
		if svc.MinioSecretKey != "" {
			svc.MinioSecretKey = "***"
		}
		redacted.Service = &svc
	}
	val, _ := json.Marshal(redacted)
	return string(val)
}
