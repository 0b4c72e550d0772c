package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Inference InferenceConfig `mapstructure:"inference"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Nutrition NutritionConfig `mapstructure:"nutrition"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite or postgres
	Path            string        `mapstructure:"path"`   // sqlite file
	URL             string        `mapstructure:"url"`    // postgres DSN
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path
}

// StorageConfig points at the S3-compatible bucket holding uploaded meal photos.
// An empty Endpoint disables object storage; image references must then be URLs.
type StorageConfig struct {
	Type            string `mapstructure:"type"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	PublicURL       string `mapstructure:"public_url"`
	GeneratedPrefix string `mapstructure:"generated_prefix"`
}

// Enabled reports whether an object store is configured.
func (c *StorageConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

// PipelineConfig controls how jobs move through the stages.
type PipelineConfig struct {
	Workers                int           `mapstructure:"workers"`
	QueueSize              int           `mapstructure:"queue_size"`
	PortionMode            string        `mapstructure:"portion_mode"`
	MaxQuestions           int           `mapstructure:"max_questions"`
	MaxClarificationRounds int           `mapstructure:"max_clarification_rounds"`
	ConcurrentAdvice       bool          `mapstructure:"concurrent_advice"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	StaleAfter             time.Duration `mapstructure:"stale_after"`
	// ClaimTTL is how long a job stays reserved for the process running its stage.
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

type NutritionConfig struct {
	CatalogPath              string  `mapstructure:"catalog_path"`
	SeedOnStart              bool    `mapstructure:"seed_on_start"`
	UnresolvedDowngradeRatio float64 `mapstructure:"unresolved_downgrade_ratio"`
	SemanticMatch            bool    `mapstructure:"semantic_match"`
	SemanticMinScore         float32 `mapstructure:"semantic_min_score"`
	IndexWorkers             int     `mapstructure:"index_workers"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// Validate checks cross-section constraints that defaults cannot express.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database: url is required for postgres")
	}
	switch c.Pipeline.PortionMode {
	case "interactive", "autonomous":
	default:
		return fmt.Errorf("pipeline: unknown portion_mode %q", c.Pipeline.PortionMode)
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline: workers must be positive")
	}
	if c.Pipeline.MaxQuestions <= 0 {
		return fmt.Errorf("pipeline: max_questions must be positive")
	}
	if c.Pipeline.MaxClarificationRounds < 0 {
		return fmt.Errorf("pipeline: max_clarification_rounds must not be negative")
	}
	if worst := c.Inference.WorstCaseCall(); c.Pipeline.ClaimTTL <= worst {
		return fmt.Errorf("pipeline: claim_ttl %s must exceed the worst-case stage call %s", c.Pipeline.ClaimTTL, worst)
	}
	if r := c.Nutrition.UnresolvedDowngradeRatio; r < 0 || r > 1 {
		return fmt.Errorf("nutrition: unresolved_downgrade_ratio must be within [0, 1]")
	}
	if err := c.Inference.Validate(); err != nil {
		return err
	}
	if c.Nutrition.SemanticMatch {
		if err := c.Embedding.ValidateWithAPIKey(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads configuration from file, .env and environment variables.
// Parameters:
//   - configPath: explicit config file; empty searches ./configs and the working dir.
//
// Returns:
//   - *Config: resolved and validated configuration.
//   - error: non-nil if the file is unreadable or a value is invalid.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// secrets and deployment knobs commonly injected by the platform
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("storage.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("storage.bucket", "S3_BUCKET")
	v.BindEnv("storage.public_url", "S3_PUBLIC_URL")
	v.BindEnv("inference.api_key", "OPENAI_API_KEY")
	v.BindEnv("inference.base_url", "OPENAI_BASE_URL")
	v.BindEnv("inference.bedrock.region", "AWS_REGION")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.port", "QDRANT_PORT")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("admin.token", "ADMIN_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Inference.ResolveEnvVars()
	cfg.Embedding.ResolveEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/nutrilens.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.type", "")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.generated_prefix", "generated")

	v.SetDefault("inference.provider", "openai")
	v.SetDefault("inference.base_url", "https://api.openai.com/v1")
	v.SetDefault("inference.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("inference.timeout", 60*time.Second)
	v.SetDefault("inference.max_attempts", 3)
	v.SetDefault("inference.initial_backoff", 500*time.Millisecond)
	v.SetDefault("inference.max_backoff", 5*time.Second)
	v.SetDefault("inference.inline_images", true)
	v.SetDefault("inference.max_image_bytes", 10<<20)
	v.SetDefault("inference.models.recognition", "gpt-4o")
	v.SetDefault("inference.models.portion", "gpt-4o")
	v.SetDefault("inference.models.advisory", "gpt-4o-mini")
	v.SetDefault("inference.models.optimization", "gpt-4o-mini")
	v.SetDefault("inference.models.image", "dall-e-3")
	v.SetDefault("inference.image_size", "1024x1024")
	v.SetDefault("inference.bedrock.region", "us-east-1")

	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.portion_mode", "interactive")
	v.SetDefault("pipeline.max_questions", 4)
	v.SetDefault("pipeline.max_clarification_rounds", 1)
	v.SetDefault("pipeline.concurrent_advice", true)
	v.SetDefault("pipeline.sweep_interval", 30*time.Second)
	v.SetDefault("pipeline.stale_after", 2*time.Minute)
	v.SetDefault("pipeline.claim_ttl", 5*time.Minute)

	v.SetDefault("nutrition.catalog_path", "./configs/foods.yaml")
	v.SetDefault("nutrition.seed_on_start", true)
	v.SetDefault("nutrition.unresolved_downgrade_ratio", 0.5)
	v.SetDefault("nutrition.semantic_match", false)
	v.SetDefault("nutrition.semantic_min_score", 0.82)
	v.SetDefault("nutrition.index_workers", 4)

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "foods")

	v.SetDefault("embedding.provider", "openai-compatible")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("embedding.dimensions", 1536)
}
