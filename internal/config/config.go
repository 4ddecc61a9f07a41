package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Oracle    OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Output    OutputConfig    `yaml:"output" mapstructure:"output"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// CatalogConfig configures the read-only dataset catalog.
type CatalogConfig struct {
	Path          string `yaml:"path" mapstructure:"path"`
	SourceName    string `yaml:"source_name" mapstructure:"source_name"`
	SourceVersion string `yaml:"source_version" mapstructure:"source_version"`
}

// StoreConfig configures the job/row persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	TopK          int  `yaml:"top_k" mapstructure:"top_k"`
	ComponentTopK int  `yaml:"component_top_k" mapstructure:"component_top_k"`
	LexicalTopN   int  `yaml:"lexical_top_n" mapstructure:"lexical_top_n"`
	SemanticTopN  int  `yaml:"semantic_top_n" mapstructure:"semantic_top_n"`
	RRFK          int  `yaml:"rrf_k" mapstructure:"rrf_k"`
	ExpandTerms   bool `yaml:"expand_terms" mapstructure:"expand_terms"`
	ScopeHints    bool `yaml:"scope_hints" mapstructure:"scope_hints"`
}

// EmbeddingConfig configures the semantic index and its embedding model.
type EmbeddingConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Model     string `yaml:"model" mapstructure:"model"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// OracleConfig configures the external decision oracle.
type OracleConfig struct {
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	Model            string  `yaml:"model" mapstructure:"model"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens        int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	GroundingRetries int     `yaml:"grounding_retries" mapstructure:"grounding_retries"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// OutputConfig bounds rendered output strings.
type OutputConfig struct {
	MaxChars int `yaml:"max_chars" mapstructure:"max_chars"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("catalog.path", "data/catalog.db")
	v.SetDefault("catalog.source_name", "ecoinvent")
	v.SetDefault("catalog.source_version", "3.11")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/rows.db")
	// Empty defaults so AutomaticEnv binds the secrets during Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("retrieval.top_k", 20)
	v.SetDefault("retrieval.component_top_k", 20)
	v.SetDefault("retrieval.lexical_top_n", 100)
	v.SetDefault("retrieval.semantic_top_n", 100)
	v.SetDefault("retrieval.rrf_k", 60)
	v.SetDefault("retrieval.expand_terms", true)
	v.SetDefault("retrieval.scope_hints", true)
	v.SetDefault("embedding.model", "gemini-embedding-001")
	v.SetDefault("embedding.batch_size", 256)
	v.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.max_tokens", 4096)
	v.SetDefault("oracle.max_retries", 3)
	v.SetDefault("oracle.grounding_retries", 2)
	v.SetDefault("oracle.requests_per_sec", 2.0)
	v.SetDefault("output.max_chars", 1000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
