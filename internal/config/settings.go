package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the runtime configuration. Compile-time defaults live in environmentVariables.go,
// a yaml file may override them and environment variables win over both.
type Settings struct {
	Server    ServerSettings    `yaml:"server"`
	Storage   StorageSettings   `yaml:"storage"`
	Redis     RedisSettings     `yaml:"redis"`
	Postgres  PostgresSettings  `yaml:"postgres"`
	Qdrant    QdrantSettings    `yaml:"qdrant"`
	Embedding EmbeddingSettings `yaml:"embedding"`
	LLM       LLMSettings       `yaml:"llm"`
	Chunking  ChunkingSettings  `yaml:"chunking"`
	Retrieval RetrievalSettings `yaml:"retrieval"`
	Prompt    PromptSettings    `yaml:"prompt"`
	Ingestion IngestionSettings `yaml:"ingestion"`
}

type ServerSettings struct {
	ListenAddr   string `yaml:"listen_addr"`
	AuthToken    string `yaml:"auth_token"`
	NoAuthBypass bool   `yaml:"no_auth_bypass"`
	IsProd       bool   `yaml:"is_prod"`
}

type StorageSettings struct {
	// Backend is one of memory, redis, postgres. Jobs and index generations always use redis when it is reachable.
	Backend string `yaml:"backend"`
}

type RedisSettings struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type PostgresSettings struct {
	DSN string `yaml:"dsn"`
}

type QdrantSettings struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	PoolSize   int    `yaml:"pool_size"`
	Collection string `yaml:"collection"`
}

type EmbeddingSettings struct {
	Provider       string        `yaml:"provider"`
	Model          string        `yaml:"model"`
	Dimension      int           `yaml:"dimension"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	BatchSize      int           `yaml:"batch_size"`
	BatchMaxChars  int           `yaml:"batch_max_chars"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	RejectedChunks string        `yaml:"rejected_chunk_policy"`
}

type LLMSettings struct {
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	MaxTokens          int           `yaml:"max_tokens"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxAttempts        int           `yaml:"max_attempts"`
	CostPerInputToken  float64       `yaml:"cost_per_input_token"`
	CostPerOutputToken float64       `yaml:"cost_per_output_token"`
}

type ChunkingSettings struct {
	Size      int `yaml:"size"`
	Overlap   int `yaml:"overlap"`
	Tolerance int `yaml:"tolerance"`
}

type RetrievalSettings struct {
	TopK     int     `yaml:"top_k"`
	MinScore float32 `yaml:"min_score"`
}

type PromptSettings struct {
	TokenBudget       int    `yaml:"token_budget"`
	HistoryTurnLimit  int    `yaml:"history_turn_limit"`
	SystemInstruction string `yaml:"system_instruction"`
}

type IngestionSettings struct {
	PoolSize     int           `yaml:"pool_size"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	ContentRoot  string        `yaml:"content_root"`
	MaxDocBytes  int64         `yaml:"max_document_bytes"`
}

// Default returns the settings the service runs with when nothing is configured.
func Default() *Settings {
	return &Settings{
		Server: ServerSettings{ListenAddr: ServerListenAddr, IsProd: IS_PROD},
		Storage: StorageSettings{
			Backend: StorageRedis,
		},
		Redis: RedisSettings{Addr: RedisAddr},
		Qdrant: QdrantSettings{
			Enabled:    true,
			Host:       QdrantHost,
			Port:       QdrantGrpcPort,
			UseTLS:     QdrantUseTLS,
			PoolSize:   QdrantPoolSize,
			Collection: EmbeddingDBName,
		},
		Embedding: EmbeddingSettings{
			Provider:       DefaultEmbeddingBackend,
			Model:          GoogleEmbeddingModel,
			Dimension:      int(EmbeddingOutputDimensionality),
			BatchSize:      EmbeddingBatchSize,
			BatchMaxChars:  EmbeddingBatchMaxChars,
			MaxAttempts:    EmbeddingMaxAttempts,
			BaseDelay:      EmbeddingBaseDelay,
			MaxDelay:       EmbeddingMaxDelay,
			CallTimeout:    EmbeddingCallTimeout,
			RatePerSecond:  EmbeddingRatePerSecond,
			RejectedChunks: RejectPolicyFail,
		},
		LLM: LLMSettings{
			Provider:    "gemini",
			Model:       GeminiModelName,
			MaxTokens:   LLMMaxTokens,
			Timeout:     LLMTimeout,
			MaxAttempts: LLMMaxAttempts,
		},
		Chunking:  ChunkingSettings{Size: ChunkSize, Overlap: ChunkOverlap, Tolerance: ChunkTolerance},
		Retrieval: RetrievalSettings{TopK: RetrievalTopK, MinScore: RetrievalMinScore},
		Prompt: PromptSettings{
			TokenBudget:       PromptTokenBudget,
			HistoryTurnLimit:  HistoryTurnLimit,
			SystemInstruction: SystemInstruction,
		},
		Ingestion: IngestionSettings{
			PoolSize:     IngestionPoolSize,
			RunTimeout:   IngestionRunTimeout,
			FetchTimeout: ContentFetchTimeout,
			ContentRoot:  ContentRoot,
			MaxDocBytes:  MaxDocumentSize,
		},
	}
}

// Load builds settings from defaults, the optional yaml file at path, a .env file and the environment.
// A missing file is not an error.
func Load(path string) (*Settings, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// .env is optional, real environment variables are never overwritten by it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	applyEnv(cfg)
	applyProviderDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Settings) {
	setString(&cfg.Server.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.Server.AuthToken, "AUTH_TOKEN")
	setBool(&cfg.Server.NoAuthBypass, "NO_AUTH_BYPASS")
	setBool(&cfg.Server.IsProd, "IS_PROD")
	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setBool(&cfg.Qdrant.Enabled, "QDRANT_ENABLED")
	setString(&cfg.Qdrant.Host, "QDRANT_HOST")
	setInt(&cfg.Qdrant.Port, "QDRANT_PORT")
	setString(&cfg.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&cfg.Qdrant.Collection, "QDRANT_COLLECTION")
	setString(&cfg.Embedding.Provider, "EMBEDDING_PROVIDER")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimension, "EMBEDDING_DIMENSION")
	setString(&cfg.Embedding.RejectedChunks, "REJECTED_CHUNK_POLICY")
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.Ingestion.ContentRoot, "CONTENT_ROOT")

	switch cfg.Embedding.Provider {
	case "google":
		setString(&cfg.Embedding.APIKey, "GOOGLE_API_KEY")
	case "openai":
		setString(&cfg.Embedding.APIKey, "OPENAI_API_KEY")
	}
	switch cfg.LLM.Provider {
	case "gemini":
		setString(&cfg.LLM.APIKey, "GOOGLE_API_KEY")
	case "openai":
		setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	}
}

// switching provider without naming a model should not keep the other vendor's default model
func applyProviderDefaults(cfg *Settings) {
	if cfg.Embedding.Provider == "openai" && cfg.Embedding.Model == GoogleEmbeddingModel {
		cfg.Embedding.Model = OpenAIEmbeddingModel
	}
	if cfg.LLM.Provider == "openai" && cfg.LLM.Model == GeminiModelName {
		cfg.LLM.Model = OpenAIChatModel
	}
}

// Validate rejects settings the pipeline cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Chunking.Size <= 0 {
		errs = append(errs, errors.New("chunking.size must be positive"))
	}
	if s.Chunking.Overlap < 0 || s.Chunking.Overlap >= s.Chunking.Size {
		errs = append(errs, errors.New("chunking.overlap must be in [0, size)"))
	}
	if s.Chunking.Tolerance < 0 || s.Chunking.Tolerance >= s.Chunking.Size {
		errs = append(errs, errors.New("chunking.tolerance must be in [0, size)"))
	}
	if s.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding.dimension must be positive"))
	}
	switch s.Embedding.Provider {
	case "google", "openai", "hash":
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider %q", s.Embedding.Provider))
	}
	switch s.LLM.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", s.LLM.Provider))
	}
	switch s.Embedding.RejectedChunks {
	case RejectPolicyFail, RejectPolicyDrop:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.rejected_chunk_policy %q", s.Embedding.RejectedChunks))
	}
	switch s.Storage.Backend {
	case StorageMemory, StorageRedis:
	case StoragePostgres:
		if s.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", s.Storage.Backend))
	}
	if s.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}
	if s.Prompt.TokenBudget <= 0 {
		errs = append(errs, errors.New("prompt.token_budget must be positive"))
	}
	if s.Embedding.MaxAttempts <= 0 || s.LLM.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max_attempts must be positive"))
	}
	if s.Ingestion.PoolSize <= 0 {
		errs = append(errs, errors.New("ingestion.pool_size must be positive"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = v
	}
}
