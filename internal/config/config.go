package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	GeminiAPIKey   string `yaml:"-"`
	DatabaseURL    string `yaml:"database_url"`
	HTTPPort       string `yaml:"http_port"`
	LogLevel       string `yaml:"log_level"`
	LogMode        string `yaml:"log_mode"`
	JWTSecret      string `yaml:"-"`
	UploadDir      string `yaml:"upload_dir"`
	MaxFileSize    int64  `yaml:"max_file_size"`
	ChatModel      string `yaml:"chat_model"`
	EmbeddingModel string `yaml:"embedding_model"`

	Chunking    ChunkingConfig   `yaml:"chunking"`
	Embedder    string           `yaml:"embedder"`
	EmbedDim    int              `yaml:"embedding_dimension"`
	VectorIndex string           `yaml:"vector_index"`
	Pinecone    PineconeConfig   `yaml:"pinecone"`
	Generation  GenerationConfig `yaml:"generation"`
}

type ChunkingConfig struct {
	Size          int `yaml:"size"`
	Overlap       int `yaml:"overlap"`
	ExcerptLength int `yaml:"excerpt_length"`
}

type PineconeConfig struct {
	APIKey    string `yaml:"-"`
	IndexName string `yaml:"index_name"`
	IndexHost string `yaml:"index_host"`
	Namespace string `yaml:"namespace"`
	Dimension int    `yaml:"dimension"`
}

// GenerationConfig tunes the question generation pipeline.
type GenerationConfig struct {
	ChunkLimit       int           `yaml:"chunk_limit"`
	TokenBudget      int           `yaml:"token_budget"`
	TokensPerChar    float64       `yaml:"tokens_per_char"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	Workers          int           `yaml:"workers"`
	RatePerSecond    float64       `yaml:"rate_per_second"`
	RateBurst        int           `yaml:"rate_burst"`
	DefaultMCQ       int           `yaml:"default_mcq"`
	DefaultShort     int           `yaml:"default_short"`
	MaxQuestionCount int           `yaml:"max_question_count"`
}

func Default() *Config {
	return &Config{
		DatabaseURL:    "quiz_rag.db",
		HTTPPort:       "8080",
		LogLevel:       "INFO",
		LogMode:        "dev",
		UploadDir:      "./uploads",
		MaxFileSize:    10 << 20,
		ChatModel:      "gemini-1.5-flash-latest",
		EmbeddingModel: "text-embedding-004",
		Chunking: ChunkingConfig{
			Size:          800,
			Overlap:       200,
			ExcerptLength: 400,
		},
		Embedder:    "gemini",
		EmbedDim:    768,
		VectorIndex: "sqlite",
		Pinecone: PineconeConfig{
			Namespace: "quiz",
			Dimension: 768,
		},
		Generation: GenerationConfig{
			ChunkLimit:       5,
			TokenBudget:      1500,
			TokensPerChar:    0.25,
			MaxAttempts:      3,
			BaseDelay:        time.Second,
			Workers:          2,
			RatePerSecond:    1,
			RateBurst:        2,
			DefaultMCQ:       5,
			DefaultShort:     3,
			MaxQuestionCount: 50,
		},
	}
}

// Load reads .env (if any), then the optional YAML file named by CONFIG_FILE,
// then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine, env vars still apply

	cfg := Default()
	if err := loadFile(getEnv("CONFIG_FILE", "config.yaml"), cfg); err != nil {
		return nil, err
	}
	applyEnv(cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.GeminiAPIKey = getEnv("GEMINI_API_KEY", cfg.GeminiAPIKey)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogMode = getEnv("LOG_MODE", cfg.LogMode)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.UploadDir = getEnv("UPLOAD_DIR", cfg.UploadDir)
	cfg.MaxFileSize = int64(getEnvAsInt("MAX_FILE_SIZE", int(cfg.MaxFileSize)))
	cfg.ChatModel = getEnv("CHAT_MODEL", cfg.ChatModel)
	cfg.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.EmbeddingModel)

	cfg.Chunking.Size = getEnvAsInt("CHUNK_SIZE", cfg.Chunking.Size)
	cfg.Chunking.Overlap = getEnvAsInt("CHUNK_OVERLAP", cfg.Chunking.Overlap)
	cfg.Chunking.ExcerptLength = getEnvAsInt("EXCERPT_LENGTH", cfg.Chunking.ExcerptLength)

	cfg.Embedder = getEnv("EMBEDDER", cfg.Embedder)
	cfg.EmbedDim = getEnvAsInt("EMBEDDING_DIMENSION", cfg.EmbedDim)
	cfg.VectorIndex = getEnv("VECTOR_INDEX", cfg.VectorIndex)

	cfg.Pinecone.APIKey = getEnv("PINECONE_API_KEY", cfg.Pinecone.APIKey)
	cfg.Pinecone.IndexName = getEnv("PINECONE_INDEX_NAME", cfg.Pinecone.IndexName)
	cfg.Pinecone.IndexHost = getEnv("PINECONE_INDEX_HOST", cfg.Pinecone.IndexHost)
	cfg.Pinecone.Namespace = getEnv("PINECONE_NAMESPACE", cfg.Pinecone.Namespace)
	cfg.Pinecone.Dimension = getEnvAsInt("PINECONE_DIMENSION", cfg.Pinecone.Dimension)

	g := &cfg.Generation
	g.ChunkLimit = getEnvAsInt("GEN_CHUNK_LIMIT", g.ChunkLimit)
	g.TokenBudget = getEnvAsInt("GEN_TOKEN_BUDGET", g.TokenBudget)
	g.TokensPerChar = getEnvAsFloat("GEN_TOKENS_PER_CHAR", g.TokensPerChar)
	g.MaxAttempts = getEnvAsInt("GEN_MAX_ATTEMPTS", g.MaxAttempts)
	g.BaseDelay = getEnvAsDuration("GEN_BASE_DELAY", g.BaseDelay)
	g.Workers = getEnvAsInt("GEN_WORKERS", g.Workers)
	g.RatePerSecond = getEnvAsFloat("GEN_RATE_PER_SECOND", g.RatePerSecond)
	g.RateBurst = getEnvAsInt("GEN_RATE_BURST", g.RateBurst)
	g.DefaultMCQ = getEnvAsInt("DEFAULT_MCQ", g.DefaultMCQ)
	g.DefaultShort = getEnvAsInt("DEFAULT_SHORT", g.DefaultShort)
	g.MaxQuestionCount = getEnvAsInt("MAX_QUESTION_COUNT", g.MaxQuestionCount)
}

// Validate checks the settings required by the selected components.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is required"))
	}
	if c.GeminiAPIKey == "" && c.Embedder == "gemini" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.VectorIndex == "pinecone" {
		if c.Pinecone.APIKey == "" {
			errs = append(errs, errors.New("PINECONE_API_KEY is required when VECTOR_INDEX=pinecone"))
		}
		if c.Pinecone.IndexHost == "" && c.Pinecone.IndexName == "" {
			errs = append(errs, errors.New("PINECONE_INDEX_HOST or PINECONE_INDEX_NAME is required when VECTOR_INDEX=pinecone"))
		}
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("invalid chunking window: size=%d overlap=%d", c.Chunking.Size, c.Chunking.Overlap))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
