package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	ProjectDir     string `json:"project_dir"`
	ResultsDir     string `json:"results_dir"`
	DataDir        string `json:"data_dir"`
	DataCacheDir   string `json:"data_cache_dir"`
	DBPath         string `json:"db_path"`
	DocumentDBPath string `json:"document_db_path"`
	SectorsFile    string `json:"sectors_file"`

	// Language model
	LLMProvider       string `json:"llm_provider" default:"ollama" validate:"oneof=ollama openai deepseek"`
	LLMModel          string `json:"llm_model" default:"llama3" validate:"required"`
	OllamaURL         string `json:"ollama_url" default:"http://localhost:11434" validate:"omitempty,url"`
	BackendURL        string `json:"backend_url" validate:"omitempty,url"`
	LLMAPIKey         string `json:"llm_api_key,omitempty"`
	DeepSeekAPIKey    string `json:"deepseek_api_key,omitempty" validate:"required_if=LLMProvider deepseek"`
	LLMTimeoutSeconds int    `json:"llm_timeout_seconds" default:"60" validate:"min=1,max=600"`
	MaxTokens         int    `json:"max_tokens" default:"2000" validate:"min=64"`

	// News search and scraping
	SearxNGURL            string `json:"searxng_url" default:"http://localhost:8080" validate:"omitempty,url"`
	HeadlessBrowser       bool   `json:"headless_browser"`
	ProxyURL              string `json:"proxy_url,omitempty" validate:"omitempty,url"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" default:"30" validate:"min=1,max=300"`

	// Vector store
	ChromaURL      string `json:"chroma_url,omitempty" validate:"omitempty,url"`
	EmbeddingURL   string `json:"embedding_url,omitempty" validate:"omitempty,url"`
	EmbeddingModel string `json:"embedding_model" default:"nomic-embed-text"`

	// Research loop
	ResearchRounds    int `json:"research_rounds" default:"2" validate:"min=1,max=10"`
	QuestionsPerRound int `json:"questions_per_round" default:"3" validate:"min=1,max=3"`
	ContextLimit      int `json:"context_limit" default:"8000" validate:"min=500"`
	Workers           int `json:"workers" default:"1" validate:"min=1,max=16"`

	// Paper trading
	InitialBalance float64 `json:"initial_balance" default:"1000000" validate:"gt=0"`
	MaxPositions   int     `json:"max_positions" default:"10" validate:"min=1"`
	RiskPercentage float64 `json:"risk_percentage" default:"2" validate:"gt=0,lte=100"`

	Debug          bool   `json:"debug"`
	LogLevel       string `json:"log_level" default:"info" validate:"oneof=debug info warn error"`
	LogFormat      string `json:"log_format" default:"console" validate:"oneof=console json"`
	TraceFile      string `json:"trace_file,omitempty"`
	MetricsEnabled bool   `json:"metrics_enabled" default:"true"`
	CacheEnabled   bool   `json:"cache_enabled" default:"true"`
}

var validate = validator.New()

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	// Override with environment variables if they exist
	cfg.loadFromEnv()

	return cfg
}

// DefaultConfigWithRoot returns the built-in defaults with every directory under root.
func DefaultConfigWithRoot(root string) *Config {
	cfg := &Config{}
	_ = defaults.Set(cfg)
	cfg.fillPaths(root)
	return cfg
}

// WithEnv returns a copy of c with .env and process environment overrides applied.
// The copy is never written back to the config file.
func (c Config) WithEnv() Config {
	_ = godotenv.Load()
	c.loadFromEnv()
	return c
}

func (c *Config) fillPaths(root string) {
	if c.ProjectDir == "" {
		c.ProjectDir = root
	}
	if c.ResultsDir == "" {
		c.ResultsDir = filepath.Join(c.ProjectDir, "results")
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.ProjectDir, "data")
	}
	if c.DataCacheDir == "" {
		c.DataCacheDir = filepath.Join(c.DataDir, "cache")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "trading.db")
	}
	if c.DocumentDBPath == "" {
		c.DocumentDBPath = filepath.Join(c.DataDir, "documents.db")
	}
	if c.SectorsFile == "" {
		c.SectorsFile = filepath.Join(c.ProjectDir, "sectors.yaml")
	}
}

func (c *Config) loadFromEnv() {
	envString := map[string]*string{
		"PROJECT_DIR":      &c.ProjectDir,
		"RESULTS_DIR":      &c.ResultsDir,
		"DATA_DIR":         &c.DataDir,
		"DATA_CACHE_DIR":   &c.DataCacheDir,
		"DB_PATH":          &c.DBPath,
		"LLM_PROVIDER":     &c.LLMProvider,
		"OLLAMA_URL":       &c.OllamaURL,
		"LLM_MODEL":        &c.LLMModel,
		"BACKEND_URL":      &c.BackendURL,
		"LLM_API_KEY":      &c.LLMAPIKey,
		"DEEPSEEK_API_KEY": &c.DeepSeekAPIKey,
		"SEARXNG_URL":      &c.SearxNGURL,
		"PROXY_URL":        &c.ProxyURL,
		"CHROMA_URL":       &c.ChromaURL,
		"EMBEDDING_URL":    &c.EmbeddingURL,
		"EMBEDDING_MODEL":  &c.EmbeddingModel,
		"LOG_LEVEL":        &c.LogLevel,
		"LOG_FORMAT":       &c.LogFormat,
		"TRACE_FILE":       &c.TraceFile,
	}
	for key, dst := range envString {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	if val := os.Getenv("OLLAMA_MODEL"); val != "" && os.Getenv("LLM_MODEL") == "" {
		c.LLMModel = val
	}

	envInt := map[string]*int{
		"RESEARCH_ROUNDS":     &c.ResearchRounds,
		"QUESTIONS_PER_ROUND": &c.QuestionsPerRound,
		"CONTEXT_LIMIT":       &c.ContextLimit,
		"WORKERS":             &c.Workers,
		"MAX_POSITIONS":       &c.MaxPositions,
		"LLM_TIMEOUT_SECONDS": &c.LLMTimeoutSeconds,
	}
	for key, dst := range envInt {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}

	envBool := map[string]*bool{
		"STOCKBOT_DEBUG":   &c.Debug,
		"HEADLESS_BROWSER": &c.HeadlessBrowser,
		"CACHE_ENABLED":    &c.CacheEnabled,
		"METRICS_ENABLED":  &c.MetricsEnabled,
	}
	for key, dst := range envBool {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}

	if val := os.Getenv("INITIAL_BALANCE"); val != "" {
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			c.InitialBalance = v
		}
	}
	if c.Debug {
		c.LogLevel = "debug"
	}
}

// Validate checks ranges and enums declared in the struct tags.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, fe.Tag())
	}
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir, c.DataCacheDir, filepath.Dir(c.DBPath), filepath.Dir(c.DocumentDBPath)}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// loadConfigFromFile reads path over the built-in defaults, so keys missing
// from older files keep their default value.
func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	loaded := Config{}
	if err := defaults.Set(&loaded); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	loaded.fillPaths(filepath.Dir(path))
	*cfg = loaded
	return nil
}
