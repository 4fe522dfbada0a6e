package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	JWTSecret    string

	CORSAllowedOrigins []string

	// Citation content service
	SearchEndpoint       string
	SearchAPIKey         string
	CitationFetchTimeout time.Duration

	HistoryPageSize int
	FeedbackEnabled bool
	SanitizeAnswer  bool
	MarkerGrammar   string

	// answerctl
	AnswerServiceURL string
	AnswerToken      string
}

var AppConfig Config

// LoadConfig reads the environment (and a .env file when present) into AppConfig.
func LoadConfig() (Config, error) {
	// A missing .env file is normal; the environment alone is enough.
	_ = godotenv.Load()

	AppConfig = Config{
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:          getEnv("DATABASE_URL", "cited_answers.db"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins:   getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),
		SearchEndpoint:       getEnv("SEARCH_ENDPOINT", ""),
		SearchAPIKey:         getEnv("SEARCH_API_KEY", ""),
		CitationFetchTimeout: getEnvAsDuration("CITATION_FETCH_TIMEOUT", 10*time.Second),
		HistoryPageSize:      getEnvAsInt("HISTORY_PAGE_SIZE", 25),
		FeedbackEnabled:      getEnvAsBool("FEEDBACK_ENABLED", true),
		SanitizeAnswer:       getEnvAsBool("SANITIZE_ANSWER", true),
		MarkerGrammar:        getEnv("CITATION_MARKER_GRAMMAR", "doc"),
		AnswerServiceURL:     getEnv("ANSWER_SERVICE_URL", "http://localhost:8080"),
		AnswerToken:          getEnv("ANSWER_TOKEN", ""),
	}

	if AppConfig.HistoryPageSize <= 0 {
		return AppConfig, fmt.Errorf("HISTORY_PAGE_SIZE must be positive, got %d", AppConfig.HistoryPageSize)
	}
	return AppConfig, nil
}

// ValidateServer checks the settings the HTTP server cannot run without.
func (c Config) ValidateServer() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return nil
}

// NewLogger builds a production zap logger at the configured level.
func NewLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
