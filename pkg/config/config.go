package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Database
	DBDriver    string // "postgres" or "sqlite"
	DatabaseURL string
	SQLitePath  string

	// Operator API auth
	JWTSecret            string
	JWTAccessExpiry      time.Duration
	OperatorPasswordHash string // bcrypt hash

	// Google OAuth / Gmail
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	TokenEncryptionKey string

	// Pub/Sub
	GoogleProjectID          string
	GooglePubSubTopic        string
	GooglePubSubSubscription string
	GoogleCredentials        string
	PubSubPullEnabled        bool
	PushVerificationToken    string
	PushVerificationHeader   string

	// Classifier
	AIProvider        string
	GeminiApiKey      string
	OllamaBaseURL     string
	OllamaModel       string
	ClassifierTimeout time.Duration

	// Drafts and auto-send
	AutoCreateDrafts   bool
	AutoSendEnabled    bool
	AutoSendThreshold  float64
	AutoSendCategories []string

	// Sync
	HistoryLookback     time.Duration
	LookbackMaxMessages int
	ProviderTimeout     time.Duration
	ProviderMaxAttempts int
	SweepInterval       time.Duration

	FirebaseCredentials string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		Port:                     getEnv("PORT", "8080"),
		DBDriver:                 getEnv("DB_DRIVER", "postgres"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		SQLitePath:               getEnv("SQLITE_PATH", "mailsync.db"),
		JWTSecret:                getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTAccessExpiry:          getEnvDuration("JWT_ACCESS_EXPIRY", 12*time.Hour),
		OperatorPasswordHash:     getEnv("OPERATOR_PASSWORD_HASH", ""),
		GoogleClientID:           getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:       getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:        getEnv("GOOGLE_REDIRECT_URI", "http://localhost:8080/api/mailboxes/oauth/callback"),
		TokenEncryptionKey:       getEnv("TOKEN_ENCRYPTION_KEY", ""),
		GoogleProjectID:          getEnv("GOOGLE_PROJECT_ID", ""),
		GooglePubSubTopic:        getEnv("GOOGLE_PUBSUB_TOPIC", ""),
		GooglePubSubSubscription: getEnv("GOOGLE_PUBSUB_SUBSCRIPTION", ""),
		GoogleCredentials:        getEnv("GOOGLE_CREDENTIALS", ""),
		PubSubPullEnabled:        getEnvBool("PUBSUB_PULL_ENABLED", false),
		PushVerificationToken:    getEnv("PUSH_VERIFICATION_TOKEN", ""),
		PushVerificationHeader:   getEnv("PUSH_VERIFICATION_HEADER", "X-Push-Token"),
		AIProvider:               getEnv("AI_PROVIDER", "auto"),
		GeminiApiKey:             getEnv("GEMINI_API_KEY", ""),
		OllamaBaseURL:            getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:              getEnv("OLLAMA_MODEL", "llama3"),
		ClassifierTimeout:        getEnvDuration("CLASSIFIER_TIMEOUT", 30*time.Second),
		AutoCreateDrafts:         getEnvBool("AUTO_CREATE_DRAFTS", true),
		AutoSendEnabled:          getEnvBool("AUTO_SEND_ENABLED", false),
		AutoSendThreshold:        getEnvFloat("AUTO_SEND_THRESHOLD", 0.85),
		AutoSendCategories:       getEnvList("AUTO_SEND_CATEGORIES"),
		HistoryLookback:          getEnvDuration("HISTORY_LOOKBACK", 72*time.Hour),
		LookbackMaxMessages:      getEnvInt("LOOKBACK_MAX_MESSAGES", 100),
		ProviderTimeout:          getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderMaxAttempts:      getEnvInt("PROVIDER_MAX_ATTEMPTS", 3),
		SweepInterval:            getEnvDuration("SWEEP_INTERVAL", 1*time.Minute),
		FirebaseCredentials:      getEnv("FIREBASE_CREDENTIALS", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
