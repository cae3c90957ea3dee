package app

import (
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string
	// If true, tables are created at startup when missing.
	DBApplySchema bool

	RedisURL string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	ModelsFile string

	ChatRateLimit  int
	ChatRateWindow time.Duration
	TurnTimeout    time.Duration

	PersistWorkers  int
	PersistQueue    int
	PersistMaxTries int
}

// LoadConfig loads Config from environment variables with defaults.
// A .env file in the working directory is read first when present.
func LoadConfig() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:  EnvString("CHATGATE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("CHATGATE_LOG_LEVEL", "info"),
		LogFormat: EnvString("CHATGATE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("CHATGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHATGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHATGATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHATGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CHATGATE_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("CHATGATE_SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:   EnvString("CHATGATE_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("CHATGATE_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("CHATGATE_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("CHATGATE_DB_SCHEMA", "chatgate"),
		DBApplySchema: EnvBool("CHATGATE_DB_APPLY_SCHEMA", true),

		RedisURL: EnvString("CHATGATE_REDIS_URL", ""),

		ReadinessRequireDB: EnvBool("CHATGATE_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvList("CHATGATE_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("CHATGATE_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("CHATGATE_CORS_MAX_AGE_SECONDS", 600),

		ModelsFile: EnvString("CHATGATE_MODELS_FILE", ""),

		ChatRateLimit:  EnvInt("CHATGATE_CHAT_RATE_LIMIT", 30),
		ChatRateWindow: EnvDuration("CHATGATE_CHAT_RATE_WINDOW", 10*time.Minute),
		TurnTimeout:    EnvDuration("CHATGATE_TURN_TIMEOUT", 5*time.Minute),

		PersistWorkers:  EnvInt("CHATGATE_PERSIST_WORKERS", 4),
		PersistQueue:    EnvInt("CHATGATE_PERSIST_QUEUE", 256),
		PersistMaxTries: EnvInt("CHATGATE_PERSIST_MAX_TRIES", 5),
	}
}
