package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	JWTSecret string
	RedisAddr string
	Port      string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisPassword string

	// Persistence Mirror (spec §6 "Configuration")
	RedisPrefix        string
	RedisGameTTL       int // seconds
	RedisTournamentTTL int // seconds
	RedisLeaderboardTTL int // seconds

	// Auth0 (existing, not validated here)
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string
	CORSOrigin      string

	// Rate Limits
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string

	// Per-operation rate weights (spec §6)
	RateWeightSubmitWord int
	RateWeightChat       int

	// Round Coordinator / Dispatcher scheduling (spec §6)
	LeaderboardThrottleMs       int
	TimeUpdateIntervalMs        int
	EventLoopMonitorIntervalMs  int
	StartBarrierDeadlineMs      int
	ValidationWindowMs          int
	AICallBudgetMs              int
	HostGracePeriodMs           int
	PlayerGracePeriodMs         int
	PresenceSampleIntervalMs    int
	PresenceMissedThreshold     int
	BoardValidatorWorkers       int
	BoardValidatorQueueDepth    int

	// Room Store sweeper thresholds (spec §4.3).
	RoomIdleThresholdMs  int
	RoomStaleThresholdMs int
	RoomSweepIntervalMs  int

	// External collaborators (spec §6 "Collaborator contracts"); empty base
	// URL means the collaborator is unconfigured and calls degrade to a
	// no-op/unavailable sentinel.
	AIOracleURL          string
	CommunityVoteURL     string
	AnalyticsSinkURL     string
	TournamentNotifierURL string
	CollaboratorTimeoutMs int
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Existing variables (not validated here, kept for compatibility)
	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// CORS_ORIGIN: comma-separated allowed origins, "*" rejected when GO_ENV is production.
	cfg.CORSOrigin = getEnvOrDefault("CORS_ORIGIN", "")
	if cfg.CORSOrigin == "*" && cfg.GoEnv == "production" {
		errors = append(errors, "CORS_ORIGIN must not be '*' in production")
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.RateWeightSubmitWord = getEnvIntOrDefault("RATE_WEIGHT_SUBMITWORD", 2)
	cfg.RateWeightChat = getEnvIntOrDefault("RATE_WEIGHT_CHAT", 1)

	// Persistence Mirror keyspace and TTLs (spec §6).
	cfg.RedisPrefix = getEnvOrDefault("REDIS_PREFIX", "lexiclash")
	cfg.RedisGameTTL = getEnvIntOrDefault("REDIS_GAME_TTL", 3600)
	cfg.RedisTournamentTTL = getEnvIntOrDefault("REDIS_TOURNAMENT_TTL", 86400)
	cfg.RedisLeaderboardTTL = getEnvIntOrDefault("REDIS_LEADERBOARD_TTL", 86400)

	// Round Coordinator / Dispatcher / Reconnection Controller scheduling.
	cfg.LeaderboardThrottleMs = getEnvIntOrDefault("LEADERBOARD_THROTTLE_MS", 500)
	cfg.TimeUpdateIntervalMs = getEnvIntOrDefault("TIME_UPDATE_INTERVAL_MS", 1000)
	cfg.EventLoopMonitorIntervalMs = getEnvIntOrDefault("EVENT_LOOP_MONITOR_INTERVAL_MS", 5000)
	cfg.StartBarrierDeadlineMs = getEnvIntOrDefault("START_BARRIER_DEADLINE_MS", 5000)
	cfg.ValidationWindowMs = getEnvIntOrDefault("VALIDATION_WINDOW_MS", 30000)
	cfg.AICallBudgetMs = getEnvIntOrDefault("AI_CALL_BUDGET_MS", 8000)
	cfg.HostGracePeriodMs = getEnvIntOrDefault("HOST_GRACE_PERIOD_MS", 30000)
	cfg.PlayerGracePeriodMs = getEnvIntOrDefault("PLAYER_GRACE_PERIOD_MS", 15000)
	cfg.PresenceSampleIntervalMs = getEnvIntOrDefault("PRESENCE_SAMPLE_INTERVAL_MS", 5000)
	cfg.PresenceMissedThreshold = getEnvIntOrDefault("PRESENCE_MISSED_THRESHOLD", 3)
	cfg.BoardValidatorWorkers = getEnvIntOrDefault("BOARD_VALIDATOR_WORKERS", 4)
	cfg.BoardValidatorQueueDepth = getEnvIntOrDefault("BOARD_VALIDATOR_QUEUE_DEPTH", 256)

	cfg.RoomIdleThresholdMs = getEnvIntOrDefault("ROOM_IDLE_THRESHOLD_MS", 10*60*1000)
	cfg.RoomStaleThresholdMs = getEnvIntOrDefault("ROOM_STALE_THRESHOLD_MS", 6*60*60*1000)
	cfg.RoomSweepIntervalMs = getEnvIntOrDefault("ROOM_SWEEP_INTERVAL_MS", 60*1000)

	// External collaborators (spec §6); empty URL means unconfigured.
	cfg.AIOracleURL = os.Getenv("AI_ORACLE_URL")
	cfg.CommunityVoteURL = os.Getenv("COMMUNITY_VOTE_URL")
	cfg.AnalyticsSinkURL = os.Getenv("ANALYTICS_SINK_URL")
	cfg.TournamentNotifierURL = os.Getenv("TOURNAMENT_NOTIFIER_URL")
	cfg.CollaboratorTimeoutMs = getEnvIntOrDefault("COLLABORATOR_TIMEOUT_MS", 3000)

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"redis_prefix", cfg.RedisPrefix,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"rate_limit_api_global", cfg.RateLimitAPIGlobal,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault parses an integer environment variable, falling back to
// defaultValue if unset or unparsable.
func getEnvIntOrDefault(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer env var, using default", "key", key, "value", value, "default", defaultValue)
		return defaultValue
	}
	return n
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
