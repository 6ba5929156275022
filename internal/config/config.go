package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AuthMode string

const (
	AuthModeNone  AuthMode = "none"  // Login and permission checks disabled
	AuthModeLocal AuthMode = "local" // Local user table, bearer tokens and sessions
)

type (
	Config struct {
		HTTP
		Global
		Database
		Logger
		Response
		Auth
		Tasks
		Cache
		SSH
		Seed
		Proxy
	}

	HTTP struct {
		Port int32
		Host string
		// Proxies whose X-Forwarded-For / X-Real-IP headers are honored.
		// Empty trusts none.
		TrustedProxies []string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		URI         string
		Echo        bool
		PoolRecycle time.Duration // Zero keeps connections forever
		Debug       bool          // Record per-request query timings
		SlowTime    float64       // Milliseconds, <=0 disables slow query warnings
		AccessTimes int           // Queries per request before warning, <=0 disables
	}
	Logger struct {
		Level             string
		Format            string // "console" or "json"
		Filename          string // Empty logs to stderr
		Filepath          string
		MaxAgeDays        int
		BackupCount       int
		Disabled          bool
		AccessLogDisabled bool
	}
	Response struct {
		SuccessStatus string
		FailStatus    string
		StatusMapping bool // Map failure codes to HTTP statuses instead of always 200
	}
	Auth struct {
		Mode            AuthMode
		SecretKey       string
		TokenExpiresIn  time.Duration
		TokenAlgorithm  string
		SessionLifetime time.Duration
		BcryptCost      int
		SecureCookies   bool // Set to false for local dev without HTTPS

		// Rate limiting configuration
		MaxLoginAttempts int           // Attempts allowed per window (default: 5)
		RateLimitWindow  time.Duration // Time window for counting attempts (default: 15m)
	}
	Tasks struct {
		Enabled            bool
		DatabasePath       string
		Workers            int
		ReleaseAfter       time.Duration
		CleanupInterval    time.Duration
		LogRetentionDays   int
		LogCleanupSchedule string // Cron format: "0 3 * * *" = daily at 03:00
	}
	Cache struct {
		DefaultExpiry time.Duration
	}
	SSH struct {
		Timeout   time.Duration
		SecretKey string // Base64 AES-256 key for "enc:" prefixed passwords
	}
	Seed struct {
		File string
	}
	Proxy struct {
		Routes []string // Space separated "name=http://host/base" pairs, served under /proxy/<name>
	}
)

// NewConfig loads configuration from environment variables and, when
// CONFIG_FILE is set, from that file first.
func NewConfig() *Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("port", 8188)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("shutdown_timeout_in_seconds", 2)

	// Database defaults
	v.SetDefault("database_uri", DefaultDatabaseURI)
	v.SetDefault("database_echo", false)
	v.SetDefault("database_pool_recycle", "0s")
	v.SetDefault("database_debug", false)
	v.SetDefault("database_debug_slow_time", 0)   // ms
	v.SetDefault("database_debug_access_times", 0) // queries per request

	// Logger defaults
	v.SetDefault("logger_level", "info")
	v.SetDefault("logger_format", "console")
	v.SetDefault("logger_filename", "")
	v.SetDefault("logger_filepath", "./syslog")
	v.SetDefault("logger_max_age_days", 7)
	v.SetDefault("logger_backup_count", 3)
	v.SetDefault("logger_disabled", false)
	v.SetDefault("access_log_disabled", false)

	// Response envelope defaults
	v.SetDefault("res_success_status", "success")
	v.SetDefault("res_fail_status", "fail")
	v.SetDefault("res_status_mapping", true)

	// Auth defaults
	v.SetDefault("auth_mode", "local")
	v.SetDefault("auth_secret_key", "")          // Auto-generated if empty
	v.SetDefault("auth_token_expires_in", "1h")  // Token lifetime
	v.SetDefault("auth_token_algorithm", "HS512") // HS256, HS384 or HS512
	v.SetDefault("auth_session_lifetime", "24h") // 24 hours
	v.SetDefault("auth_bcrypt_cost", 12)         // bcrypt cost factor
	v.SetDefault("auth_secure_cookies", true)    // HTTPS-only cookies
	v.SetDefault("auth_max_login_attempts", 5)   // Attempts per window
	v.SetDefault("auth_rate_limit_window", "15m")

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("tasks_database_path", DefaultTasksDatabasePath)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")
	v.SetDefault("action_log_retention_days", 90)
	v.SetDefault("action_log_cleanup_schedule", "0 3 * * *")

	v.SetDefault("cache_default_expiry", "0s")
	v.SetDefault("ssh_timeout", "20s")
	v.SetDefault("ssh_secret_key", "")
	v.SetDefault("seed_file", "")
	v.SetDefault("proxy_routes", []string{})

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		// A broken config file should not prevent startup with env defaults.
		_ = v.ReadInConfig()
	}

	return &Config{
		HTTP: HTTP{
			Port:           v.GetInt32("PORT"),
			Host:           v.GetString("HOST"),
			TrustedProxies: v.GetStringSlice("TRUSTED_PROXIES"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			URI:         v.GetString("DATABASE_URI"),
			Echo:        v.GetBool("DATABASE_ECHO"),
			PoolRecycle: v.GetDuration("DATABASE_POOL_RECYCLE"),
			Debug:       v.GetBool("DATABASE_DEBUG"),
			SlowTime:    v.GetFloat64("DATABASE_DEBUG_SLOW_TIME"),
			AccessTimes: v.GetInt("DATABASE_DEBUG_ACCESS_TIMES"),
		},
		Logger: Logger{
			Level:             v.GetString("LOGGER_LEVEL"),
			Format:            v.GetString("LOGGER_FORMAT"),
			Filename:          v.GetString("LOGGER_FILENAME"),
			Filepath:          v.GetString("LOGGER_FILEPATH"),
			MaxAgeDays:        v.GetInt("LOGGER_MAX_AGE_DAYS"),
			BackupCount:       v.GetInt("LOGGER_BACKUP_COUNT"),
			Disabled:          v.GetBool("LOGGER_DISABLED"),
			AccessLogDisabled: v.GetBool("ACCESS_LOG_DISABLED"),
		},
		Response: Response{
			SuccessStatus: v.GetString("RES_SUCCESS_STATUS"),
			FailStatus:    v.GetString("RES_FAIL_STATUS"),
			StatusMapping: v.GetBool("RES_STATUS_MAPPING"),
		},
		Auth: Auth{
			Mode:             AuthMode(v.GetString("AUTH_MODE")),
			SecretKey:        v.GetString("AUTH_SECRET_KEY"),
			TokenExpiresIn:   v.GetDuration("AUTH_TOKEN_EXPIRES_IN"),
			TokenAlgorithm:   v.GetString("AUTH_TOKEN_ALGORITHM"),
			SessionLifetime:  v.GetDuration("AUTH_SESSION_LIFETIME"),
			BcryptCost:       v.GetInt("AUTH_BCRYPT_COST"),
			SecureCookies:    v.GetBool("AUTH_SECURE_COOKIES"),
			MaxLoginAttempts: v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
			RateLimitWindow:  v.GetDuration("AUTH_RATE_LIMIT_WINDOW"),
		},
		Tasks: Tasks{
			Enabled:            v.GetBool("TASKS_ENABLED"),
			DatabasePath:       v.GetString("TASKS_DATABASE_PATH"),
			Workers:            v.GetInt("TASK_WORKERS"),
			ReleaseAfter:       v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval:    v.GetDuration("TASK_CLEANUP_INTERVAL"),
			LogRetentionDays:   v.GetInt("ACTION_LOG_RETENTION_DAYS"),
			LogCleanupSchedule: v.GetString("ACTION_LOG_CLEANUP_SCHEDULE"),
		},
		Cache: Cache{
			DefaultExpiry: v.GetDuration("CACHE_DEFAULT_EXPIRY"),
		},
		SSH: SSH{
			Timeout:   v.GetDuration("SSH_TIMEOUT"),
			SecretKey: v.GetString("SSH_SECRET_KEY"),
		},
		Seed: Seed{
			File: v.GetString("SEED_FILE"),
		},
		Proxy: Proxy{
			Routes: v.GetStringSlice("PROXY_ROUTES"),
		},
	}
}
