package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ストアの種類。
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
	SessionStoreRedis   = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数（および任意の設定ファイル）から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL      string
	DBConnectTimeout time.Duration
	StoreDriver      string

	// Session store
	SessionStore string
	RedisURL     string

	// OAuth
	OAuthProviderName  string
	OIDCIssuerURL      string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	ProviderTimeout    time.Duration

	// Session
	SessionSecret          string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Rate Limit
	RateLimitGeneral      int
	RateLimitPromptCreate int

	// Prompt
	PromptMaxLength int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	ClientURL  string
	FailureURL string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// defaults は任意項目の既定値。キーは環境変数名を小文字にしたもの。
var defaults = map[string]any{
	"db_connect_timeout":       30 * time.Second,
	"store_driver":             StoreDriverPostgres,
	"oauth_provider_name":      "google",
	"oidc_issuer_url":          "https://accounts.google.com",
	"provider_timeout":         10 * time.Second,
	"session_max_age":          604800,
	"session_cleanup_interval": time.Hour,
	"rate_limit_general":       120,
	"rate_limit_prompt_create": 30,
	"prompt_max_length":        10000,
	"log_level":                "info",
	"server_port":              "3000",
	"cors_allowed_origin":      "http://localhost:5173",
}

// envKeys はAutomaticEnvに加えて明示的に環境変数と結び付けるキー。
// Unmarshalを使わずGet系で読むため、既定値のないキーもここで登録する。
var envKeys = []string{
	"config_file",
	"database_url",
	"session_store",
	"redis_url",
	"google_client_id",
	"google_client_secret",
	"google_redirect_url",
	"session_secret",
	"client_url",
	"failure_url",
	"cookie_domain",
}

// Load は環境変数からConfigを読み込む。
// CONFIG_FILEが指定された場合はそのファイル（YAML/TOML/JSON）を読み込み、環境変数で上書きする。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", strings.ToUpper(key), err)
		}
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		DatabaseURL:            v.GetString("database_url"),
		DBConnectTimeout:       positiveDuration(v, "db_connect_timeout"),
		StoreDriver:            strings.ToLower(v.GetString("store_driver")),
		SessionStore:           strings.ToLower(v.GetString("session_store")),
		RedisURL:               v.GetString("redis_url"),
		OAuthProviderName:      v.GetString("oauth_provider_name"),
		OIDCIssuerURL:          v.GetString("oidc_issuer_url"),
		GoogleClientID:         v.GetString("google_client_id"),
		GoogleClientSecret:     v.GetString("google_client_secret"),
		GoogleRedirectURL:      v.GetString("google_redirect_url"),
		ProviderTimeout:        positiveDuration(v, "provider_timeout"),
		SessionSecret:          v.GetString("session_secret"),
		SessionMaxAge:          positiveInt(v, "session_max_age"),
		SessionCleanupInterval: positiveDuration(v, "session_cleanup_interval"),
		RateLimitGeneral:       rateLimit(v, "rate_limit_general"),
		RateLimitPromptCreate:  rateLimit(v, "rate_limit_prompt_create"),
		PromptMaxLength:        positiveInt(v, "prompt_max_length"),
		LogLevel:               v.GetString("log_level"),
		ServerPort:             v.GetString("server_port"),
		ClientURL:              v.GetString("client_url"),
		FailureURL:             v.GetString("failure_url"),
		CookieDomain:           v.GetString("cookie_domain"),
		CORSAllowedOrigin:      v.GetString("cors_allowed_origin"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.SessionStore == "" {
		cfg.SessionStore = cfg.StoreDriver
	}
	if cfg.FailureURL == "" {
		cfg.FailureURL = strings.TrimSuffix(cfg.ClientURL, "/") + "/login"
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.ClientURL, "https://")

	return cfg, nil
}

// validate は必須項目と列挙値を検証する。
func (c *Config) validate() error {
	var missing []string

	if c.DatabaseURL == "" && c.StoreDriver != StoreDriverMemory {
		missing = append(missing, "DATABASE_URL")
	}
	if c.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if c.GoogleClientSecret == "" {
		missing = append(missing, "GOOGLE_CLIENT_SECRET")
	}
	if c.GoogleRedirectURL == "" {
		missing = append(missing, "GOOGLE_REDIRECT_URL")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.ClientURL == "" {
		missing = append(missing, "CLIENT_URL")
	}
	if c.SessionStore == SessionStoreRedis && c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.SessionStore {
	case "", StoreDriverMemory, SessionStoreRedis:
	case StoreDriverPostgres:
		if c.StoreDriver != StoreDriverPostgres {
			return fmt.Errorf("SESSION_STORE=postgres requires STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported SESSION_STORE %q", c.SessionStore)
	}

	return nil
}

// positiveInt は値が不正または0以下の場合に既定値を返す。
func positiveInt(v *viper.Viper, key string) int {
	if n := v.GetInt(key); n > 0 {
		return n
	}
	return defaults[key].(int)
}

// positiveDuration は値が不正または0以下の場合に既定値を返す。
// "10s"や"15m"のような単位付きの値のほか、単位のない数値は秒として扱う。
func positiveDuration(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		return defaults[key].(time.Duration)
	}
	if d := v.GetDuration(key); d > 0 {
		return d
	}
	return defaults[key].(time.Duration)
}

// rateLimit は1分あたりのリクエスト上限を返す。0は無制限を表す。
// 負数や整数でない値は既定値にする。
func rateLimit(v *viper.Viper, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || n < 0 {
		return defaults[key].(int)
	}
	return n
}
