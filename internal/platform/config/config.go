package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 20 * time.Second

	defaultClientTimeout = 10 * time.Second

	defaultCouponSlugPrefix     = "coupon-"
	defaultMaxCouponCodes       = 10
	defaultCartMaxAttempts      = 3
	defaultOrderMaxAttempts     = 5
	defaultOrderRetryBaseDelay  = time.Second
	defaultHistoryCollection    = "couponHistory"
	defaultDeadLetterPrefix     = "dead-letter"
	defaultSecurityJWKSURL      = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSessionExpandEffects = true
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server          ServerConfig
	CartStore       CartStoreConfig
	PromotionEngine PromotionEngineConfig
	Coupons         CouponConfig
	Firestore       FirestoreConfig
	DeadLetter      DeadLetterConfig
	Security        SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CartStoreConfig points at the versioned cart and order store.
type CartStoreConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// PromotionEngineConfig points at the session-based promotion rules engine.
type PromotionEngineConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	ExpandEffects bool
}

// CouponConfig tunes reconciliation behaviour.
type CouponConfig struct {
	SlugPrefix          string
	MaxCouponCodes      int
	CartMaxAttempts     int
	OrderMaxAttempts    int
	OrderRetryBaseDelay time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID         string
	EmulatorHost      string
	HistoryCollection string
}

// DeadLetterConfig names the bucket and alert topic for failed writes.
type DeadLetterConfig struct {
	Bucket       string
	ObjectPrefix string
	AlertTopic   string
}

// SecurityConfig groups bearer token verification settings.
type SecurityConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		CartStore: CartStoreConfig{
			BaseURL: stringWithDefault(lookup, "API_CARTSTORE_BASE_URL", ""),
			APIKey:  stringWithDefault(lookup, "API_CARTSTORE_API_KEY", ""),
			Timeout: durationWithDefault(lookup, "API_CARTSTORE_TIMEOUT", defaultClientTimeout),
		},
		PromotionEngine: PromotionEngineConfig{
			BaseURL:       stringWithDefault(lookup, "API_PROMOENGINE_BASE_URL", ""),
			APIKey:        stringWithDefault(lookup, "API_PROMOENGINE_API_KEY", ""),
			Timeout:       durationWithDefault(lookup, "API_PROMOENGINE_TIMEOUT", defaultClientTimeout),
			ExpandEffects: boolWithDefault(lookup, "API_PROMOENGINE_EXPAND_EFFECTS", defaultSessionExpandEffects),
		},
		Coupons: CouponConfig{
			SlugPrefix:          stringWithDefault(lookup, "API_COUPON_SLUG_PREFIX", defaultCouponSlugPrefix),
			MaxCouponCodes:      intWithDefault(lookup, "API_COUPON_MAX_CODES", defaultMaxCouponCodes),
			CartMaxAttempts:     intWithDefault(lookup, "API_COUPON_CART_MAX_ATTEMPTS", defaultCartMaxAttempts),
			OrderMaxAttempts:    intWithDefault(lookup, "API_COUPON_ORDER_MAX_ATTEMPTS", defaultOrderMaxAttempts),
			OrderRetryBaseDelay: durationWithDefault(lookup, "API_COUPON_ORDER_RETRY_BASE_DELAY", defaultOrderRetryBaseDelay),
		},
		Firestore: FirestoreConfig{
			ProjectID:         stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:      stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
			HistoryCollection: stringWithDefault(lookup, "API_FIRESTORE_HISTORY_COLLECTION", defaultHistoryCollection),
		},
		DeadLetter: DeadLetterConfig{
			Bucket:       stringWithDefault(lookup, "API_DEADLETTER_BUCKET", ""),
			ObjectPrefix: stringWithDefault(lookup, "API_DEADLETTER_OBJECT_PREFIX", defaultDeadLetterPrefix),
			AlertTopic:   stringWithDefault(lookup, "API_DEADLETTER_ALERT_TOPIC", ""),
		},
		Security: SecurityConfig{
			JWKSURL:  stringWithDefault(lookup, "API_SECURITY_JWKS_URL", defaultSecurityJWKSURL),
			Audience: stringWithDefault(lookup, "API_SECURITY_AUDIENCE", ""),
			Issuers:  csvWithDefault(lookup, "API_SECURITY_ISSUERS"),
		},
	}

	if len(cfg.Security.Issuers) == 0 {
		cfg.Security.Issuers = []string{defaultSecurityIssuer}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.CartStore.BaseURL) == "" {
		missing = append(missing, "CartStore.BaseURL")
	}
	if strings.TrimSpace(cfg.PromotionEngine.BaseURL) == "" {
		missing = append(missing, "PromotionEngine.BaseURL")
	}
	if strings.TrimSpace(cfg.Coupons.SlugPrefix) == "" {
		missing = append(missing, "Coupons.SlugPrefix")
	}
	if cfg.Coupons.MaxCouponCodes <= 0 {
		missing = append(missing, "Coupons.MaxCouponCodes")
	}
	if cfg.Coupons.CartMaxAttempts < 0 {
		missing = append(missing, "Coupons.CartMaxAttempts")
	}
	if cfg.Coupons.OrderMaxAttempts < 0 {
		missing = append(missing, "Coupons.OrderMaxAttempts")
	}
	if cfg.Coupons.OrderRetryBaseDelay <= 0 {
		missing = append(missing, "Coupons.OrderRetryBaseDelay")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if strings.TrimSpace(cfg.Firestore.HistoryCollection) == "" {
		missing = append(missing, "Firestore.HistoryCollection")
	}
	if cfg.DeadLetter.Bucket == "" {
		missing = append(missing, "DeadLetter.Bucket")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
