package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStoreDriver          = StoreDriverFirestore
	defaultRedisLockTTL         = 30 * time.Second
	defaultRedisLockWait        = 5 * time.Second
	defaultRedisKeyPrefix       = "mediashop"
	defaultRedisCacheTTL        = 10 * time.Minute
	defaultOrderEventsTopic     = "order-events"
	defaultVNPayVersion         = "2.1.0"
	defaultVNPayLocale          = "vn"
	defaultVNPayPaymentTTL      = 15 * time.Minute
	defaultVNPayTimeout         = 10 * time.Second
	defaultLookupAttempts       = 3
	defaultLookupBackoff        = 200 * time.Millisecond
	defaultSweepGrace           = 15 * time.Minute
	defaultSweepMinAge          = 10 * time.Minute
	defaultSweepLimit           = 100
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultQuoteRateLimit       = 30
	defaultQuoteRateWindow      = time.Minute
)

// Store drivers accepted by API_STORE_DRIVER.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server         ServerConfig
	Firebase       FirebaseConfig
	Firestore      FirestoreConfig
	Store          StoreConfig
	Redis          RedisConfig
	PubSub         PubSubConfig
	Storage        StorageConfig
	VNPay          VNPayConfig
	Stripe         StripeConfig
	Pricing        PricingConfig
	Reconciliation ReconciliationConfig
	Security       SecurityConfig
	Idempotency    IdempotencyConfig
	RateLimit      RateLimitConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	DatabaseID   string
	EmulatorHost string
}

// StoreConfig selects the repository backend. The memory driver is for local runs and tests.
type StoreConfig struct {
	Driver string
}

// RedisConfig configures the distributed order lock and the product cache. An empty Addr
// keeps both in process.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	LockTTL   time.Duration
	LockWait  time.Duration
	CacheTTL  time.Duration
}

// PubSubConfig configures order event publishing. An empty ProjectID disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EmulatorHost     string
}

// StorageConfig names the bucket receiving raw gateway callbacks. Empty disables archival.
type StorageConfig struct {
	CallbackArchiveBucket string
}

// VNPayConfig holds merchant credentials and endpoints for the VNPay gateway.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	APIURL     string
	ReturnURL  string
	Version    string
	Locale     string
	ServerIP   string
	PaymentTTL time.Duration
	Timeout    time.Duration
}

// StripeConfig enables card payments in non-VND currencies when APIKey is set.
type StripeConfig struct {
	APIKey    string
	AccountID string
}

// PricingConfig overrides the production fee schedule. Amounts are in minor units.
type PricingConfig struct {
	VATRate                int64
	MajorProvinces         []string
	MajorBaseFee           int64
	OtherBaseFee           int64
	MajorWeightThresholdKg float64
	OtherWeightThresholdKg float64
	HalfKgIncrement        int64
	RushSurcharge          int64
	FreeShippingThreshold  int64
	FreeShippingDiscount   int64
}

// ReconciliationConfig tunes callback lookup retries and the pending payment sweep.
type ReconciliationConfig struct {
	LookupAttempts int
	LookupBackoff  time.Duration
	SweepGrace     time.Duration
	SweepMinAge    time.Duration
	SweepLimit     int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL       string
	Audience      string
	Audiences     map[string]string
	Issuers       []string
	AllowedEmails []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// RateLimitConfig throttles anonymous delivery quotes per client IP. A zero limit disables it.
type RateLimitConfig struct {
	QuoteLimit  int
	QuoteWindow time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
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

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Snapshot captures the resolved environment values used during loading so callers can construct
// dependent components (e.g., secret fetcher) with the same inputs.
type Snapshot struct {
	EnvFile         string
	Values          map[string]string
	ResolvedSecrets map[string]string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
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

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "VNPay.HashSecret" or "Stripe.APIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
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

	pricing := defaultPricing()
	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			DatabaseID:   stringWithDefault(lookup, "API_FIRESTORE_DATABASE_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", defaultStoreDriver)),
		},
		Redis: RedisConfig{
			Addr:      stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password:  stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:        intWithDefault(lookup, "API_REDIS_DB", 0),
			KeyPrefix: stringWithDefault(lookup, "API_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
			LockTTL:   durationWithDefault(lookup, "API_REDIS_LOCK_TTL", defaultRedisLockTTL),
			LockWait:  durationWithDefault(lookup, "API_REDIS_LOCK_WAIT", defaultRedisLockWait),
			CacheTTL:  durationWithDefault(lookup, "API_REDIS_CACHE_TTL", defaultRedisCacheTTL),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			EmulatorHost:     stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			CallbackArchiveBucket: stringWithDefault(lookup, "API_STORAGE_CALLBACK_ARCHIVE_BUCKET", ""),
		},
		VNPay: VNPayConfig{
			TmnCode:    stringWithDefault(lookup, "API_VNPAY_TMN_CODE", ""),
			HashSecret: stringWithDefault(lookup, "API_VNPAY_HASH_SECRET", ""),
			PayURL:     stringWithDefault(lookup, "API_VNPAY_PAY_URL", ""),
			APIURL:     stringWithDefault(lookup, "API_VNPAY_API_URL", ""),
			ReturnURL:  stringWithDefault(lookup, "API_VNPAY_RETURN_URL", ""),
			Version:    stringWithDefault(lookup, "API_VNPAY_VERSION", defaultVNPayVersion),
			Locale:     stringWithDefault(lookup, "API_VNPAY_LOCALE", defaultVNPayLocale),
			ServerIP:   stringWithDefault(lookup, "API_VNPAY_SERVER_IP", ""),
			PaymentTTL: durationWithDefault(lookup, "API_VNPAY_PAYMENT_TTL", defaultVNPayPaymentTTL),
			Timeout:    durationWithDefault(lookup, "API_VNPAY_TIMEOUT", defaultVNPayTimeout),
		},
		Stripe: StripeConfig{
			APIKey:    stringWithDefault(lookup, "API_STRIPE_API_KEY", ""),
			AccountID: stringWithDefault(lookup, "API_STRIPE_ACCOUNT_ID", ""),
		},
		Pricing: PricingConfig{
			VATRate:                int64WithDefault(lookup, "API_PRICING_VAT_RATE", pricing.VATRate),
			MajorProvinces:         csvOrDefault(lookup, "API_PRICING_MAJOR_PROVINCES", pricing.MajorProvinces),
			MajorBaseFee:           int64WithDefault(lookup, "API_PRICING_MAJOR_BASE_FEE", pricing.MajorBaseFee),
			OtherBaseFee:           int64WithDefault(lookup, "API_PRICING_OTHER_BASE_FEE", pricing.OtherBaseFee),
			MajorWeightThresholdKg: floatWithDefault(lookup, "API_PRICING_MAJOR_WEIGHT_THRESHOLD_KG", pricing.MajorWeightThresholdKg),
			OtherWeightThresholdKg: floatWithDefault(lookup, "API_PRICING_OTHER_WEIGHT_THRESHOLD_KG", pricing.OtherWeightThresholdKg),
			HalfKgIncrement:        int64WithDefault(lookup, "API_PRICING_HALF_KG_INCREMENT", pricing.HalfKgIncrement),
			RushSurcharge:          int64WithDefault(lookup, "API_PRICING_RUSH_SURCHARGE", pricing.RushSurcharge),
			FreeShippingThreshold:  int64WithDefault(lookup, "API_PRICING_FREE_SHIPPING_THRESHOLD", pricing.FreeShippingThreshold),
			FreeShippingDiscount:   int64WithDefault(lookup, "API_PRICING_FREE_SHIPPING_DISCOUNT", pricing.FreeShippingDiscount),
		},
		Reconciliation: ReconciliationConfig{
			LookupAttempts: intWithDefault(lookup, "API_RECONCILIATION_LOOKUP_ATTEMPTS", defaultLookupAttempts),
			LookupBackoff:  durationWithDefault(lookup, "API_RECONCILIATION_LOOKUP_BACKOFF", defaultLookupBackoff),
			SweepGrace:     durationWithDefault(lookup, "API_RECONCILIATION_SWEEP_GRACE", defaultSweepGrace),
			SweepMinAge:    durationWithDefault(lookup, "API_RECONCILIATION_SWEEP_MIN_AGE", defaultSweepMinAge),
			SweepLimit:     intWithDefault(lookup, "API_RECONCILIATION_SWEEP_LIMIT", defaultSweepLimit),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:       stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:      stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:     mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:       csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
				AllowedEmails: csvWithDefault(lookup, "API_SECURITY_OIDC_ALLOWED_EMAILS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		RateLimit: RateLimitConfig{
			QuoteLimit:  intWithDefault(lookup, "API_RATELIMIT_QUOTE_LIMIT", defaultQuoteRateLimit),
			QuoteWindow: durationWithDefault(lookup, "API_RATELIMIT_QUOTE_WINDOW", defaultQuoteRateWindow),
		},
	}

	resolvedSecrets := make(map[string]string)
	resolveField := func(name string, field *string) error {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = resolved
		resolvedSecrets[name] = strings.TrimSpace(resolved)
		return nil
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"VNPay.HashSecret", &cfg.VNPay.HashSecret},
		{"Stripe.APIKey", &cfg.Stripe.APIKey},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		if err := resolveField(target.name, target.field); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	if resolver == nil {
		normalized := normalizeSecretReference(value)
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	normalized := normalizeSecretReference(value)
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreDriverMemory:
	default:
		missing = append(missing, "Store.Driver")
	}
	if cfg.Firebase.ProjectID == "" {
		missing = append(missing, "Firebase.ProjectID")
	}
	if strings.TrimSpace(cfg.VNPay.TmnCode) == "" {
		missing = append(missing, "VNPay.TmnCode")
	}
	if strings.TrimSpace(cfg.VNPay.HashSecret) == "" {
		missing = append(missing, "VNPay.HashSecret")
	}
	if strings.TrimSpace(cfg.VNPay.PayURL) == "" {
		missing = append(missing, "VNPay.PayURL")
	}
	if cfg.VNPay.PaymentTTL <= 0 {
		missing = append(missing, "VNPay.PaymentTTL")
	}
	if cfg.Pricing.VATRate < 0 || cfg.Pricing.MajorBaseFee < 0 || cfg.Pricing.OtherBaseFee < 0 ||
		cfg.Pricing.HalfKgIncrement < 0 || cfg.Pricing.RushSurcharge < 0 || cfg.Pricing.FreeShippingDiscount < 0 {
		missing = append(missing, "Pricing")
	}
	if cfg.Reconciliation.LookupAttempts <= 0 {
		missing = append(missing, "Reconciliation.LookupAttempts")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	if cfg.RateLimit.QuoteLimit < 0 || (cfg.RateLimit.QuoteLimit > 0 && cfg.RateLimit.QuoteWindow <= 0) {
		missing = append(missing, "RateLimit")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

// defaultPricing mirrors domain.DefaultPricingSchedule without importing the domain package.
func defaultPricing() PricingConfig {
	return PricingConfig{
		VATRate:                10,
		MajorProvinces:         []string{"Hà Nội", "Hồ Chí Minh", "Ho Chi Minh City", "HCM", "Sài Gòn"},
		MajorBaseFee:           22000,
		OtherBaseFee:           30000,
		MajorWeightThresholdKg: 3.0,
		OtherWeightThresholdKg: 0.5,
		HalfKgIncrement:        2500,
		RushSurcharge:          10000,
		FreeShippingThreshold:  100000,
		FreeShippingDiscount:   25000,
	}
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
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

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		secret := strings.TrimSpace(parts[1])
		if name == "" || secret == "" {
			continue
		}
		values[name] = secret
	}
	return values
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) int64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvOrDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	if values := csvWithDefault(lookup, key); len(values) > 0 {
		return values
	}
	return append([]string(nil), fallback...)
}
