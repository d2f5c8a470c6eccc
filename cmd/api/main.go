package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/handlers"
	"github.com/mediashop/api/internal/payments"
	"github.com/mediashop/api/internal/payments/vnpay"
	"github.com/mediashop/api/internal/platform/auth"
	"github.com/mediashop/api/internal/platform/config"
	"github.com/mediashop/api/internal/platform/idempotency"
	"github.com/mediashop/api/internal/platform/observability"
	"github.com/mediashop/api/internal/platform/secrets"
	"github.com/mediashop/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	backends, err := openBackends(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise backends", zap.Error(err))
	}
	defer backends.Close(logger)

	systemService, err := newSystemService(backends, fetcher, buildInfo)
	if err != nil {
		logger.Warn("health: system service init failed", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		backends.idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cleaner, ok := backends.idempotency.(idempotency.Cleaner); ok && cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := cleaner.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	pricing, err := services.NewPricingEngine(pricingSchedule(cfg.Pricing))
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products: backends.registry.Products(),
		Cache:    backends.productCache,
		Clock:    time.Now,
		Logger:   observability.EventLogger(logger.Named("catalog")),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     backends.registry.Orders(),
		Products:   backends.registry.Products(),
		Counters:   backends.registry.Counters(),
		Payments:   backends.registry.PaymentTransactions(),
		UnitOfWork: backends.registry,
		Locker:     backends.locker,
		Pricing:    pricing,
		Clock:      time.Now,
		Events:     backends.events,
		Logger:     observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	paymentsLogger := logger.Named("payments")
	gateway, err := vnpay.NewClient(vnpay.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		APIURL:     cfg.VNPay.APIURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
		Version:    cfg.VNPay.Version,
		Locale:     cfg.VNPay.Locale,
		PaymentTTL: cfg.VNPay.PaymentTTL,
		Timeout:    cfg.VNPay.Timeout,
		ServerIP:   cfg.VNPay.ServerIP,
		Clock:      time.Now,
		Logger:     observability.EventLogger(paymentsLogger.Named("vnpay")),
	})
	if err != nil {
		logger.Fatal("failed to initialise vnpay client", zap.Error(err))
	}
	paymentManager, err := newPaymentManager(gateway, cfg.Stripe, paymentsLogger)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	paymentService, err := services.NewPaymentReconciliationService(services.PaymentReconciliationServiceDeps{
		Orders:         backends.registry.Orders(),
		Transactions:   backends.registry.PaymentTransactions(),
		UnitOfWork:     backends.registry,
		Locker:         backends.locker,
		Payments:       paymentManager,
		Verifier:       gateway,
		Archive:        backends.archive,
		Events:         backends.events,
		Clock:          time.Now,
		Logger:         observability.EventLogger(paymentsLogger),
		LookupAttempts: cfg.Reconciliation.LookupAttempts,
		LookupBackoff:  cfg.Reconciliation.LookupBackoff,
		PaymentTTL:     cfg.VNPay.PaymentTTL,
		SweepGrace:     cfg.Reconciliation.SweepGrace,
		SweepMinAge:    cfg.Reconciliation.SweepMinAge,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment reconciliation service", zap.Error(err))
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)
	publicHandlers := handlers.NewPublicHandlers(orderService, catalogService,
		handlers.WithQuoteRateLimit(cfg.RateLimit.QuoteLimit, cfg.RateLimit.QuoteWindow, time.Now),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, paymentService,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	adminHandlers := handlers.NewAdminHandlers(authenticator, orderService, paymentService, catalogService,
		handlers.WithAdminIdempotency(idempotencyMiddleware),
	)
	webhookHandlers := handlers.NewWebhookHandlers(paymentService)
	internalHandlers := handlers.NewInternalHandlers(paymentService, services.SweepCommand{
		OlderThan: cfg.Reconciliation.SweepMinAge,
		Limit:     cfg.Reconciliation.SweepLimit,
		Provider:  payments.ProviderVNPay,
	})

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(publicHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
	go func() {
		serverLogger.Info("mediashop api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func pricingSchedule(cfg config.PricingConfig) domain.PricingSchedule {
	return domain.PricingSchedule{
		VATRate:                cfg.VATRate,
		MajorProvinces:         append([]string(nil), cfg.MajorProvinces...),
		MajorBaseFee:           cfg.MajorBaseFee,
		OtherBaseFee:           cfg.OtherBaseFee,
		MajorWeightThresholdKg: cfg.MajorWeightThresholdKg,
		OtherWeightThresholdKg: cfg.OtherWeightThresholdKg,
		HalfKgIncrement:        cfg.HalfKgIncrement,
		RushSurcharge:          cfg.RushSurcharge,
		FreeShippingThreshold:  cfg.FreeShippingThreshold,
		FreeShippingDiscount:   cfg.FreeShippingDiscount,
	}
}

// newPaymentManager registers VNPay for VND and, when configured, Stripe for every other currency.
func newPaymentManager(gateway *vnpay.Client, cfg config.StripeConfig, logger *zap.Logger) (*payments.Manager, error) {
	vnpayProvider, err := payments.NewVNPayProvider(gateway)
	if err != nil {
		return nil, err
	}
	providers := map[string]payments.Provider{
		payments.ProviderVNPay: vnpayProvider,
	}
	if strings.TrimSpace(cfg.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.APIKey,
			AccountID: cfg.AccountID,
			Logger:    observability.EventLogger(logger.Named("stripe")),
			Clock:     time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers[payments.ProviderStripe] = stripeProvider
	} else {
		logger.Info("stripe api key not configured; card payments disabled")
	}
	return payments.NewManager(providers,
		payments.WithDefaultProvider(payments.ProviderVNPay),
		payments.WithCurrencyRoutes(map[string]string{"VND": payments.ProviderVNPay}),
	)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(adapter),
		auth.WithOIDCAllowedEmails(cfg.Security.OIDC.AllowedEmails...),
	)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS")); len(projects) > 0 {
		normalized := make(map[string]string, len(projects))
		for label, project := range projects {
			normalized[strings.ToLower(label)] = project
		}
		opts = append(opts, secrets.WithProjectMap(normalized))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(lookup("API_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields that must resolve to a non-empty value.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"VNPay.HashSecret"}
	if env != nil {
		if strings.TrimSpace(env["API_STRIPE_API_KEY"]) != "" {
			required = append(required, "Stripe.APIKey")
		}
		if strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
			required = append(required, "Redis.Password")
		}
	}
	return uniqueStrings(required)
}

// secretVersionPins parses "ref=version" pairs, accepting optional "env:" prefixes and the
// legacy sm:// scheme.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
