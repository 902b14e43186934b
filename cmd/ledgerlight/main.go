// Command ledgerlight exercises the data-access layer against a running
// backend: it logs in, fetches account state and prints it, surfacing any
// cache substitutions along the way.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/haakenstad/ledgerlight/internal/client"
	"github.com/haakenstad/ledgerlight/internal/config"
	"github.com/haakenstad/ledgerlight/internal/events"
	"github.com/haakenstad/ledgerlight/internal/kvstore"
	"github.com/haakenstad/ledgerlight/internal/logging"
	"github.com/haakenstad/ledgerlight/internal/ratelimiting"
	"github.com/haakenstad/ledgerlight/internal/reporting"
	"github.com/haakenstad/ledgerlight/internal/telemetry"
)

// TODO: Put in config
const OUTBOUND_REFILL_PER_SECOND = 8
const OUTBOUND_BURST_SIZE = 16

func newKVStore(conf config.Config, logger *slog.Logger) (kvstore.Store, func(), error) {
	switch conf.KVBackend() {
	case config.KVBackendMemory:
		return kvstore.NewMemory(), func() {}, nil

	case config.KVBackendLevelDB:
		store, closeStore, err := kvstore.NewLevelDB(conf.KVPath())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open leveldb store: %w", err)
		}
		return store, func() {
			if err := closeStore(); err != nil {
				logger.Error("Failed to close leveldb store", "error", err.Error())
			}
		}, nil

	case config.KVBackendRedis:
		return kvstore.NewRedis(conf.RedisAddr()), func() {}, nil

	case config.KVBackendPostgres:
		db, err := kvstore.NewPostgresDatabaseFromConfig(conf)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}

		schemaName := kvstore.GetSchemaName(!conf.IsProduction())
		err = kvstore.NewMigrator(db, logger.With("component", "migrator")).Migrate(context.Background(), schemaName)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}

		return kvstore.NewPostgres(db, schemaName), func() {
			if err := db.Close(); err != nil {
				logger.Error("Failed to close database", "error", err.Error())
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown kv backend %q", conf.KVBackend())
	}
}

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(
		logging.NewTracingLogHandler(slog.NewJSONHandler(os.Stdout, nil)),
	).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	conf, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", conf.NonSensitiveString())

	flushSentry, err := reporting.InitSentryOrMock(conf)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flushSentry()

	ctx := logging.AddToContext(context.Background(), logger)

	shutdownOTel, err := telemetry.SetupOTelSDK(ctx, "ledgerlight")
	if err != nil {
		fail("Failed to initialize OpenTelemetry", "error", err.Error())
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
		}
	}()

	kv, closeKV, err := newKVStore(conf, logger)
	if err != nil {
		fail("Failed to initialize kv store", "error", err.Error())
	}
	defer closeKV()
	logger.Info("Initialized kv store", "backend", string(conf.KVBackend()))

	httpClient := &http.Client{
		Timeout:   10 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	accessLayer, stopAccessLayer, err := client.New(
		httpClient, conf.APIBaseURL(), kv, time.Now, time.After,
		client.WithOutboundLimiter(ratelimiting.NewOutboundLimiter(OUTBOUND_REFILL_PER_SECOND, OUTBOUND_BURST_SIZE)),
	)
	if err != nil {
		fail("Failed to initialize access layer", "error", err.Error())
	}
	defer stopAccessLayer()

	unsubscribe := accessLayer.SubscribeEvents(func(event events.Event) {
		logger.Warn("Serving stale data",
			"kind", string(event.Kind),
			"path", event.Path,
			"fetchedAt", event.Timestamp.Format(time.RFC3339),
		)
	})
	defer unsubscribe()

	unregister := accessLayer.OnSessionExpired(func() {
		logger.Warn("Session expired, log in again")
	})
	defer unregister()

	email := os.Getenv("LEDGERLIGHT_EMAIL")
	if password := os.Getenv("LEDGERLIGHT_PASSWORD"); password != "" {
		login, err := client.Post[struct {
			Token  string `json:"token"`
			UserID string `json:"user_id"`
		}](ctx, accessLayer, "/api/login", map[string]string{
			"email":    email,
			"password": password,
		}, client.WithSkipAuth())
		if err != nil {
			fail("Failed to log in", "error", err.Error())
		}

		if err := accessLayer.Tokens().Set(ctx, login.Token); err != nil {
			fail("Failed to store session token", "error", err.Error())
		}
		ctx = reporting.SetUserIDInContext(ctx, login.UserID)
		logger.Info("Logged in", "userID", login.UserID)
	}

	totals, err := client.Get[json.RawMessage](ctx, accessLayer, "/api/totals")
	if err != nil {
		fail("Failed to fetch totals", "error", err.Error())
	}
	fmt.Println(string(totals))

	accounts, err := client.Get[json.RawMessage](ctx, accessLayer, "/api/accounts")
	if err != nil {
		fail("Failed to fetch accounts", "error", err.Error())
	}
	fmt.Println(string(accounts))
}
