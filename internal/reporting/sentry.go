package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/haakenstad/ledgerlight/internal/config"
	"github.com/haakenstad/ledgerlight/internal/logging"
)

var bearerRx = regexp.MustCompile(`(?i)bearer [a-z0-9\-_.]+`)
var hostRx = regexp.MustCompile(`\[:{0,2}([0-9a-f]{0,4}:?){1,8}\]:\d+`)
var idRx = regexp.MustCompile(`[0-9a-f]{8}-?([0-9a-f]{4}-?){3}[0-9a-f]{12}`)

// Collapse credentials, hosts and resource ids so transient details don't
// split one failure mode into many Sentry issues.
func sanitizeError(err string) string {
	err = bearerRx.ReplaceAllString(err, "Bearer <token>")
	err = idRx.ReplaceAllString(err, "<id>")
	err = hostRx.ReplaceAllString(err, "<host>")
	return err
}

func Report(ctx context.Context, err error, extras ...map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	logger := logging.FromContext(ctx)
	if hub == nil {
		logger.Warn("Failed to get Sentry hub from context", "Error:", err, "Extras:", extras)
		return
	}

	logger.Error(
		"Reporting error to Sentry",
		slog.String("error", err.Error()),
		slog.Any("extras", extras),
	)

	hub.WithScope(func(scope *sentry.Scope) {
		meta := MetaFromContext(ctx)
		scope.SetTags(meta.tags)
		for key, value := range meta.extras {
			scope.SetExtra(key, value)
		}
		if meta.userID != "" {
			scope.SetUser(sentry.User{
				ID: meta.userID,
			})
		}
		if !meta.startedAt.IsZero() {
			scope.SetExtra("secondsSinceCallStart", time.Since(meta.startedAt).Seconds())
		}

		for _, extra := range extras {
			if extra == nil {
				continue
			}
			for key, value := range extra {
				scope.SetExtra(key, value)
			}
		}

		if err == nil {
			err = errors.New("No error provided")
		}

		scope.SetFingerprint([]string{"{{ default }}", sanitizeError(err.Error())})
		hub.CaptureException(err)
	})
}

// NewCallContext gives each API call its own hub clone so scope data from
// concurrent calls doesn't bleed together.
func NewCallContext(ctx context.Context) context.Context {
	if sentry.HasHubOnContext(ctx) {
		return ctx
	}
	return sentry.SetHubOnContext(ctx, sentry.CurrentHub().Clone())
}

func InitSentry(sentryDSN string) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              sentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 1.0 / 100.0,
	})
	if err != nil {
		return nil, err
	}

	flush := func() {
		sentry.Flush(5 * time.Second)
	}

	return flush, nil
}

func InitSentryOrMock(config config.Config) (func(), error) {
	if config.SentryDSN() != "" {
		return InitSentry(config.SentryDSN())
	}

	if config.IsDevelopment() {
		flush := func() {}
		return flush, nil
	}

	return nil, fmt.Errorf("Missing Sentry DSN in non-development environment")
}
