package kvstore_test

import (
	"io"
	"log/slog"
	"testing"
)

func newTestLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
