package logger_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelrise/enhance-api/internal/platform/logger"
)

func TestSetup(t *testing.T) {
	t.Run("valid levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "WARN", ""} {
			log, err := logger.Setup(level)
			require.NoError(t, err, "level %q", level)
			assert.NotNil(t, log)
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := logger.Setup("verbose")
		assert.Error(t, err)
	})
}

func TestFromContext(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))

	t.Run("returns stored logger", func(t *testing.T) {
		ctx := logger.WithLogger(context.Background(), base)
		assert.Same(t, base, logger.FromContext(ctx))
	})

	t.Run("falls back to default", func(t *testing.T) {
		assert.Same(t, slog.Default(), logger.FromContext(context.Background()))
	})
}

func TestFromContextOrDefault(t *testing.T) {
	base := slog.New(slog.NewTextHandler(os.Stderr, nil))
	def := slog.New(slog.NewTextHandler(os.Stderr, nil))

	t.Run("prefers stored logger", func(t *testing.T) {
		ctx := logger.WithLogger(context.Background(), base)
		assert.Same(t, base, logger.FromContextOrDefault(ctx, def))
	})

	t.Run("uses provided default", func(t *testing.T) {
		assert.Same(t, def, logger.FromContextOrDefault(context.Background(), def))
	})
}
