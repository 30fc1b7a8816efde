package logging_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/watarai/vizsla/pkg/utils/logging"
)

func TestNewLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("warn", &buf)

	logger.Info("hidden")
	gt.Equal(t, buf.Len(), 0)

	logger.Warn("visible", "key", "value")
	gt.S(t, buf.String()).Contains("visible")
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("nonsense", &buf)

	logger.Debug("hidden")
	gt.Equal(t, buf.Len(), 0)

	logger.Info("shown")
	gt.S(t, buf.String()).Contains("shown")
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("debug", &buf)

	ctx := logging.With(context.Background(), logger)
	got := logging.From(ctx)
	gt.V(t, got).Equal(logger)

	// Without an attached logger the default is returned
	gt.NotNil(t, logging.From(context.Background()))
}

func TestSetDefault(t *testing.T) {
	original := logging.Default()
	defer logging.SetDefault(original)

	var buf bytes.Buffer
	replacement := logging.New("debug", &buf)
	logging.SetDefault(replacement)

	var got *slog.Logger = logging.Default()
	gt.V(t, got).Equal(replacement)
}
