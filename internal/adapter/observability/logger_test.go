package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mousehunter-quant/crawler-worker/internal/config"
)

func TestSetupLogger_DevEnablesDebug(t *testing.T) {
	logger := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "crawler-worker", WorkerID: "w1", PriorityLevel: "HIGH"})
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestSetupLogger_ProdDisablesDebug(t *testing.T) {
	logger := SetupLogger(config.Config{AppEnv: "prod"})
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
