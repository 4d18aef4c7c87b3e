package observability

import (
	"log/slog"
	"os"

	"github.com/mousehunter-quant/crawler-worker/internal/config"
)

// SetupLogger configures a JSON slog logger with environment and worker fields.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if cfg.IsDev() {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
		slog.String("tier", cfg.PriorityLevel),
		slog.String("worker_id", cfg.WorkerID),
	)
	return logger
}
