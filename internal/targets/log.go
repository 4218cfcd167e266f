package targets

import (
	"context"
	"log/slog"
)

// LogTarget prints every behavior it receives. It stands in for a character
// when no renderer is attached.
type LogTarget struct {
	key    string
	logger *slog.Logger
}

func NewLogTarget(key string, logger *slog.Logger) *LogTarget {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTarget{key: key, logger: logger}
}

func (t *LogTarget) ApplyBehavior(ctx context.Context, payload string) error {
	t.logger.InfoContext(ctx, "behavior_applied",
		"character", t.key,
		"payload", payload,
	)
	return nil
}
