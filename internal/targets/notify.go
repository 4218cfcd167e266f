package targets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres rejects NOTIFY payloads of 8000 bytes or more
const maxNotifyPayload = 7999

var ErrPayloadTooLarge = errors.New("payload exceeds pg_notify limit")

// execer is the part of pgxpool.Pool the notify target needs
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NotifyTarget forwards behavior payloads with pg_notify so LISTENing renderers pick them up
type NotifyTarget struct {
	db      execer
	channel string
}

func NewNotifyTarget(pool *pgxpool.Pool, key, channel string) *NotifyTarget {
	if channel == "" {
		channel = "bml_" + strings.ToLower(key)
	}
	return &NotifyTarget{db: pool, channel: channel}
}

func (t *NotifyTarget) Channel() string {
	return t.channel
}

func (t *NotifyTarget) ApplyBehavior(ctx context.Context, payload string) error {
	if len(payload) > maxNotifyPayload {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	if _, err := t.db.Exec(ctx, "SELECT pg_notify($1, $2)", t.channel, payload); err != nil {
		return fmt.Errorf("notify %s: %w", t.channel, err)
	}
	return nil
}
