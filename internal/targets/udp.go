package targets

import (
	"context"
	"fmt"
)

// broadcaster is satisfied by *udp.Server
type broadcaster interface {
	Broadcast(ctx context.Context, character, payload string) (int, error)
}

// UDPTarget fans a behavior out to the renderers subscribed to its character.
// A character with no subscribed renderer still counts as delivered.
type UDPTarget struct {
	server broadcaster
	key    string
}

func NewUDPTarget(server broadcaster, key string) *UDPTarget {
	return &UDPTarget{server: server, key: key}
}

func (t *UDPTarget) ApplyBehavior(ctx context.Context, payload string) error {
	if _, err := t.server.Broadcast(ctx, t.key, payload); err != nil {
		return fmt.Errorf("udp fan-out for %s: %w", t.key, err)
	}
	return nil
}
