package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// MaxDatagramSize keeps behavior datagrams under the IPv4 UDP payload limit
const MaxDatagramSize = 65507

var ErrDatagramTooLarge = errors.New("behavior does not fit in one datagram")

// Broadcaster sends behavior datagrams to the renderers of a character
type Broadcaster struct {
	conn       *net.UDPConn
	subManager *SubscriberManager
	logger     *slog.Logger
}

func NewBroadcaster(conn *net.UDPConn, subManager *SubscriberManager, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		conn:       conn,
		subManager: subManager,
		logger:     logger,
	}
}

// Broadcast sends payload to every renderer subscribed to character and
// returns how many datagrams were written.
func (b *Broadcaster) Broadcast(ctx context.Context, character, payload string) (int, error) {
	data, err := NewBehaviorDatagram(character, payload).ToJSON()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal behavior: %w", err)
	}
	if len(data) > MaxDatagramSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(data))
	}

	subscribers := b.subManager.ForCharacter(character)
	if len(subscribers) == 0 {
		b.logger.Debug("udp_no_subscribers", "character", character)
		return 0, nil
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		sent int
		errs []error
	)
	for _, sub := range subscribers {
		wg.Add(1)
		go func(s Subscriber) {
			defer wg.Done()
			err := b.sendToSubscriber(ctx, s, data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("renderer %s: %w", s.RendererID, err))
				return
			}
			sent++
		}(sub)
	}
	wg.Wait()

	b.logger.Debug("udp_behavior_broadcast",
		"character", character,
		"sent", sent,
		"subscribers", len(subscribers),
	)
	return sent, errors.Join(errs...)
}

func (b *Broadcaster) sendToSubscriber(ctx context.Context, sub Subscriber, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.conn.WriteToUDP(data, sub.Addr)
	return err
}

// reply sends a control datagram back to a renderer
func (b *Broadcaster) reply(addr *net.UDPAddr, d *Datagram) {
	data, err := d.ToJSON()
	if err != nil {
		return
	}
	if _, err := b.conn.WriteToUDP(data, addr); err != nil {
		b.logger.Warn("udp_reply_failed",
			"addr", addr.String(),
			"error", err,
		)
	}
}
