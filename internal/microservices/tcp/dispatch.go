package tcp

import (
	"context"
	"fmt"
	"time"
)

// Outcome of dispatching one inbound message
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeUnknownKey   Outcome = "unknown_key"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeTargetFailed Outcome = "target_failed"
)

// Record describes one dispatch, handed to every Observer
type Record struct {
	ConnID       string
	Peer         string
	Key          string
	Payload      string
	Outcome      Outcome
	Err          error
	ReceivedAt   time.Time
	DispatchedAt time.Time
	Duration     time.Duration
}

// Observer is told about every dispatch. Observe runs on the tick goroutine and must not block.
type Observer interface {
	Observe(rec Record)
}

// Stats are running totals since the dispatcher was built
type Stats struct {
	Received     uint64 `json:"received"`
	Delivered    uint64 `json:"delivered"`
	UnknownKey   uint64 `json:"unknown_key"`
	Malformed    uint64 `json:"malformed"`
	TargetFailed uint64 `json:"target_failed"`
}

// Status is a point-in-time view for operators
type Status struct {
	State       string     `json:"state"`
	Addr        string     `json:"addr"`
	Policy      string     `json:"policy"`
	Framing     string     `json:"framing"`
	CurrentPeer *PeerInfo  `json:"current_peer,omitempty"`
	ActivePeers []PeerInfo `json:"active_peers"`
	Accepted    uint64     `json:"accepted"`
	Pending     int        `json:"pending"`
	Targets     []string   `json:"targets"`
	Stats       Stats      `json:"stats"`
}

// Tick dispatches the messages already queued and returns how many it handled.
// It never waits for new data. Call it from the goroutine that owns the targets.
func (d *Dispatcher) Tick(ctx context.Context) int {
	n := len(d.inbox)
	if d.cfg.MaxPerTick > 0 && n > d.cfg.MaxPerTick {
		n = d.cfg.MaxPerTick
	}

	processed := 0
	for processed < n {
		select {
		case in := <-d.inbox:
			d.Dispatch(ctx, in)
			processed++
		default:
			return processed
		}
	}
	return processed
}

// Run starts the accept loop and calls Tick every interval until ctx is done
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", interval)
	}
	d.Start()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.quitChan:
			return ErrDispatcherStopped
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Dispatch parses one inbound message and routes it.
// Per-message failures are logged and reported in the Record, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, in Inbound) Record {
	start := time.Now()
	rec := Record{
		ConnID:     in.ConnID,
		Peer:       in.Peer,
		ReceivedAt: in.ReceivedAt,
	}
	d.stats.received.Add(1)

	d.logger.Debug("data_received",
		"conn_id", in.ConnID,
		"size", len(in.Data),
	)

	msg, err := ParseMessage(in.Data)
	if err != nil {
		rec.Outcome = OutcomeMalformed
		rec.Err = err
		d.stats.malformed.Add(1)
		d.logger.Warn("malformed_message",
			"conn_id", in.ConnID,
			"size", len(in.Data),
			"error", err,
		)
		return d.finish(rec, start)
	}
	rec.Key = msg.Key
	rec.Payload = msg.Payload

	target, ok := d.registry.Lookup(msg.Key)
	if !ok {
		rec.Outcome = OutcomeUnknownKey
		rec.Err = fmt.Errorf("character %s is not available", msg.Key)
		d.stats.unknownKey.Add(1)
		d.logger.Warn("character_unavailable",
			"conn_id", in.ConnID,
			"routing_key", msg.Key,
			"detail", rec.Err.Error(),
		)
		return d.finish(rec, start)
	}

	if err := d.apply(ctx, target, msg.Payload); err != nil {
		rec.Outcome = OutcomeTargetFailed
		rec.Err = err
		d.stats.targetFailed.Add(1)
		d.logger.Error("target_apply_failed",
			"conn_id", in.ConnID,
			"routing_key", msg.Key,
			"error", err,
		)
		return d.finish(rec, start)
	}

	rec.Outcome = OutcomeDelivered
	d.stats.delivered.Add(1)
	d.logger.Debug("behavior_dispatched",
		"conn_id", in.ConnID,
		"routing_key", msg.Key,
		"payload_size", len(msg.Payload),
	)
	return d.finish(rec, start)
}

func (d *Dispatcher) apply(ctx context.Context, target Target, payload string) (err error) {
	if d.cfg.TargetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TargetTimeout)
		defer cancel()
	}
	// a panicking target counts as target_failed
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("target panicked: %v", r)
		}
	}()
	return target.ApplyBehavior(ctx, payload)
}

func (d *Dispatcher) finish(rec Record, start time.Time) Record {
	rec.DispatchedAt = time.Now()
	rec.Duration = rec.DispatchedAt.Sub(start)
	for _, o := range d.observers {
		o.Observe(rec)
	}
	return rec
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:     d.stats.received.Load(),
		Delivered:    d.stats.delivered.Load(),
		UnknownKey:   d.stats.unknownKey.Load(),
		Malformed:    d.stats.malformed.Load(),
		TargetFailed: d.stats.targetFailed.Load(),
	}
}

func (d *Dispatcher) Status() Status {
	st := Status{
		State:       d.Manager.State().String(),
		Addr:        d.Addr().String(),
		Policy:      string(d.cfg.Policy),
		Framing:     string(d.cfg.Reader.Framing),
		ActivePeers: d.Manager.Peers(),
		Accepted:    d.Manager.Accepted(),
		Pending:     d.Pending(),
		Targets:     d.registry.Keys(),
		Stats:       d.Stats(),
	}
	if peer, ok := d.Manager.CurrentPeer(); ok {
		st.CurrentPeer = &peer
	}
	return st
}
