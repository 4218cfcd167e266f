package sender

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"beatrelay/internal/microservices/tcp"
)

var ErrEmptyPayload = errors.New("behavior payload is empty")

// Writer sends BML blocks to a BEAT dispatcher, one connection per block
type Writer struct {
	addr       string
	timeout    time.Duration
	terminator string
	fold       bool
	logger     *slog.Logger
}

type Option func(*Writer)

// WithTimeout bounds dialing and writing one block
func WithTimeout(d time.Duration) Option {
	return func(w *Writer) { w.timeout = d }
}

// WithLineTerminator appends a newline, for dispatchers using line framing
func WithLineTerminator() Option {
	return func(w *Writer) { w.terminator = "\n" }
}

// WithoutFolding sends the payload bytes untouched
func WithoutFolding() Option {
	return func(w *Writer) { w.fold = false }
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func NewWriter(addr string, opts ...Option) *Writer {
	w := &Writer{
		addr:    addr,
		timeout: 5 * time.Second,
		fold:    true,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send writes <speaker>|BEAT|<bml> on a fresh connection and closes it.
// An empty speaker is sent as-is; the dispatcher will report it as unavailable.
func (w *Writer) Send(ctx context.Context, speaker, bml string) error {
	if bml == "" {
		return ErrEmptyPayload
	}
	payload := bml
	if w.fold {
		payload = FoldASCII(bml)
	}
	wire := tcp.Message{Key: speaker, Payload: payload}.Encode()
	wire = append(wire, w.terminator...)

	w.logger.Debug("sender_connecting", "addr", w.addr)
	dialer := net.Dialer{Timeout: w.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return fmt.Errorf("cannot send BML block to %s: %w", w.addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	bw := bufio.NewWriter(conn)
	if _, err := bw.Write(wire); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	w.logger.Debug("sender_block_sent",
		"addr", w.addr,
		"speaker", speaker,
		"size", len(wire),
	)
	return nil
}
