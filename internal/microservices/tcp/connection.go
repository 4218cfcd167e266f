package tcp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxMessageSize = 1024 * 1024 // 1MB
	lineBufferSize        = 4096
)

// Framing decides where one message ends in the byte stream
type Framing string

const (
	// FramingChunk treats every socket read as one message
	FramingChunk Framing = "chunk"
	// FramingLine treats every newline-terminated line as one message
	FramingLine Framing = "line"
	// FramingStream treats everything read until the peer closes as one message
	FramingStream Framing = "stream"
)

func ParseFraming(raw string) (Framing, error) {
	switch f := Framing(raw); f {
	case FramingChunk, FramingLine, FramingStream:
		return f, nil
	case "":
		return FramingChunk, nil
	default:
		return "", fmt.Errorf("unknown framing %q", raw)
	}
}

// ReaderConfig controls how a PeerConnection turns bytes into messages
type ReaderConfig struct {
	Framing        Framing
	MaxMessageSize int
	IdleTimeout    time.Duration // 0 disables the read deadline
	RateLimit      float64       // messages per second, 0 means unlimited
	RateBurst      int
}

// PeerConnection reads one accepted TCP connection
type PeerConnection struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time
	Limiter     *rate.Limiter // nil when unlimited

	conn      net.Conn
	cfg       ReaderConfig
	logger    *slog.Logger
	closeOnce sync.Once
}

// constructor for PeerConnection
func NewPeerConnection(conn net.Conn, cfg ReaderConfig, logger *slog.Logger) *PeerConnection {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Framing == "" {
		cfg.Framing = FramingChunk
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &PeerConnection{
		ID:          uuid.NewString(),
		RemoteAddr:  conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		conn:        conn,
		cfg:         cfg,
		logger:      logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

func (c *PeerConnection) Info() PeerInfo {
	return PeerInfo{ID: c.ID, RemoteAddr: c.RemoteAddr, ConnectedAt: c.ConnectedAt}
}

// Listen reads until the peer goes away and hands every framed message to deliver.
// deliver returns false when the dispatcher is shutting down.
func (c *PeerConnection) Listen(deliver func(Inbound) bool) {
	defer c.Close()

	c.logger.Info("client_started_listening",
		"conn_id", c.ID,
		"remote_addr", c.RemoteAddr,
		"framing", string(c.cfg.Framing),
	)

	r := &idleReader{conn: c.conn, timeout: c.cfg.IdleTimeout}
	switch c.cfg.Framing {
	case FramingLine:
		c.readLines(r, deliver)
	case FramingStream:
		c.readStream(r, deliver)
	default:
		c.readChunks(r, deliver)
	}
}

func (c *PeerConnection) readChunks(r io.Reader, deliver func(Inbound) bool) {
	buf := make([]byte, c.cfg.MaxMessageSize)
	for {
		n, err := r.Read(buf)
		if n > 0 && !c.emit(buf[:n], deliver) {
			return
		}
		if err != nil {
			c.logReadEnd(err)
			return
		}
	}
}

// readLines keeps at most MaxMessageSize bytes of a line; the rest of an
// oversized line is skipped up to its newline
func (c *PeerConnection) readLines(r io.Reader, deliver func(Inbound) bool) {
	reader := bufio.NewReaderSize(r, lineBufferSize)
	limit := c.cfg.MaxMessageSize + 2 // room for \r\n
	var line []byte
	skipped := 0
	for {
		frag, err := reader.ReadSlice('\n')
		if skipped == 0 && len(line)+len(frag) <= limit {
			line = append(line, frag...)
		} else {
			skipped += len(line) + len(frag)
			line = line[:0]
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if skipped > 0 {
			c.logger.Warn("message_too_large",
				"conn_id", c.ID,
				"size", skipped,
				"max_size", c.cfg.MaxMessageSize,
			)
			skipped = 0
		} else if msg := trimLineEnding(line); len(msg) > 0 {
			// a final line without terminator is still a message
			if !c.emit(msg, deliver) {
				return
			}
		}
		line = line[:0]

		if err != nil {
			c.logReadEnd(err)
			return
		}
	}
}

func (c *PeerConnection) readStream(r io.Reader, deliver func(Inbound) bool) {
	limit := int64(c.cfg.MaxMessageSize)
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		c.logReadEnd(err)
		return
	}
	if int64(len(data)) > limit {
		c.logger.Warn("message_too_large",
			"conn_id", c.ID,
			"max_size", c.cfg.MaxMessageSize,
		)
		// drain so the peer sees an orderly close
		_, _ = io.Copy(io.Discard, r)
		return
	}
	if len(data) > 0 {
		c.emit(data, deliver)
	}
	c.logReadEnd(io.EOF)
}

// emit applies size and rate checks and copies data out of the read buffer
func (c *PeerConnection) emit(data []byte, deliver func(Inbound) bool) bool {
	if len(data) > c.cfg.MaxMessageSize {
		c.logger.Warn("message_too_large",
			"conn_id", c.ID,
			"size", len(data),
			"max_size", c.cfg.MaxMessageSize,
		)
		return true
	}
	if c.Limiter != nil && !c.Limiter.Allow() {
		c.logger.Warn("rate_limit_exceeded",
			"conn_id", c.ID,
		)
		return true
	}

	msg := make([]byte, len(data))
	copy(msg, data)
	return deliver(Inbound{
		ConnID:     c.ID,
		Peer:       c.RemoteAddr,
		Data:       msg,
		ReceivedAt: time.Now(),
	})
}

func (c *PeerConnection) logReadEnd(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info("client_disconnected",
			"conn_id", c.ID,
		)
	case errors.As(err, &netErr) && netErr.Timeout():
		c.logger.Warn("client_read_timeout",
			"conn_id", c.ID,
		)
	case errors.Is(err, net.ErrClosed):
		// closed by Stop or CloseAllConnections
	default:
		c.logger.Error("client_read_error",
			"conn_id", c.ID,
			"error", err,
		)
	}
}

// method to close the connection
func (c *PeerConnection) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}

// idleReader pushes the read deadline forward before every read
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}
	return r.conn.Read(p)
}
