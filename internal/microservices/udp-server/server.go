package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const readBufferSize = 4096

// Server lets remote renderers subscribe to characters over UDP
type Server struct {
	conn        *net.UDPConn
	subManager  *SubscriberManager
	broadcaster *Broadcaster
	logger      *slog.Logger
	done        chan struct{}
	wg          sync.WaitGroup
	startOnce   sync.Once
	closeOnce   sync.Once
}

// NewServer binds addr; subscribers silent for longer than timeout are dropped
func NewServer(addr string, timeout time.Duration, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	subManager := NewSubscriberManager(timeout)
	return &Server{
		conn:        conn,
		subManager:  subManager,
		broadcaster: NewBroadcaster(conn, subManager, logger),
		logger:      logger,
		done:        make(chan struct{}),
	}, nil
}

func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Start launches the request reader and the subscriber cleanup
func (s *Server) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("udp_server_started", "addr", s.Addr().String())

		interval := max(s.subManager.timeout/2, time.Second)
		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			s.subManager.StartCleanupRoutine(interval, s.done, func(n int) {
				s.logger.Info("udp_subscribers_expired", "count", n)
			})
		}()
		go func() {
			defer s.wg.Done()
			s.handleIncomingMessages()
		}()
	})
}

func (s *Server) handleIncomingMessages() {
	buffer := make([]byte, readBufferSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("udp_read_failed", "error", err)
			continue
		}
		s.processMessage(buffer[:n], addr)
	}
}

func (s *Server) processMessage(data []byte, addr *net.UDPAddr) {
	req, err := ParseRequest(data)
	if err != nil {
		s.logger.Warn("udp_bad_request",
			"addr", addr.String(),
			"error", err,
		)
		s.broadcaster.reply(addr, &Datagram{Type: DatagramError, Message: err.Error(), Timestamp: time.Now()})
		return
	}

	switch req.Type {
	case RequestSubscribe:
		s.subManager.Add(req.RendererID, req.Character, addr)
		s.logger.Info("udp_renderer_subscribed",
			"renderer_id", req.RendererID,
			"character", req.Character,
			"addr", addr.String(),
		)
		s.broadcaster.reply(addr, &Datagram{
			Type:      DatagramAck,
			Character: req.Character,
			Message:   "subscribed",
			Timestamp: time.Now(),
		})

	case RequestUnsubscribe:
		if s.subManager.Remove(req.RendererID) {
			s.logger.Info("udp_renderer_unsubscribed", "renderer_id", req.RendererID)
		}
		s.broadcaster.reply(addr, &Datagram{Type: DatagramAck, Message: "unsubscribed", Timestamp: time.Now()})

	case RequestPing:
		if !s.subManager.Touch(req.RendererID) {
			s.broadcaster.reply(addr, &Datagram{Type: DatagramError, Message: "not subscribed", Timestamp: time.Now()})
			return
		}
		s.broadcaster.reply(addr, &Datagram{Type: DatagramPong, Timestamp: time.Now()})
	}
}

// Broadcast sends a behavior to the renderers of one character
func (s *Server) Broadcast(ctx context.Context, character, payload string) (int, error) {
	return s.broadcaster.Broadcast(ctx, character, payload)
}

func (s *Server) SubscriberCount() int {
	return s.subManager.Count()
}

// Shutdown closes the socket and waits for the background goroutines
func (s *Server) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
		s.logger.Info("udp_server_stopped")
	})
	return err
}
