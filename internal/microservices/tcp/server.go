package tcp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is the rendezvous port OpenBEAT generators connect to
const DefaultPort = 15000

var (
	ErrBind              = errors.New("failed to bind BEAT listener")
	ErrInboxFull         = errors.New("dispatcher inbox is full")
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// Config for a Dispatcher
type Config struct {
	Addr          string
	Reader        ReaderConfig
	Policy        ConnPolicy
	InboxSize     int           // messages buffered between readers and Tick
	MaxPerTick    int           // 0 drains what is queued when Tick starts
	TargetTimeout time.Duration // 0 leaves ApplyBehavior bounded only by the Tick context
}

func DefaultConfig() Config {
	return Config{
		Addr: fmt.Sprintf(":%d", DefaultPort),
		Reader: ReaderConfig{
			Framing:        FramingChunk,
			MaxMessageSize: DefaultMaxMessageSize,
			RateBurst:      20,
		},
		Policy:        PolicyShared,
		InboxSize:     1024,
		TargetTimeout: 2 * time.Second,
	}
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithConnectionManager lets the caller build the manager first, for collectors that read it.
// The manager's policy takes precedence over Config.Policy.
func WithConnectionManager(m *ConnectionManager) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.Manager = m
		}
	}
}

// WithObserver registers an Observer that sees every dispatch Record
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observers = append(d.observers, o)
		}
	}
}

// Dispatcher accepts BEAT connections and routes their messages to registered targets.
// Readers run in the background; targets are only invoked from Tick.
type Dispatcher struct {
	cfg      Config
	registry *Registry
	listener net.Listener
	Manager  *ConnectionManager

	inbox     chan Inbound
	quitChan  chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	logger    *slog.Logger
	observers []Observer
	stats     counters
}

// NewDispatcher binds the listening socket right away.
// A bind failure is returned wrapped in ErrBind with the cause attached.
func NewDispatcher(registry *Registry, cfg Config, opts ...Option) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("dispatcher needs a target registry")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultConfig().InboxSize
	}

	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
		inbox:    make(chan Inbound, cfg.InboxSize),
		quitChan: make(chan struct{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.Manager == nil {
		d.Manager = NewConnectionManager(cfg.Policy, d.logger)
	}
	d.cfg.Policy = d.Manager.Policy()

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %w", ErrBind, cfg.Addr, err)
	}
	d.listener = listener

	d.logger.Info("beat_listener_started",
		"addr", listener.Addr().String(),
		"framing", string(cfg.Reader.Framing),
		"policy", string(d.cfg.Policy),
		"targets", registry.Keys(),
	)
	return d, nil
}

// Addr returns the bound listener address
func (d *Dispatcher) Addr() net.Addr {
	return d.listener.Addr()
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Start launches the accept loop. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.acceptLoop()
		}()
	})
}

func (d *Dispatcher) acceptLoop() {
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.quitChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Error("accept_failed",
				"error", err,
			)
			continue
		}

		client := NewPeerConnection(conn, d.cfg.Reader, d.logger)
		if err := d.Manager.AddConnection(client); err != nil {
			client.Close()
			continue
		}
		// Stop may have closed every connection before this one was added
		select {
		case <-d.quitChan:
			d.Manager.RemoveConnection(client)
			client.Close()
			return
		default:
		}

		d.wg.Add(1)
		go func(client *PeerConnection) {
			defer d.wg.Done()
			client.Listen(d.deliver)
			d.Manager.RemoveConnection(client)
		}(client)
	}
}

// deliver queues one message for the next Tick, blocking while the inbox is full
func (d *Dispatcher) deliver(in Inbound) bool {
	select {
	case d.inbox <- in:
		return true
	case <-d.quitChan:
		return false
	}
}

// Inject queues raw wire data as if it had arrived from source. It never blocks.
func (d *Dispatcher) Inject(data []byte, source string) error {
	select {
	case <-d.quitChan:
		return ErrDispatcherStopped
	default:
	}
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case d.inbox <- Inbound{ConnID: source, Peer: source, Data: msg, ReceivedAt: time.Now()}:
		return nil
	default:
		return ErrInboxFull
	}
}

// Pending returns how many messages wait for the next Tick
func (d *Dispatcher) Pending() int {
	return len(d.inbox)
}

// Stop closes the listener and every connection, then waits for the readers.
// Messages still in the inbox are dropped.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quitChan)
		d.listener.Close()
		d.Manager.CloseAllConnections()
		d.wg.Wait()
		d.logger.Info("beat_listener_stopped",
			"dropped", len(d.inbox),
		)
	})
}

type counters struct {
	received     atomic.Uint64
	delivered    atomic.Uint64
	unknownKey   atomic.Uint64
	malformed    atomic.Uint64
	targetFailed atomic.Uint64
}
