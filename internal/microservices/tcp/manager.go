package tcp

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ConnPolicy decides what happens when a peer connects while another is active
type ConnPolicy string

const (
	// PolicyShared accepts every peer and reads all of them; the newest becomes the tracked peer
	PolicyShared ConnPolicy = "shared"
	// PolicyExclusive refuses new peers while one is connected
	PolicyExclusive ConnPolicy = "exclusive"
)

// ParseConnPolicy maps a config string onto a ConnPolicy
func ParseConnPolicy(raw string) (ConnPolicy, error) {
	switch p := ConnPolicy(raw); p {
	case PolicyShared, PolicyExclusive:
		return p, nil
	case "":
		return PolicyShared, nil
	default:
		return "", fmt.Errorf("unknown connection policy %q", raw)
	}
}

// State of the listener. There is no transition back to StateListening.
type State int

const (
	StateListening State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

var ErrPeerBusy = errors.New("a peer is already connected")

// PeerInfo is a snapshot of one accepted connection
type PeerInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type ConnectionManager struct {
	clients map[string]*PeerConnection
	// key: connection ID
	mu       sync.RWMutex
	logger   *slog.Logger
	policy   ConnPolicy
	state    State
	current  PeerInfo // last admitted peer, kept after it disconnects
	accepted uint64
}

// constructor for ConnectionManager
func NewConnectionManager(policy ConnPolicy, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		clients: make(map[string]*PeerConnection),
		logger:  logger,
		policy:  policy,
		state:   StateListening,
	}
}

// AddConnection admits a peer according to the policy.
// Under PolicyShared the previous peer is neither closed nor forgotten by its reader.
func (m *ConnectionManager) AddConnection(client *PeerConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.policy == PolicyExclusive && len(m.clients) > 0 {
		m.logger.Warn("client_rejected",
			"conn_id", client.ID,
			"remote_addr", client.RemoteAddr,
			"active", len(m.clients),
		)
		return ErrPeerBusy
	}

	m.clients[client.ID] = client
	if prev := m.current; m.state == StateConnected && prev.ID != "" {
		m.logger.Debug("tracked_peer_replaced",
			"previous_conn_id", prev.ID,
			"conn_id", client.ID,
		)
	}
	m.current = client.Info()
	m.state = StateConnected
	m.accepted++

	m.logger.Info("client_added",
		"conn_id", client.ID,
		"remote_addr", client.RemoteAddr,
	)
	return nil
}

// RemoveConnection forgets a peer whose reader has finished.
// The listener state stays StateConnected.
func (m *ConnectionManager) RemoveConnection(client *PeerConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client.ID]; !ok {
		return
	}
	delete(m.clients, client.ID)
	m.logger.Info("client_removed",
		"conn_id", client.ID,
	)
}

func (m *ConnectionManager) CloseAllConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, client := range m.clients {
		client.Close()
		m.logger.Info("client_connection_closed",
			"conn_id", id,
		)
	}
	m.clients = make(map[string]*PeerConnection)
}

// Count returns the number of peers whose reader is still running
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CurrentPeer returns the most recently admitted peer
func (m *ConnectionManager) CurrentPeer() (PeerInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.state == StateConnected
}

// Peers returns the active peers ordered by connect time
func (m *ConnectionManager) Peers() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]PeerInfo, 0, len(m.clients))
	for _, c := range m.clients {
		peers = append(peers, c.Info())
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ConnectedAt.Before(peers[j].ConnectedAt)
	})
	return peers
}

// Accepted returns how many peers have been admitted since start
func (m *ConnectionManager) Accepted() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accepted
}

func (m *ConnectionManager) Policy() ConnPolicy {
	return m.policy
}
