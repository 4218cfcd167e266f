package udp

import (
	"net"
	"sync"
	"time"
)

// Subscriber is a renderer listening for one character
type Subscriber struct {
	RendererID string
	Character  string
	Addr       *net.UDPAddr
	LastSeen   time.Time
}

// SubscriberManager tracks renderers by ID
type SubscriberManager struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // rendererID -> Subscriber
	timeout     time.Duration
}

func NewSubscriberManager(timeout time.Duration) *SubscriberManager {
	return &SubscriberManager{
		subscribers: make(map[string]*Subscriber),
		timeout:     timeout,
	}
}

// Add registers a renderer, replacing an earlier subscription with the same ID
func (sm *SubscriberManager) Add(rendererID, character string, addr *net.UDPAddr) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.subscribers[rendererID] = &Subscriber{
		RendererID: rendererID,
		Character:  character,
		Addr:       addr,
		LastSeen:   time.Now(),
	}
}

func (sm *SubscriberManager) Remove(rendererID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	_, ok := sm.subscribers[rendererID]
	delete(sm.subscribers, rendererID)
	return ok
}

// Touch refreshes the last seen time, reporting whether the renderer is known
func (sm *SubscriberManager) Touch(rendererID string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sub, ok := sm.subscribers[rendererID]
	if ok {
		sub.LastSeen = time.Now()
	}
	return ok
}

// ForCharacter returns copies of the subscribers for one character
func (sm *SubscriberManager) ForCharacter(character string) []Subscriber {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var subs []Subscriber
	for _, sub := range sm.subscribers {
		if sub.Character == character {
			subs = append(subs, *sub)
		}
	}
	return subs
}

// CleanupInactive drops renderers not heard from within the timeout
func (sm *SubscriberManager) CleanupInactive() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, sub := range sm.subscribers {
		if now.Sub(sub.LastSeen) > sm.timeout {
			delete(sm.subscribers, id)
			removed++
		}
	}
	return removed
}

func (sm *SubscriberManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}

// StartCleanupRoutine runs CleanupInactive every interval until done is closed
func (sm *SubscriberManager) StartCleanupRoutine(interval time.Duration, done <-chan struct{}, onRemoved func(int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := sm.CleanupInactive(); n > 0 && onRemoved != nil {
				onRemoved(n)
			}
		case <-done:
			return
		}
	}
}
