package udp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RequestType is what a renderer asks of the fan-out server
type RequestType string

const (
	RequestSubscribe   RequestType = "SUBSCRIBE"
	RequestUnsubscribe RequestType = "UNSUBSCRIBE"
	RequestPing        RequestType = "PING"
)

// Request is one datagram sent by a renderer
type Request struct {
	Type       RequestType `json:"type"`
	RendererID string      `json:"renderer_id"`
	Character  string      `json:"character,omitempty"` // required for SUBSCRIBE
}

// ParseRequest decodes and checks a renderer datagram
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.RendererID == "" {
		return nil, errors.New("renderer_id is required")
	}
	switch req.Type {
	case RequestSubscribe:
		if req.Character == "" {
			return nil, errors.New("character is required to subscribe")
		}
	case RequestUnsubscribe, RequestPing:
	default:
		return nil, fmt.Errorf("unknown request type %q", req.Type)
	}
	return &req, nil
}

// DatagramType tags what the server sends to renderers
type DatagramType string

const (
	DatagramBehavior DatagramType = "BEHAVIOR"
	DatagramAck      DatagramType = "ACK"
	DatagramPong     DatagramType = "PONG"
	DatagramError    DatagramType = "ERROR"
)

// Datagram is one server to renderer message
type Datagram struct {
	Type      DatagramType `json:"type"`
	Character string       `json:"character,omitempty"`
	Payload   string       `json:"payload,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

func NewBehaviorDatagram(character, payload string) *Datagram {
	return &Datagram{
		Type:      DatagramBehavior,
		Character: character,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

func (d *Datagram) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}
