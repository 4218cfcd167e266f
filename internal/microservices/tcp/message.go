package tcp

import (
	"bytes"
	"errors"
	"time"
)

// Delimiter separates the routing key from the behavior payload on the wire
const Delimiter = "|BEAT|"

var ErrMalformedMessage = errors.New("message has no routing delimiter")

// Message is one parsed wire message: <Key>|BEAT|<Payload>
type Message struct {
	Key     string
	Payload string
}

// ParseMessage splits raw on the first Delimiter.
// Anything after the first delimiter, including further delimiters, is payload.
func ParseMessage(raw []byte) (Message, error) {
	idx := bytes.Index(raw, []byte(Delimiter))
	if idx < 0 {
		return Message{}, ErrMalformedMessage
	}
	return Message{
		Key:     string(raw[:idx]),
		Payload: string(raw[idx+len(Delimiter):]),
	}, nil
}

// Encode renders the message in wire form without any terminator
func (m Message) Encode() []byte {
	buf := make([]byte, 0, len(m.Key)+len(Delimiter)+len(m.Payload))
	buf = append(buf, m.Key...)
	buf = append(buf, Delimiter...)
	buf = append(buf, m.Payload...)
	return buf
}

// Inbound is raw data read from one connection, waiting for the next tick
type Inbound struct {
	ConnID     string
	Peer       string
	Data       []byte
	ReceivedAt time.Time
}
