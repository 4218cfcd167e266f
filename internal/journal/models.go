package journal

import (
	"strings"
	"time"

	"beatrelay/internal/microservices/tcp"
)

// column limits of DispatchRecord, in characters
const (
	connIDSize     = 64
	peerSize       = 128
	routingKeySize = 255
)

// DispatchRecord is one persisted dispatch outcome
type DispatchRecord struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	ConnID       string    `gorm:"size:64;index" json:"conn_id"`
	Peer         string    `gorm:"size:128" json:"peer"`
	RoutingKey   string    `gorm:"size:255;index" json:"routing_key"`
	Payload      string    `gorm:"type:text" json:"payload"`
	Outcome      string    `gorm:"size:32;not null;index" json:"outcome"`
	Error        string    `gorm:"type:text" json:"error,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
	DispatchedAt time.Time `gorm:"index" json:"dispatched_at"`
	DurationUS   int64     `json:"duration_us"`
}

func (DispatchRecord) TableName() string {
	return "dispatch_records"
}

// OutcomeCount is one row of the per-outcome summary
type OutcomeCount struct {
	Outcome string `json:"outcome"`
	Count   int64  `json:"count"`
}

func fromRecord(id string, rec tcp.Record) *DispatchRecord {
	out := &DispatchRecord{
		ID:           id,
		ConnID:       cleanText(rec.ConnID, connIDSize),
		Peer:         cleanText(rec.Peer, peerSize),
		RoutingKey:   cleanText(rec.Key, routingKeySize),
		Payload:      cleanText(rec.Payload, 0),
		Outcome:      string(rec.Outcome),
		ReceivedAt:   rec.ReceivedAt,
		DispatchedAt: rec.DispatchedAt,
		DurationUS:   rec.Duration.Microseconds(),
	}
	if rec.Err != nil {
		out.Error = cleanText(rec.Err.Error(), 0)
	}
	return out
}

// cleanText turns wire bytes into something Postgres accepts: valid UTF-8,
// no NUL, and at most maxChars characters when maxChars > 0
func cleanText(s string, maxChars int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
