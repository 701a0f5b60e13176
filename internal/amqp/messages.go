package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Entry event operations carried on the routing payload.
const (
	OpEntryCreated      = "entry.created"
	OpEntryUpdated      = "entry.updated"
	OpEntryDeleted      = "entry.deleted"
	OpEntryMaterialized = "entry.materialized"
)

// EntryEventMessage is a lightweight change notification: it carries ids
// only, downstream consumers fetch the full entry themselves. EventID makes
// redeliveries detectable.
type EntryEventMessage struct {
	EventID   string    `json:"event_id"`
	Op        string    `json:"op"`
	EntryID   int64     `json:"entry_id"`
	AccountID int64     `json:"account_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEntryEventMessage(op string, entryID, accountID int64) *EntryEventMessage {
	return &EntryEventMessage{
		EventID:   uuid.NewString(),
		Op:        op,
		EntryID:   entryID,
		AccountID: accountID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *EntryEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EntryEventMessageFromJSON parses a message from JSON bytes.
func EntryEventMessageFromJSON(data []byte) (*EntryEventMessage, error) {
	var msg EntryEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
