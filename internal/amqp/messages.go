package amqp

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExpenseDecidedMessage is a lightweight decision event: only the expense ID
// and the decision travel on the wire, the worker fetches the full record
// from the database.
type ExpenseDecidedMessage struct {
	ID        string    `json:"id"`
	Decision  string    `json:"decision"` // "approved" or "rejected"
	DecidedAt time.Time `json:"decided_at"`
}

func NewExpenseDecidedMessage(id, decision string) *ExpenseDecidedMessage {
	return &ExpenseDecidedMessage{
		ID:        id,
		Decision:  decision,
		DecidedAt: time.Now(),
	}
}

func (m *ExpenseDecidedMessage) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("decision message missing expense id")
	}
	if m.Decision != "approved" && m.Decision != "rejected" {
		return fmt.Errorf("unknown decision %q", m.Decision)
	}
	return nil
}

func (m *ExpenseDecidedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExpenseDecidedMessageFromJSON(data []byte) (*ExpenseDecidedMessage, error) {
	var msg ExpenseDecidedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
