package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventTypeList is a JSON-encoded string set stored in a single column.
type EventTypeList []string

func (l EventTypeList) Contains(eventType string) bool {
	for _, t := range l {
		if t == eventType {
			return true
		}
	}
	return false
}

func (l EventTypeList) Value() (driver.Value, error) {
	if l == nil {
		l = EventTypeList{}
	}
	return json.Marshal(l)
}

func (l *EventTypeList) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	case nil:
		*l = nil
		return nil
	default:
		return fmt.Errorf("event type list: unsupported scan type %T", src)
	}
}

// WebhookSubscription is a subscriber endpoint for domain events. The secret
// is a signing capability: it is handed to the signer and never serialized
// back out.
type WebhookSubscription struct {
	ID          int64         `db:"id"`
	WorkspaceID int64         `db:"workspace_id"`
	URL         string        `db:"url"`
	Secret      string        `db:"secret" json:"-"`
	EventTypes  EventTypeList `db:"event_types"`
	Active      bool          `db:"active"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}
