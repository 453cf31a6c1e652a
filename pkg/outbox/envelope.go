package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/restaurant-liveops/pkg/db/models"
)

// EnvelopeVersion is bumped whenever ChangeEnvelope changes shape.
const EnvelopeVersion = 1

// Message attribute keys attached to every relayed change.
const (
	AttrEventID   = "event_id"
	AttrStream    = "stream"
	AttrOperation = "operation"
	AttrEntityID  = "entity_id"
	AttrVersion   = "version"
)

// ChangeEnvelope is the message body relayed to the per-stream topics.
type ChangeEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	Stream     string          `json:"stream"`
	Operation  string          `json:"operation"`
	EntityID   string          `json:"entityId"`
	Old        json.RawMessage `json:"old,omitempty"`
	New        json.RawMessage `json:"new"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// EnvelopeFromEvent converts a captured change row into its wire envelope.
func EnvelopeFromEvent(event models.ChangeEvent) ChangeEnvelope {
	env := ChangeEnvelope{
		Version:    EnvelopeVersion,
		EventID:    event.ID.String(),
		Stream:     string(event.Stream),
		Operation:  string(event.Operation),
		EntityID:   event.EntityID.String(),
		New:        event.NewRow,
		OccurredAt: event.OccurredAt.UTC(),
	}
	if len(event.OldRow) > 0 && string(event.OldRow) != "null" {
		env.Old = event.OldRow
	}
	return env
}

// Attributes returns the Pub/Sub attributes for the envelope.
func (e ChangeEnvelope) Attributes() map[string]string {
	return map[string]string{
		AttrEventID:   e.EventID,
		AttrStream:    e.Stream,
		AttrOperation: e.Operation,
		AttrEntityID:  e.EntityID,
		AttrVersion:   fmt.Sprint(e.Version),
	}
}
