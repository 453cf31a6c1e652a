// Package changefeed delivers row-level change records for the orders,
// reservations and users tables.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/restaurant-liveops/pkg/enums"
	pkgerrors "github.com/angelmondragon/restaurant-liveops/pkg/errors"
	"github.com/angelmondragon/restaurant-liveops/pkg/outbox"
)

// RawChange is a single change record as emitted by the source. Operation and
// row snapshots are left unvalidated; the events normalizer owns that.
type RawChange struct {
	EventID    string
	Stream     enums.Stream
	Operation  enums.ChangeOperation
	Old        json.RawMessage
	New        json.RawMessage
	OccurredAt time.Time
}

// Handler receives changes for one stream. Returning an error asks the source
// to redeliver the record later.
type Handler func(ctx context.Context, change RawChange) error

// Source is a subscribable change feed.
type Source interface {
	// Subscribe blocks delivering changes for stream until ctx is done (nil)
	// or the subscription is lost (non-nil error).
	Subscribe(ctx context.Context, stream enums.Stream, handle Handler) error
	Ping(ctx context.Context) error
}

// FromEnvelope converts a relayed envelope into a RawChange.
func FromEnvelope(env outbox.ChangeEnvelope) (RawChange, error) {
	stream, err := enums.ParseStream(strings.TrimSpace(env.Stream))
	if err != nil {
		return RawChange{}, pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, err, "unknown stream")
	}
	return RawChange{
		EventID:    env.EventID,
		Stream:     stream,
		Operation:  enums.ChangeOperation(strings.ToLower(strings.TrimSpace(env.Operation))),
		Old:        env.Old,
		New:        env.New,
		OccurredAt: env.OccurredAt,
	}, nil
}

// DecodeEnvelope parses a message body produced by the outbox publisher.
func DecodeEnvelope(data []byte) (RawChange, error) {
	var env outbox.ChangeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return RawChange{}, pkgerrors.Wrap(pkgerrors.CodeMalformedEvent, err, "decode change envelope")
	}
	if env.Version > outbox.EnvelopeVersion {
		return RawChange{}, pkgerrors.New(pkgerrors.CodeMalformedEvent, fmt.Sprintf("unsupported envelope version %d", env.Version))
	}
	return FromEnvelope(env)
}
