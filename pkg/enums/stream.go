package enums

import "fmt"

// Stream names a table observed by the change feed.
type Stream string

const (
	StreamOrders       Stream = "orders"
	StreamReservations Stream = "reservations"
	StreamUsers        Stream = "users"
)

var validStreams = []Stream{
	StreamOrders,
	StreamReservations,
	StreamUsers,
}

// Streams returns every observed stream in a stable order.
func Streams() []Stream {
	out := make([]Stream, len(validStreams))
	copy(out, validStreams)
	return out
}

func (s Stream) String() string {
	return string(s)
}

func (s Stream) IsValid() bool {
	for _, candidate := range validStreams {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseStream(value string) (Stream, error) {
	for _, candidate := range validStreams {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stream %q", value)
}

// ChangeOperation is the row-level operation reported by the change feed.
type ChangeOperation string

const (
	ChangeOperationInsert ChangeOperation = "insert"
	ChangeOperationUpdate ChangeOperation = "update"
)

func (o ChangeOperation) IsValid() bool {
	return o == ChangeOperationInsert || o == ChangeOperationUpdate
}

func ParseChangeOperation(value string) (ChangeOperation, error) {
	op := ChangeOperation(value)
	if !op.IsValid() {
		return "", fmt.Errorf("invalid change operation %q", value)
	}
	return op, nil
}
