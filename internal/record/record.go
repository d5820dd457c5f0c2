// Package record defines the benchmark entities and the pure record
// encoder that wraps raw payloads for persistence.
package record

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kvbench/kvbench/internal/errors"
	"github.com/kvbench/kvbench/internal/serializer"
)

// Keyspaces, one per logical entity type.
const (
	TransactionKeyspace = "transaction"
	ValueKeyspace       = "transaction_value"
	KeyKeyspace         = "transaction_key"
)

// IndexFieldTID is the secondary-index field name associating entities
// with their owning transaction.
const IndexFieldTID = "tid"

// Transaction is the identity-only entity created once per benchmark run.
// It is immutable after creation.
type Transaction struct {
	ID string `json:"id"`
}

// NewTransaction creates a transaction with a generated opaque identifier.
func NewTransaction() *Transaction {
	return &Transaction{ID: uuid.NewString()}
}

// Value is a binary record owned by a transaction. Exactly one of the
// three payload slots is populated, matching the serializer type chosen
// at encode time; the other two stay empty.
type Value struct {
	ID         string `json:"id"`
	TID        string `json:"tid"`
	Label      string `json:"label"`
	Raw        []byte `json:"raw,omitempty"`
	Structured []byte `json:"structured,omitempty"`
	Base64     []byte `json:"base64,omitempty"`
}

// Key is the lighter-weight key-only entity used by the multi-query
// pipelined read test.
type Key struct {
	ID  string `json:"id"`
	TID string `json:"tid"`
}

// NewKey creates a key entity owned by the given transaction.
func NewKey(tid string) *Key {
	return &Key{ID: uuid.NewString(), TID: tid}
}

// NewValue encodes one raw payload into a Value. The label is derived from
// the batch position parity and the encoded payload lands in the slot
// matching the serializer type. Pure and side-effect-free apart from id
// generation.
func NewValue(tid string, index int, payload []byte, s serializer.Serializer) (*Value, error) {
	encoded, err := s.Encode(payload)
	if err != nil {
		return nil, err
	}

	v := &Value{
		ID:    uuid.NewString(),
		TID:   tid,
		Label: LabelFor(index),
	}
	switch s.Type() {
	case serializer.Raw:
		v.Raw = encoded
	case serializer.Structured:
		v.Structured = encoded
	case serializer.Base64:
		v.Base64 = encoded
	default:
		return nil, errors.NewValidationError(errors.CodeUnknownSerializer,
			fmt.Sprintf("unknown serializer type %q", s.Type()))
	}
	return v, nil
}

// LabelFor derives the classification label from batch position parity.
func LabelFor(index int) string {
	if index%2 == 0 {
		return "even"
	}
	return "odd"
}

// Payload returns the populated payload slot and its encoding type.
// An error is returned when the exactly-one-populated invariant is broken.
func (v *Value) Payload() ([]byte, serializer.Type, error) {
	var (
		data []byte
		typ  serializer.Type
		n    int
	)
	if len(v.Raw) > 0 {
		data, typ = v.Raw, serializer.Raw
		n++
	}
	if len(v.Structured) > 0 {
		data, typ = v.Structured, serializer.Structured
		n++
	}
	if len(v.Base64) > 0 {
		data, typ = v.Base64, serializer.Base64
		n++
	}
	if n != 1 {
		return nil, "", errors.NewInternalError(
			fmt.Sprintf("record %s has %d populated payload slots, want exactly 1", v.ID, n), nil)
	}
	return data, typ, nil
}

// PayloadSize returns the stored (encoded) payload length in bytes.
func (v *Value) PayloadSize() int {
	return len(v.Raw) + len(v.Structured) + len(v.Base64)
}

// Marshal encodes an entity into its storage envelope.
func Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("envelope marshal failed", err)
	}
	return data, nil
}

// Unmarshal decodes a storage envelope into an entity.
func Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewInternalError("envelope unmarshal failed", err)
	}
	return nil
}
