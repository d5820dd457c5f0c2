// Package verify reads written batches back through a pipelined
// connection and checks them byte-for-byte against the in-memory
// originals.
package verify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/kvbench/kvbench/internal/backend"
	"github.com/kvbench/kvbench/internal/errors"
	"github.com/kvbench/kvbench/internal/record"
	"github.com/kvbench/kvbench/internal/serializer"
)

// Verifier checks stored records against their in-memory originals. Any
// mismatch is a correctness failure, not a degraded-mode condition, so
// every check returns a verify error rather than a partial report.
type Verifier struct {
	b backend.Backend
}

// NewVerifier creates a verifier over the given backend.
func NewVerifier(b backend.Backend) *Verifier {
	return &Verifier{b: b}
}

// Verify reads back every value stored for the transaction and compares
// it against the batch that was written. The membership query runs on a
// pipelined connection; record bodies are then fetched and decoded. It
// returns the verified ids in query order.
//
// Checks, in order: set cardinality equals the batch size, every stored
// id has an in-memory original, decoded payload lengths match, decoded
// payload bytes match.
func (v *Verifier) Verify(ctx context.Context, tid string, batch []*record.Value) ([]string, error) {
	conn := v.b.Pipeline()
	conn.QueryIndexSet(record.ValueKeyspace, record.IndexFieldTID, tid)
	results, err := conn.Flush(ctx)
	if err != nil {
		return nil, err
	}
	members := results[0].Members

	if len(members) != len(batch) {
		return nil, errors.NewVerifyError(errors.CodeCardinality,
			fmt.Sprintf("transaction %s holds %d stored values, expected %d", tid, len(members), len(batch)))
	}

	originals := make(map[string]*record.Value, len(batch))
	for _, val := range batch {
		originals[val.ID] = val
	}

	verified := make([]string, 0, len(members))
	for _, id := range members {
		data, err := v.b.Get(ctx, record.ValueKeyspace, id)
		if err != nil {
			return nil, err
		}
		var stored record.Value
		if err := record.Unmarshal(data, &stored); err != nil {
			return nil, err
		}

		original, ok := originals[id]
		if !ok {
			return nil, errors.NewVerifyError(errors.CodeMissingRecord,
				fmt.Sprintf("stored value %s has no in-memory original", id))
		}

		want, err := decodePayload(original)
		if err != nil {
			return nil, err
		}
		got, err := decodePayload(&stored)
		if err != nil {
			return nil, err
		}

		if len(got) != len(want) {
			return nil, errors.NewVerifyError(errors.CodeLengthMismatch,
				fmt.Sprintf("value %s: stored payload is %d bytes, expected %d", id, len(got), len(want)))
		}
		// Cheap hash comparison first; bytes.Equal confirms on match.
		if murmur3.Sum64(got) != murmur3.Sum64(want) || !bytes.Equal(got, want) {
			return nil, errors.NewVerifyError(errors.CodeContentMismatch,
				fmt.Sprintf("value %s: stored payload differs from original", id))
		}
		verified = append(verified, id)
	}
	return verified, nil
}

// decodePayload extracts and decodes the single populated payload slot.
func decodePayload(v *record.Value) ([]byte, error) {
	encoded, typ, err := v.Payload()
	if err != nil {
		return nil, err
	}
	s, err := serializer.ForType(typ)
	if err != nil {
		return nil, err
	}
	return s.Decode(encoded)
}
