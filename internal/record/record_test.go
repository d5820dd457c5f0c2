package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvbench/kvbench/internal/serializer"
)

func TestNewTransaction_UniqueIDs(t *testing.T) {
	a := NewTransaction()
	b := NewTransaction()
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestLabelFor(t *testing.T) {
	assert.Equal(t, "even", LabelFor(0))
	assert.Equal(t, "odd", LabelFor(1))
	assert.Equal(t, "even", LabelFor(8))
	assert.Equal(t, "odd", LabelFor(9))
}

func TestNewValue_ExactlyOneSlotPerSerializer(t *testing.T) {
	payload := []byte("some binary payload")

	for _, typ := range []serializer.Type{serializer.Raw, serializer.Structured, serializer.Base64} {
		t.Run(string(typ), func(t *testing.T) {
			s, err := serializer.ForType(typ)
			require.NoError(t, err)

			v, err := NewValue("tx-1", 0, payload, s)
			require.NoError(t, err)

			assert.Equal(t, "tx-1", v.TID)
			assert.Equal(t, "even", v.Label)
			assert.NotEmpty(t, v.ID)

			populated := 0
			for _, slot := range [][]byte{v.Raw, v.Structured, v.Base64} {
				if len(slot) > 0 {
					populated++
				}
			}
			assert.Equal(t, 1, populated, "exactly one payload slot must be populated")

			data, gotType, err := v.Payload()
			require.NoError(t, err)
			assert.Equal(t, typ, gotType)
			assert.Equal(t, len(data), v.PayloadSize())

			// Decoding through the configured encoding restores the payload.
			decoded, err := s.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestPayload_InvariantViolation(t *testing.T) {
	v := &Value{ID: "v1", Raw: []byte("a"), Base64: []byte("YQ==")}
	_, _, err := v.Payload()
	assert.Error(t, err)

	empty := &Value{ID: "v2"}
	_, _, err = empty.Payload()
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	s, err := serializer.ForType(serializer.Base64)
	require.NoError(t, err)
	v, err := NewValue("tx-2", 3, []byte{0x00, 0x01, 0xfe}, s)
	require.NoError(t, err)

	data, err := Marshal(v)
	require.NoError(t, err)

	var got Value
	require.NoError(t, Unmarshal(data, &got))
	assert.Equal(t, *v, got)

	// Absent slots stay absent on the wire.
	assert.NotContains(t, string(data), `"raw"`)
	assert.NotContains(t, string(data), `"structured"`)
}
