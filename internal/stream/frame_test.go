package stream

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildFrame(msgID uint64, ref string, format byte, payload []byte) []byte {
	raw := make([]byte, 0, frameHeaderLen+len(ref)+5+len(payload))
	raw = binary.LittleEndian.AppendUint64(raw, msgID)
	raw = append(raw, 0, 0) // reserved
	raw = append(raw, byte(len(ref)))
	raw = append(raw, ref...)
	raw = append(raw, format)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(len(payload)))
	raw = append(raw, payload...)
	return raw
}

func TestParseFrame(t *testing.T) {
	payload := []byte(`{"Quote":{"Bid":1.0874,"Ask":1.0876}}`)
	raw := buildFrame(42, "EUR_USD_sub", payloadFormatJSON, payload)

	f, err := parseFrame(raw)
	require.NoError(t, err)
	require.EqualValues(t, 42, f.messageID)
	require.Equal(t, "EUR_USD_sub", f.referenceID)
	require.EqualValues(t, payloadFormatJSON, f.payloadFormat)
	require.Equal(t, payload, f.payload)
	require.False(t, f.isControl())
}

func TestParseFrameControl(t *testing.T) {
	raw := buildFrame(1, "_heartbeat", payloadFormatJSON, []byte(`{}`))

	f, err := parseFrame(raw)
	require.NoError(t, err)
	require.True(t, f.isControl())
}

func TestParseFrameTruncated(t *testing.T) {
	full := buildFrame(7, "EUR_USD_sub", payloadFormatJSON, []byte(`{"Quote":{}}`))

	for _, tc := range []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"short header", full[:8]},
		{"cut before payload header", full[:frameHeaderLen+4]},
		{"cut mid payload", full[:len(full)-3]},
	} {
		_, err := parseFrame(tc.raw)
		require.Error(t, err, tc.name)
	}
}

func TestSubscriptionReferenceRoundTrip(t *testing.T) {
	require.Equal(t, "EUR_USD_sub", subscriptionReference("EUR-USD"))
	require.Equal(t, "EUR-USD", symbolFromReference("EUR_USD_sub"))
	require.Equal(t, "USD-JPY", symbolFromReference(subscriptionReference("USD-JPY")))
}
