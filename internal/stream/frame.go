package stream

import (
	"encoding/binary"
	"fmt"
)

// The streaming endpoint frames every message in a binary envelope:
//
//	bytes 0..7   message id, little-endian
//	bytes 8..9   reserved
//	byte  10     reference-id length n
//	bytes 11..10+n  reference id, ASCII
//	byte  11+n   payload format (0 = JSON)
//	bytes 12+n..15+n payload length m, little-endian
//	bytes 16+n..15+n+m payload
const (
	frameHeaderLen    = 11
	payloadFormatJSON = 0
)

type frame struct {
	messageID     uint64
	referenceID   string
	payloadFormat byte
	payload       []byte
}

// isControl reports whether the frame is a control message (heartbeats,
// subscription resets) rather than a price update.
func (f frame) isControl() bool {
	return len(f.referenceID) > 0 && f.referenceID[0] == '_'
}

// parseFrame decodes one binary envelope. Truncated envelopes are errors;
// the receive loop logs and skips them.
func parseFrame(raw []byte) (frame, error) {
	if len(raw) < frameHeaderLen {
		return frame{}, fmt.Errorf("frame too short: %d bytes", len(raw))
	}

	refLen := int(raw[10])
	metaEnd := frameHeaderLen + refLen + 5
	if len(raw) < metaEnd {
		return frame{}, fmt.Errorf("frame truncated before payload header: %d bytes, ref len %d", len(raw), refLen)
	}

	payloadLen := int(binary.LittleEndian.Uint32(raw[frameHeaderLen+refLen+1 : metaEnd]))
	if len(raw) < metaEnd+payloadLen {
		return frame{}, fmt.Errorf("frame truncated: want %d payload bytes, have %d", payloadLen, len(raw)-metaEnd)
	}

	return frame{
		messageID:     binary.LittleEndian.Uint64(raw[0:8]),
		referenceID:   string(raw[frameHeaderLen : frameHeaderLen+refLen]),
		payloadFormat: raw[frameHeaderLen+refLen],
		payload:       raw[metaEnd : metaEnd+payloadLen],
	}, nil
}
