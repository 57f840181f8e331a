package protocol

import (
	"encoding/binary"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
)

// EnvelopeOverhead is the number of bytes an envelope frame adds around its
// body: one tag byte, two length bytes, one trailing null.
const EnvelopeOverhead = 4

// EncodeEnvelope wraps body in the data-channel envelope frame:
// [tag][len:u16 LE][body][0].
func EncodeEnvelope(tag byte, body []byte) []byte {
	frame := make([]byte, EnvelopeOverhead+len(body))
	frame[0] = tag
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(body)))
	copy(frame[3:3+len(body)], body)
	frame[3+len(body)] = 0
	return frame
}

// DecodeEnvelope splits an envelope frame back into its tag and body,
// validating that the declared length and the trailing null agree with the
// frame's actual size.
func DecodeEnvelope(frame []byte) (tag byte, body []byte, err error) {
	if len(frame) < EnvelopeOverhead {
		return 0, nil, errors.New(errors.ErrCodeValidationFailed, "envelope frame shorter than the 4-byte header")
	}

	tag = frame[0]
	length := int(binary.LittleEndian.Uint16(frame[1:3]))
	if len(frame) != EnvelopeOverhead+length {
		return 0, nil, errors.New(errors.ErrCodeValidationFailed, "envelope frame length does not match declared body length")
	}
	if frame[len(frame)-1] != 0 {
		return 0, nil, errors.New(errors.ErrCodeValidationFailed, "envelope frame missing trailing null terminator")
	}

	body = frame[3 : 3+length]
	return tag, body, nil
}
