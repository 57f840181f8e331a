// Package rtpheader encodes and decodes the bridge's RTP routing extension:
// a fixed-format block, carried immediately after the RTP fixed header, that
// the bridge multiplexer uses to demultiplex UDP packets to the correct
// per-endpoint track or data channel.
//
// The reference source's offset handling is ambiguous about whether a
// standard RFC 5285 extension may already be present ahead of the routing
// block (see the open question in the design notes this package was built
// against). This package resolves it by reading the RTP fixed header with
// pion/rtp (honoring the CSRC count so the offset is correct even with
// contributing sources present) and then treating the routing block as an
// application-defined, non-RFC-5285 extension occupying the position a
// one-byte-profile extension header would: 2 bytes profile id, 2 bytes
// length, followed directly by the 8-byte payload. It does not attempt to
// coexist with a genuine RFC 5285 extension on the same packet — profile id
// 0x0683 is never a valid RFC 5285 profile, so a packet carrying both is out
// of scope, as the source never produces one.
package rtpheader

import (
	"encoding/binary"

	"github.com/pion/rtp"

	"github.com/dhelmrich/UnrealReceiver/pkg/errors"
)

// ExtensionProfileID identifies the routing block among RTP extension
// profile ids. 1667 decimal.
const ExtensionProfileID = 0x0683

// PayloadLength is the size in bytes of the routing block's payload, not
// counting the 4-byte profile/length prefix.
const PayloadLength = 8

// BlockLength is the total size in bytes of the profile/length prefix plus
// payload.
const BlockLength = 4 + PayloadLength

// Routing is the decoded {player_id, streamer_id, meta} routing payload.
type Routing struct {
	PlayerID   uint16
	StreamerID uint16
	Meta       uint32
}

// Encode serializes r as the 12-byte little-endian routing block, including
// its profile id and length prefix. The length field carries the payload's
// byte length (8), matching the reference struct's `length{8}` literally
// rather than RFC 5285's length-in-32-bit-words convention, which the
// reference does not follow.
func Encode(r Routing) []byte {
	buf := make([]byte, BlockLength)
	binary.LittleEndian.PutUint16(buf[0:2], ExtensionProfileID)
	binary.LittleEndian.PutUint16(buf[2:4], PayloadLength)
	binary.LittleEndian.PutUint16(buf[4:6], r.PlayerID)
	binary.LittleEndian.PutUint16(buf[6:8], r.StreamerID)
	binary.LittleEndian.PutUint32(buf[8:12], r.Meta)
	return buf
}

// Decode parses a 12-byte routing block. It does not validate the profile
// id; callers that need to confirm the block is a routing block rather than
// arbitrary bytes should check ProfileID first.
func Decode(block []byte) (Routing, error) {
	if len(block) < BlockLength {
		return Routing{}, errors.New(errors.ErrCodeValidationFailed, "routing block shorter than 12 bytes")
	}
	return Routing{
		PlayerID:   binary.LittleEndian.Uint16(block[4:6]),
		StreamerID: binary.LittleEndian.Uint16(block[6:8]),
		Meta:       binary.LittleEndian.Uint32(block[8:12]),
	}, nil
}

// ProfileID reads the profile id prefixing a routing block.
func ProfileID(block []byte) (uint16, error) {
	if len(block) < 4 {
		return 0, errors.New(errors.ErrCodeValidationFailed, "routing block shorter than 4 bytes")
	}
	return binary.LittleEndian.Uint16(block[0:2]), nil
}

// Offset returns the byte offset of the routing block within packet: the
// size of the RTP fixed header (including any CSRC identifiers) as reported
// by pion/rtp. Packets shorter than the RTP fixed header (12 bytes) are
// rejected.
func Offset(packet []byte) (int, error) {
	if len(packet) < 12 {
		return 0, errors.New(errors.ErrCodeValidationFailed, "packet shorter than RTP fixed header")
	}

	var header rtp.Header
	n, err := header.Unmarshal(packet)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeValidationFailed, "failed to parse RTP fixed header", err)
	}
	return n, nil
}

// ReadRouting locates and decodes the routing block within packet.
func ReadRouting(packet []byte) (Routing, error) {
	offset, err := Offset(packet)
	if err != nil {
		return Routing{}, err
	}
	if len(packet) < offset+BlockLength {
		return Routing{}, errors.New(errors.ErrCodeValidationFailed, "packet too short for routing block")
	}
	return Decode(packet[offset : offset+BlockLength])
}

// RewritePlayerID overwrites the player_id field of packet's routing block
// in place with id, as the bridge does before forwarding an outbound
// datagram. packet must already contain a well-formed routing block.
func RewritePlayerID(packet []byte, id uint16) error {
	offset, err := Offset(packet)
	if err != nil {
		return err
	}
	if len(packet) < offset+BlockLength {
		return errors.New(errors.ErrCodeValidationFailed, "packet too short for routing block")
	}
	binary.LittleEndian.PutUint16(packet[offset+4:offset+6], id)
	return nil
}
