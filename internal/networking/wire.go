// Package networking carries encoded frame packets between two endpoints.
//
// The audio core only names a transmit sink and a receive source; this
// package supplies the concrete collaborators: a WebRTC data channel wire
// for real links and a loopback wire for demos and tests. Both attach the
// 16-bit sequence number the jitter buffer orders by.
package networking

import (
	"encoding/binary"
	"errors"
)

// The wire format is the raw frame packet prefixed by its little-endian
// 16-bit sequence number. The payload itself carries no framing; one
// datagram is one callback block.
const sequenceHeaderBytes = 2

var errShortWirePacket = errors.New("wire packet shorter than its sequence header")

// attachSequence writes seq followed by payload into dst, returning the
// framed slice. dst must hold len(payload)+2 bytes.
func attachSequence(dst []byte, seq uint16, payload []byte) []byte {
	binary.LittleEndian.PutUint16(dst, seq)
	n := copy(dst[sequenceHeaderBytes:], payload)
	return dst[:sequenceHeaderBytes+n]
}

// splitSequence separates a framed wire packet into its sequence number
// and payload. The payload aliases the input.
func splitSequence(wirePacket []byte) (uint16, []byte, error) {
	if len(wirePacket) < sequenceHeaderBytes {
		return 0, nil, errShortWirePacket
	}
	seq := binary.LittleEndian.Uint16(wirePacket)
	return seq, wirePacket[sequenceHeaderBytes:], nil
}
