package networking

import (
	"github.com/crosswire-audio/crosswire/pkg/jitterbuffer"
)

// LoopbackWire short-circuits the transmit path into a local jitter
// buffer: every packet handed to Send is stamped with the next sequence
// number and pushed straight to the receiver.
//
// It stands in for the network when two endpoints live in one process, and
// lets tests and demos inject loss or reordering through the Impair hook.
type LoopbackWire struct {
	buffer jitterbuffer.Buffer
	seq    uint16
	sent   bool

	// Impair, when non-nil, is consulted for every packet with its
	// sequence number; returning false drops the packet on the floor the
	// way a congested link would.
	Impair func(seq uint16) bool
}

// NewLoopbackWire creates a wire that delivers into the given buffer.
func NewLoopbackWire(buffer jitterbuffer.Buffer) *LoopbackWire {
	return &LoopbackWire{buffer: buffer}
}

// Send implements the orchestrator's transmit sink. Called from the input
// callback; pushing into the jitter buffer is a short critical section, so
// the callback never blocks meaningfully.
func (w *LoopbackWire) Send(packet []byte) {
	seq := w.nextSeq()
	if w.Impair != nil && !w.Impair(seq) {
		return
	}
	w.buffer.Push(packet, seq)
}

func (w *LoopbackWire) nextSeq() uint16 {
	if !w.sent {
		w.sent = true
		w.seq = 0
		return 0
	}
	w.seq++
	return w.seq
}
