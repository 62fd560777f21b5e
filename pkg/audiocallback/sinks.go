package audiocallback

import "github.com/crosswire-audio/crosswire/pkg/jitterbuffer"

// TransmitSink consumes outbound encoded frame packets.
//
// Send is called from the input callback and must not block: the expected
// implementation enqueues into a single-producer/single-consumer queue
// drained by the network transmit goroutine.
type TransmitSink interface {
	Send(packet []byte)
}

// ReceiveSource supplies inbound encoded frame packets.
//
// Receive is called from the output callback and must not block. It fills
// out with the next pending packet, a concealed packet, or silence; it
// never fails.
type ReceiveSource interface {
	Receive(out []byte)
}

// JitterSource adapts a jitter buffer to the ReceiveSource contract. The
// network receive goroutine pushes into the buffer; the output callback
// pulls through this adapter.
type JitterSource struct {
	Buffer jitterbuffer.Buffer
}

func (s JitterSource) Receive(out []byte) {
	s.Buffer.Pull(out)
}
