package networking

import (
	"context"
	"log/slog"
	"time"

	"github.com/crosswire-audio/crosswire/internal/spscqueue"
	"github.com/crosswire-audio/crosswire/pkg/jitterbuffer"
	"github.com/pion/webrtc/v4"
)

// Capacity of the queue between the input callback and the transmit
// goroutine, in packets. Deep enough to ride out scheduler hiccups on the
// transmit goroutine; a full queue drops the newest packet, which the far
// end conceals like any other loss.
const transmitQueueCapacity = 64

// How long the transmit goroutine sleeps when it finds the queue empty.
// One packet is at least 16 frames at 192kHz, about 83 microseconds.
const transmitIdleSleep = 50 * time.Microsecond

// DataChannelWire carries frame packets over an unreliable, unordered
// WebRTC data channel, which gives datagram semantics across NATs without
// this package owning any socket handling.
//
// The transmit half implements the orchestrator's TransmitSink: Send
// enqueues into a lock-free single-producer/single-consumer queue, and a
// dedicated goroutine drains the queue onto the data channel with the
// sequence header attached. The receive half subscribes to the channel's
// messages and pushes each packet into the jitter buffer from the
// handler's goroutine.
type DataChannelWire struct {
	logger *slog.Logger

	dataChannel *webrtc.DataChannel
	buffer      jitterbuffer.Buffer

	transmitQueue *spscqueue.Queue
	packetBytes   int
	seq           uint16
	sent          bool

	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewDataChannelWire binds a wire to an open data channel.
//
// packetBytes is the fixed frame packet size for the session; buffer is
// the local receive-side jitter buffer. The caller should create the data
// channel with ordered=false and maxRetransmits=0 so the channel behaves
// like a datagram socket.
//
// logger allows for a child logger to be used specifically for this wire.
// If no logger is given, slog.Default() is used.
func NewDataChannelWire(
	dataChannel *webrtc.DataChannel,
	packetBytes int,
	buffer jitterbuffer.Buffer,
	logger *slog.Logger,
) *DataChannelWire {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	wire := &DataChannelWire{
		logger:        logger,
		dataChannel:   dataChannel,
		buffer:        buffer,
		transmitQueue: spscqueue.New(transmitQueueCapacity, packetBytes),
		packetBytes:   packetBytes,
		ctx:           ctx,
		ctxCancel:     ctxCancel,
	}

	dataChannel.OnMessage(func(msg webrtc.DataChannelMessage) {
		wire.receive(msg.Data)
	})

	go wire.transmitLoop()

	return wire
}

// Send implements the orchestrator's transmit sink. Called from the
// real-time input callback: the packet is copied into the transmit queue
// and the callback returns immediately. A full queue drops the packet.
func (w *DataChannelWire) Send(packet []byte) {
	if !w.transmitQueue.Push(packet) {
		// Dropped; the far end's concealment covers it. Logging here
		// would be a hot-path allocation, so the drop is silent.
		return
	}
}

// Close stops the transmit goroutine. The data channel itself belongs to
// the session layer and is not closed here.
func (w *DataChannelWire) Close() {
	w.ctxCancel()
}

// transmitLoop drains the queue onto the data channel, attaching the
// sequence header to each packet.
func (w *DataChannelWire) transmitLoop() {
	framed := make([]byte, sequenceHeaderBytes+w.packetBytes)
	packet := make([]byte, w.packetBytes)
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if !w.transmitQueue.Pop(packet) {
			time.Sleep(transmitIdleSleep)
			continue
		}

		seq := w.nextSeq()
		if err := w.dataChannel.Send(attachSequence(framed, seq, packet)); err != nil {
			w.logger.Error(
				"error while sending packet on data channel",
				"err", err,
				"seq", seq,
			)
		}
	}
}

func (w *DataChannelWire) nextSeq() uint16 {
	if !w.sent {
		w.sent = true
		w.seq = 0
		return 0
	}
	w.seq++
	return w.seq
}

// receive runs on the data channel's handler goroutine for every inbound
// message: strip the header, push into the jitter buffer.
func (w *DataChannelWire) receive(wirePacket []byte) {
	seq, payload, err := splitSequence(wirePacket)
	if err != nil {
		w.logger.Error(
			"error while splitting inbound wire packet",
			"err", err,
			"len", len(wirePacket),
		)
		return
	}
	if len(payload) != w.packetBytes {
		w.logger.Error(
			"inbound packet has unexpected payload size",
			"len", len(payload),
			"packetBytes", w.packetBytes,
			"seq", seq,
		)
		return
	}
	w.buffer.Push(payload, seq)
}
