package jitterbuffer

import (
	"log/slog"
	"sync"
	"time"
)

// queueBuffer is the baseline strategy: a fixed ring of packet slots pulled
// in strict arrival order.
//
// It bounds latency to exactly QueueLength packets and tolerates reordering
// only as far as the sender reorders within the ring. An empty queue is
// filled per the underrun policy; a full queue discards its oldest packet
// to admit the newest.
type queueBuffer struct {
	mu sync.Mutex

	logger *slog.Logger

	packetBytes int
	slots       [][]byte
	readIdx     int
	occupied    int

	underrunPolicy UnderrunPolicyEnum
	lastPacket     []byte
	haveLast       bool
	zeros          []byte

	lastSeqIn   int
	queueLength int
	lost        uint64
	glitches    uint64

	now   func() time.Duration
	stats *intervalStats
}

func newQueueBuffer(cfg Config) *queueBuffer {
	packetBytes := cfg.Geometry.PacketBytes()
	slots := make([][]byte, cfg.QueueLength)
	for i := range slots {
		slots[i] = make([]byte, packetBytes)
	}
	policy := cfg.UnderrunPolicy
	if policy == "" {
		policy = UnderrunPolicyZeros
	}
	return &queueBuffer{
		logger:         cfg.Logger,
		packetBytes:    packetBytes,
		slots:          slots,
		underrunPolicy: policy,
		lastPacket:     make([]byte, packetBytes),
		zeros:          make([]byte, packetBytes),
		lastSeqIn:      -1,
		queueLength:    cfg.QueueLength,
		now:            cfg.Now,
		stats:          newIntervalStats(cfg.SampleRate / cfg.Geometry.FramesPerBlock),
	}
}

func (b *queueBuffer) Push(packet []byte, seq uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastSeqIn != -1 {
		if adv := seqAdvance(uint16(b.lastSeqIn), seq); adv > 1 {
			b.lost += uint64(adv - 1)
			b.logger.Debug(
				"lost packet detected on push",
				"seq", seq,
				"lastSeqIn", b.lastSeqIn,
				"gap", adv-1,
			)
		}
	}
	b.lastSeqIn = int(seq)
	b.stats.tick(b.now())

	if b.occupied == len(b.slots) {
		// Full: discard the oldest to admit the newest.
		b.readIdx = (b.readIdx + 1) % len(b.slots)
		b.occupied--
	}
	writeIdx := (b.readIdx + b.occupied) % len(b.slots)
	copy(b.slots[writeIdx], packet)
	b.occupied++
	return true
}

func (b *queueBuffer) Pull(out []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.occupied == 0 {
		b.glitches++
		if b.underrunPolicy == UnderrunPolicyReplayLast && b.haveLast {
			copy(out, b.lastPacket)
		} else {
			copy(out, b.zeros)
		}
		return
	}

	copy(out, b.slots[b.readIdx])
	copy(b.lastPacket, b.slots[b.readIdx])
	b.haveLast = true
	b.readIdx = (b.readIdx + 1) % len(b.slots)
	b.occupied--
}

func (b *queueBuffer) SnapshotStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{
		Glitches:    b.glitches,
		Lost:        b.lost,
		QueueLength: b.queueLength,
	}
	b.stats.snapshotInto(&stats)
	return stats
}
