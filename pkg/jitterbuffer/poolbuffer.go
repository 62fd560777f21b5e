package jitterbuffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/crosswire-audio/crosswire/pkg/codec"
	"github.com/crosswire-audio/crosswire/pkg/frame"
)

// The concealment history covers roughly this many samples regardless of
// block size; the packet count is clamped to keep a lid on CPU load.
const (
	concealmentHistorySamples = 192
	minHistPackets            = 2
	maxHistPackets            = 6
)

// poolBuffer is the concealing strategy: packets are stored by sequence
// number rather than arrival order, and pulls select by deadline so the
// output clock never stalls.
//
// Push inserts out-of-order packets into the slot addressed by the
// sequence number, unwrapped past the 16-bit modulus, modulo the pool
// size, overwriting whatever was there. Pull delivers the next
// sequential packet when it is present and has not outlived the nominal
// latency; when the buffer has fallen behind it skips forward to the
// earliest overdue packet with a cross-fade, and when nothing is
// deliverable it synthesizes the block from the per-channel linear
// prediction state.
type poolBuffer struct {
	mu sync.Mutex

	logger *slog.Logger

	geometry   frame.PacketGeometry
	blockCodec codec.BlockCodec

	queueLength int
	poolSize    int
	packetDur   time.Duration
	now         func() time.Duration

	slots   [][]byte
	slotSeq []int
	arrival []time.Duration

	started    bool
	lastSeqIn  int
	lastSeqOut int

	// extSeqIn is lastSeqIn unwrapped past the 16-bit modulus, so slot
	// addressing stays contiguous across the wraparound.
	extSeqIn int

	// xfr is the working packet for the pull path. Delivered bytes pass
	// through it untouched unless concealment or a seam fade rewrites
	// them.
	xfr   []byte
	zeros []byte

	hist          int
	trainLen      int
	packetCnt     uint64
	lastWasGlitch bool
	concealOffset int
	fadeUp        frame.PCMFrame
	fadeDown      frame.PCMFrame
	chans         []*chanConcealer
	burg          *burgEstimator

	glitches uint64
	lost     uint64
	stats    *intervalStats
}

func newPoolBuffer(cfg Config) *poolBuffer {
	fpp := cfg.Geometry.FramesPerBlock
	packetBytes := cfg.Geometry.PacketBytes()

	hist := (concealmentHistorySamples + fpp/2) / fpp
	if hist < minHistPackets {
		hist = minHistPackets
	} else if hist > maxHistPackets {
		hist = maxHistPackets
	}

	poolSize := cfg.QueueLength + 3
	slots := make([][]byte, poolSize)
	for i := range slots {
		slots[i] = make([]byte, packetBytes)
	}
	slotSeq := make([]int, poolSize)
	for i := range slotSeq {
		slotSeq[i] = -1
	}

	fadeUp := make(frame.PCMFrame, fpp)
	fadeDown := make(frame.PCMFrame, fpp)
	for i := 0; i < fpp; i++ {
		fadeUp[i] = float32(i) / float32(fpp)
		fadeDown[i] = 1.0 - fadeUp[i]
	}

	trainLen := hist * fpp
	chans := make([]*chanConcealer, cfg.Geometry.NumChannels)
	for i := range chans {
		chans[i] = newChanConcealer(fpp, hist)
	}

	cfg.Logger.Debug(
		"pool jitter buffer created",
		"framesPerBlock", fpp,
		"histPackets", hist,
		"poolSize", poolSize,
		"queueLength", cfg.QueueLength,
	)

	return &poolBuffer{
		logger:      cfg.Logger,
		geometry:    cfg.Geometry,
		blockCodec:  codec.NewBlockCodec(cfg.Geometry, cfg.Quantize24),
		queueLength: cfg.QueueLength,
		poolSize:    poolSize,
		packetDur:   packetDuration(cfg.Geometry, cfg.SampleRate),
		now:         cfg.Now,
		slots:       slots,
		slotSeq:     slotSeq,
		arrival:     make([]time.Duration, SeqModulus),
		lastSeqIn:   -1,
		lastSeqOut:  -1,
		xfr:         make([]byte, packetBytes),
		zeros:       make([]byte, packetBytes),
		hist:        hist,
		trainLen:    trainLen,
		fadeUp:      fadeUp,
		fadeDown:    fadeDown,
		chans:       chans,
		burg:        newBurgEstimator(trainLen),
		stats:       newIntervalStats(cfg.SampleRate / fpp),
	}
}

// Push stores one received packet. Called from the network receive
// goroutine; holds the buffer lock only long enough to copy the packet.
func (b *poolBuffer) Push(packet []byte, seq uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.lastSeqIn != -1 {
		adv := seqAdvance(uint16(b.lastSeqIn), seq)
		if adv > 1 {
			b.lost += uint64(adv - 1)
			b.logger.Debug(
				"lost packet detected on push",
				"seq", seq,
				"lastSeqIn", b.lastSeqIn,
				"gap", adv-1,
			)
		}
		b.extSeqIn += adv
	} else {
		b.extSeqIn = int(seq)
	}
	b.lastSeqIn = int(seq)
	b.arrival[seq] = now
	b.stats.tick(now)

	slot := ((b.extSeqIn % b.poolSize) + b.poolSize) % b.poolSize
	copy(b.slots[slot], packet)
	b.slotSeq[slot] = int(seq)
	b.started = true
	return true
}

// Pull fills out with the next block for playback. Called from the audio
// output callback; never blocks beyond the buffer lock and never
// allocates.
func (b *poolBuffer) Pull(out []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		copy(out, b.zeros)
		return
	}

	if b.lastSeqOut == -1 {
		b.adoptStartingPoint()
	}

	now := b.now()
	next := uint16(b.lastSeqOut + 1)
	horizon := now - time.Duration(b.queueLength)*b.packetDur

	// Normal: the sequential packet is here and has not gone stale.
	extNext := b.extSeqIn + seqAdvance(uint16(b.lastSeqIn), next)
	slot := ((extNext % b.poolSize) + b.poolSize) % b.poolSize
	if b.slotSeq[slot] == int(next) && b.arrival[next] >= horizon {
		b.deliver(slot, next, 0)
		copy(out, b.xfr)
		return
	}

	// Overrun: the buffer is running behind. Find the earliest later
	// packet whose deadline has passed and skip forward to it.
	bestDist := -1
	bestSlot := -1
	for i, stored := range b.slotSeq {
		if stored < 0 {
			continue
		}
		seq := uint16(stored)
		dist := int(seq-next) & (SeqModulus - 1)
		if dist == 0 || dist >= SeqModulus/2 {
			continue
		}
		if b.arrival[seq]+time.Duration(b.queueLength)*b.packetDur > now {
			continue
		}
		if bestDist == -1 || dist < bestDist {
			bestDist = dist
			bestSlot = i
		}
	}
	if bestSlot != -1 {
		b.deliver(bestSlot, uint16(b.slotSeq[bestSlot]), bestDist)
		copy(out, b.xfr)
		return
	}

	// Underrun: nothing deliverable, synthesize the block.
	b.glitches++
	if b.packetCnt == 0 {
		copy(b.xfr, b.zeros)
	}
	b.processPacket(true)
	copy(out, b.xfr)
}

func (b *poolBuffer) SnapshotStats() Stats {
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

// adoptStartingPoint picks the first sequence to play: the resident packet
// furthest behind the most recent arrival, so a reordered opening burst
// still plays from its earliest packet.
func (b *poolBuffer) adoptStartingPoint() {
	anchor := uint16(b.lastSeqIn)
	start := anchor
	bestDiff := 1
	for _, stored := range b.slotSeq {
		if stored < 0 {
			continue
		}
		diff := int(int16(uint16(stored) - anchor))
		if diff < bestDiff {
			bestDiff = diff
			start = uint16(stored)
		}
	}
	b.lastSeqOut = int(start - 1)
}

// deliver consumes one pool slot into the working packet. skipped is the
// number of sequence positions jumped over; a nonzero skip feeds the
// concealment history with the adopted packet so the model does not
// extrapolate across the gap, then cross-fades away from the predicted
// trajectory.
func (b *poolBuffer) deliver(slot int, seq uint16, skipped int) {
	copy(b.xfr, b.slots[slot])

	if skipped > 0 {
		feed := skipped
		if feed > b.hist {
			feed = b.hist
		}
		for ch, cd := range b.chans {
			for s := 0; s < b.geometry.FramesPerBlock; s++ {
				cd.truth[s] = b.blockCodec.DecodeSampleAt(b.xfr, ch, s)
			}
			for k := 0; k < feed; k++ {
				cd.feed(cd.truth)
			}
		}
		// Force the seam fade in processPacket so the jump is hidden.
		b.lastWasGlitch = true
	}

	b.processPacket(false)
	b.slotSeq[slot] = -1
	b.lastSeqOut = int(seq)
}

// processPacket runs the concealment bookkeeping over every channel for
// the block currently in the working packet.
func (b *poolBuffer) processPacket(glitch bool) {
	retrain := false
	if glitch {
		// Consecutive glitches ride the trajectory fitted at the first
		// one, so the seams between concealed blocks are exact. The
		// model is refitted once the rolled-out samples run short.
		retrain = !b.lastWasGlitch || b.concealOffset+2*b.geometry.FramesPerBlock > 2*b.trainLen
		if retrain {
			b.concealOffset = 0
		}
	}

	for ch := range b.chans {
		b.processChannel(ch, glitch, retrain)
	}

	if glitch {
		b.concealOffset += b.geometry.FramesPerBlock
	}
	b.lastWasGlitch = glitch
	b.packetCnt++
}

func (b *poolBuffer) processChannel(ch int, glitch bool, retrain bool) {
	cd := b.chans[ch]
	fpp := b.geometry.FramesPerBlock

	if !glitch {
		for s := 0; s < fpp; s++ {
			cd.truth[s] = b.blockCodec.DecodeSampleAt(b.xfr, ch, s)
		}
	}

	if b.packetCnt > 0 {
		if glitch {
			if retrain {
				cd.flattenHistory(fpp)
				b.burg.train(cd.coeffs, cd.train)
				copy(cd.tail, cd.train)
				predict(cd.coeffs, cd.tail, b.trainLen)
			}

			prediction := cd.tail[b.trainLen+b.concealOffset:]
			for s := 0; s < fpp; s++ {
				b.blockCodec.EncodeSampleAt(float32(prediction[s]), ch, s, b.xfr)
			}
			for s := 0; s < fpp; s++ {
				cd.nextPred[s] = float32(prediction[fpp+s])
			}
		} else if b.lastWasGlitch {
			// Hide the concealment-to-real seam with a one-block fade.
			for s := 0; s < fpp; s++ {
				cd.xfaded[s] = cd.truth[s]*b.fadeUp[s] + cd.nextPred[s]*b.fadeDown[s]
			}
			for s := 0; s < fpp; s++ {
				b.blockCodec.EncodeSampleAt(cd.xfaded[s], ch, s, b.xfr)
			}
		}
		// A clean packet after a clean packet passes through bit-exact;
		// the working bytes are left untouched.
	}

	newest := cd.shiftHistory()
	if !glitch || b.packetCnt < uint64(b.hist) {
		copy(newest, cd.truth)
	} else {
		// Keep the model's own output in the history so consecutive
		// glitches stay self-consistent.
		prediction := cd.tail[b.trainLen+b.concealOffset:]
		for s := 0; s < fpp; s++ {
			newest[s] = float32(prediction[s])
		}
	}
}
