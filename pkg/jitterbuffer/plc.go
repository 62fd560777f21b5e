package jitterbuffer

import "github.com/crosswire-audio/crosswire/pkg/frame"

// chanConcealer holds the per-channel packet loss concealment state.
//
// It remembers the last hist real packets, fits an autoregressive model
// over them when a packet goes missing, and keeps the tail of the previous
// prediction around so the seam back to real audio can be cross-faded.
// All buffers are allocated once at setup and zeroed, so the model never
// reads uninitialized samples even while the history is still filling.
type chanConcealer struct {
	// lastPackets[0] is the most recent packet of history.
	lastPackets []frame.PCMFrame

	// train is the history flattened oldest-first; tail is train plus
	// room for two training windows of forward extrapolation, so several
	// consecutive missing packets can ride one fitted trajectory.
	train  []float64
	tail   []float64
	coeffs []float64

	truth    frame.PCMFrame
	nextPred frame.PCMFrame
	xfaded   frame.PCMFrame
}

func newChanConcealer(framesPerBlock int, hist int) *chanConcealer {
	trainLen := hist * framesPerBlock
	cd := &chanConcealer{
		lastPackets: make([]frame.PCMFrame, hist),
		train:       make([]float64, trainLen),
		tail:        make([]float64, 3*trainLen),
		coeffs:      make([]float64, trainLen-2),
		truth:       make(frame.PCMFrame, framesPerBlock),
		nextPred:    make(frame.PCMFrame, framesPerBlock),
		xfaded:      make(frame.PCMFrame, framesPerBlock),
	}
	for i := range cd.lastPackets {
		cd.lastPackets[i] = make(frame.PCMFrame, framesPerBlock)
	}
	return cd
}

// flattenHistory lays the history ring into the training window in
// chronological order, oldest sample first.
func (cd *chanConcealer) flattenHistory(framesPerBlock int) {
	hist := len(cd.lastPackets)
	for i := 0; i < hist; i++ {
		base := (hist - (i + 1)) * framesPerBlock
		packet := cd.lastPackets[i]
		for s := 0; s < framesPerBlock; s++ {
			cd.train[base+s] = float64(packet[s])
		}
	}
}

// shiftHistory rotates the ring one packet onward and returns the slot for
// the newest packet, ready to be overwritten.
func (cd *chanConcealer) shiftHistory() frame.PCMFrame {
	hist := len(cd.lastPackets)
	newest := cd.lastPackets[hist-1]
	for i := hist - 1; i > 0; i-- {
		cd.lastPackets[i] = cd.lastPackets[i-1]
	}
	cd.lastPackets[0] = newest
	return newest
}

// feed pushes one packet of real samples into the history ring.
func (cd *chanConcealer) feed(samples frame.PCMFrame) {
	newest := cd.shiftHistory()
	copy(newest, samples)
}
