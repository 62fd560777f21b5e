package frame

// A PCMFrame is a block of raw PCM audio samples.
//
// Samples are IEEE-754 single-precision floats in the nominal range [-1, 1],
// interleaved when the frame carries more than one channel: the sample for
// channel c at sample index j lives at position j*numChannels + c.
type PCMFrame []float32

// An EncodedFrame is a block of audio after encoding for the wire.
//
// For this endpoint the encoding is packed little-endian integer PCM,
// see the codec package. One EncodedFrame corresponds to exactly one
// device callback block.
type EncodedFrame []byte

// PacketGeometry describes the fixed shape of every frame packet in a
// session: how many sample frames per callback block, how many channels,
// and how many bytes each encoded sample occupies.
//
// The geometry is constant for the session's lifetime. All buffers in the
// receive and transmit paths are sized from it once, at setup.
type PacketGeometry struct {
	FramesPerBlock int
	NumChannels    int
	BytesPerSample int
}

// PacketBytes returns the size in bytes of one encoded frame packet.
func (g PacketGeometry) PacketBytes() int {
	return g.FramesPerBlock * g.NumChannels * g.BytesPerSample
}

// SampleOffset returns the byte offset of the sample for channel ch at
// sample index s within an encoded packet. Channel is the minor axis.
func (g PacketGeometry) SampleOffset(ch int, s int) int {
	return (s*g.NumChannels + ch) * g.BytesPerSample
}

// NewChannelBuffers allocates one zeroed buffer of FramesPerBlock samples
// per channel, for non-interleaved per-channel processing.
func (g PacketGeometry) NewChannelBuffers() []PCMFrame {
	bufs := make([]PCMFrame, g.NumChannels)
	for i := range bufs {
		bufs[i] = make(PCMFrame, g.FramesPerBlock)
	}
	return bufs
}
