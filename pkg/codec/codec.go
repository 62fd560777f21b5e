package codec

import (
	"encoding/binary"
	"math"

	"github.com/crosswire-audio/crosswire/pkg/frame"
)

// BitResolution is the width of one encoded sample, in bytes.
type BitResolution int

const (
	BitResolution8  BitResolution = 1
	BitResolution16 BitResolution = 2
	BitResolution24 BitResolution = 3
	BitResolution32 BitResolution = 4
)

// Quantize24Mode selects how the 16-bit part of a 24-bit sample is
// quantized.
//
// Truncation introduces a systematic negative bias of up to 1/32768 but is
// bit-compatible with peers already deployed on the wire, so it is the
// default. Rounding removes the bias and may be enabled when both ends
// agree.
type Quantize24Mode int

const (
	Quantize24Truncate Quantize24Mode = iota
	Quantize24Round
)

// Valid reports whether the resolution is one of the four supported widths.
func (r BitResolution) Valid() bool {
	switch r {
	case BitResolution8, BitResolution16, BitResolution24, BitResolution32:
		return true
	}
	return false
}

// EncodeSample quantizes one normalized sample into out[0:r], little-endian.
// out must have at least r bytes.
//
// Quantization clamps silently: for the 8, 16 and 24-bit widths, samples
// outside [-1, 1] saturate at the integer range of the target width rather
// than wrapping. 32-bit samples are bit-copied and not clamped. Encoding
// cannot fail. 24-bit encoding uses the truncating quantizer; see EncodeSample24
// for the rounding variant.
func EncodeSample(sample float32, res BitResolution, out []byte) {
	switch res {
	case BitResolution8:
		// 8bit integer between -127 and 127
		v := math.Round(float64(sample) * 127.0)
		v = math.Max(-127.0, math.Min(127.0, v))
		out[0] = byte(int8(v))
	case BitResolution16:
		// 16bit integer between -32767 and 32767, little-endian
		v := math.Round(float64(sample) * 32767.0)
		v = math.Max(-32767.0, math.Min(32767.0, v))
		binary.LittleEndian.PutUint16(out, uint16(int16(v)))
	case BitResolution24:
		EncodeSample24(sample, Quantize24Truncate, out)
	case BitResolution32:
		// bit-copy, no scaling and no clamping
		binary.LittleEndian.PutUint32(out, math.Float32bits(sample))
	}
}

// EncodeSample24 quantizes one normalized sample into the 3-byte
// [low16 | residual8] layout.
//
// The sample is scaled by 32768 and split into a signed 16-bit part and an
// unsigned 8-bit remainder of that scaling. The remainder is always
// non-negative since the 16-bit part is the floor. Values at or beyond
// full scale saturate at the largest representable code.
func EncodeSample24(sample float32, mode Quantize24Mode, out []byte) {
	q := float64(sample) * 32768.0

	low := math.Floor(q)
	var residual float64
	if mode == Quantize24Round {
		residual = math.Round((q - low) * 256.0)
	} else {
		residual = math.Floor((q - low) * 256.0)
	}
	if residual >= 256.0 {
		residual -= 256.0
		low++
	}

	// Saturate at the range of the packed representation. +1.0 scales to
	// 32768 which has no signed 16-bit form, so it becomes the largest
	// code 32767 + 255/256.
	if low > 32767.0 {
		low = 32767.0
		residual = 255.0
	} else if low < -32768.0 {
		low = -32768.0
		residual = 0.0
	}

	binary.LittleEndian.PutUint16(out, uint16(int16(low)))
	out[2] = byte(uint8(residual))
}

// DecodeSample reconstructs a normalized sample from in[0:r].
//
// Any byte pattern is a valid sample for every width, so decoding cannot
// fail either.
func DecodeSample(in []byte, res BitResolution) float32 {
	switch res {
	case BitResolution8:
		return float32(int8(in[0])) / 127.0
	case BitResolution16:
		return float32(int16(binary.LittleEndian.Uint16(in))) / 32767.0
	case BitResolution24:
		low := float32(int16(binary.LittleEndian.Uint16(in)))
		residual := float32(in[2]) / 256.0
		return (low + residual) / 32768.0
	case BitResolution32:
		return math.Float32frombits(binary.LittleEndian.Uint32(in))
	}
	return 0
}

// --------------------------------------------------------------------------------
// Block codec

// A BlockCodec converts between per-channel sample buffers and the
// interleaved packet layout for one fixed packet geometry.
//
// The layout places channel on the minor axis: the sample for channel c at
// sample index j starts at byte offset (j*channels + c) * width. Both
// directions of the link use this single layout.
//
// A BlockCodec is stateless beyond its configuration and is safe for
// concurrent use from the input and output callbacks.
type BlockCodec struct {
	geometry frame.PacketGeometry
	res      BitResolution
	mode24   Quantize24Mode
}

// NewBlockCodec creates a codec for packets of the given geometry.
// The geometry's BytesPerSample must equal the bit resolution's byte width.
func NewBlockCodec(geometry frame.PacketGeometry, mode24 Quantize24Mode) BlockCodec {
	return BlockCodec{
		geometry: geometry,
		res:      BitResolution(geometry.BytesPerSample),
		mode24:   mode24,
	}
}

// Geometry returns the packet geometry this codec was built for.
func (c BlockCodec) Geometry() frame.PacketGeometry {
	return c.geometry
}

// EncodeBlock quantizes per-channel buffers into one interleaved packet.
// Each channel buffer must hold at least FramesPerBlock samples and packet
// must hold at least PacketBytes bytes.
func (c BlockCodec) EncodeBlock(channels []frame.PCMFrame, packet []byte) {
	for ch := 0; ch < c.geometry.NumChannels; ch++ {
		buf := channels[ch]
		for s := 0; s < c.geometry.FramesPerBlock; s++ {
			c.EncodeSampleAt(buf[s], ch, s, packet)
		}
	}
}

// DecodeBlock expands one interleaved packet into per-channel buffers.
func (c BlockCodec) DecodeBlock(packet []byte, channels []frame.PCMFrame) {
	for ch := 0; ch < c.geometry.NumChannels; ch++ {
		buf := channels[ch]
		for s := 0; s < c.geometry.FramesPerBlock; s++ {
			buf[s] = c.DecodeSampleAt(packet, ch, s)
		}
	}
}

// EncodeSampleAt quantizes one sample into its interleaved position.
func (c BlockCodec) EncodeSampleAt(sample float32, ch int, s int, packet []byte) {
	offset := c.geometry.SampleOffset(ch, s)
	if c.res == BitResolution24 {
		EncodeSample24(sample, c.mode24, packet[offset:])
		return
	}
	EncodeSample(sample, c.res, packet[offset:])
}

// DecodeSampleAt reconstructs the sample at an interleaved position.
func (c BlockCodec) DecodeSampleAt(packet []byte, ch int, s int) float32 {
	return DecodeSample(packet[c.geometry.SampleOffset(ch, s):], c.res)
}
