package codec

import (
	"math"
	"testing"

	"github.com/crosswire-audio/crosswire/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRoundTripWithinQuantizationError(t *testing.T) {
	testCases := []struct {
		name     string
		res      BitResolution
		maxError float64
	}{
		{"8bit", BitResolution8, 1.0 / 128.0},
		{"16bit", BitResolution16, 1.0 / 32768.0},
		{"24bit", BitResolution24, 1.0 / 8388608.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := make([]byte, 4)
			for i := -1000; i <= 1000; i++ {
				sample := float32(i) / 1000.0
				EncodeSample(sample, tc.res, buf)
				decoded := DecodeSample(buf, tc.res)
				assert.InDelta(t, sample, decoded, tc.maxError,
					"sample %v at %s", sample, tc.name)
			}
		})
	}
}

func TestSampleRoundTrip32BitIsExact(t *testing.T) {
	buf := make([]byte, 4)
	samples := []float32{0.0, 1.0, -1.0, 0.123456, -0.987654, 1.5, -2.25, float32(math.Pi) / 4.0}
	for _, sample := range samples {
		EncodeSample(sample, BitResolution32, buf)
		decoded := DecodeSample(buf, BitResolution32)
		assert.Equal(t, math.Float32bits(sample), math.Float32bits(decoded),
			"32 bit samples must be bit-copied, sample %v", sample)
	}
}

func TestEncodeClampsOutOfRangeSamples(t *testing.T) {
	buf := make([]byte, 4)

	EncodeSample(2.0, BitResolution8, buf)
	assert.Equal(t, byte(int8(127)), buf[0])

	EncodeSample(-2.0, BitResolution8, buf)
	var negClamped int8 = -127
	assert.Equal(t, byte(negClamped), buf[0])

	EncodeSample(2.0, BitResolution16, buf)
	assert.InDelta(t, 1.0, float64(DecodeSample(buf, BitResolution16)), 1e-9)

	EncodeSample(-2.0, BitResolution16, buf)
	assert.InDelta(t, -1.0, float64(DecodeSample(buf, BitResolution16)), 1e-9)
}

func TestFullScale24Bit(t *testing.T) {
	buf := make([]byte, 3)

	EncodeSample(1.0, BitResolution24, buf)
	decoded := DecodeSample(buf, BitResolution24)
	assert.InDelta(t, 1.0, float64(decoded), 1.0/32768.0, "positive full scale")

	EncodeSample(-1.0, BitResolution24, buf)
	decoded = DecodeSample(buf, BitResolution24)
	assert.InDelta(t, -1.0, float64(decoded), 1.0/32768.0, "negative full scale")
}

func TestQuantize24TruncateHasNegativeBias(t *testing.T) {
	// The truncating quantizer never reconstructs above the input.
	buf := make([]byte, 3)
	for i := -999; i <= 999; i++ {
		sample := float32(i) / 999.0 * 0.999
		EncodeSample24(sample, Quantize24Truncate, buf)
		decoded := DecodeSample(buf, BitResolution24)
		assert.LessOrEqual(t, float64(decoded), float64(sample)+1e-9)
		assert.InDelta(t, sample, decoded, 1.0/8388608.0+1e-7)
	}
}

func TestQuantize24RoundMode(t *testing.T) {
	buf := make([]byte, 3)
	for i := -999; i <= 999; i++ {
		sample := float32(i) / 999.0 * 0.999
		EncodeSample24(sample, Quantize24Round, buf)
		decoded := DecodeSample(buf, BitResolution24)
		assert.InDelta(t, sample, decoded, 1.0/8388608.0+1e-7)
	}
}

func TestInterleavedLayoutIsBijective(t *testing.T) {
	geometry := frame.PacketGeometry{
		FramesPerBlock: 64,
		NumChannels:    3,
		BytesPerSample: 2,
	}

	seen := make(map[int]bool)
	for s := 0; s < geometry.FramesPerBlock; s++ {
		for ch := 0; ch < geometry.NumChannels; ch++ {
			offset := geometry.SampleOffset(ch, s)
			require.GreaterOrEqual(t, offset, 0)
			require.Less(t, offset+geometry.BytesPerSample, geometry.PacketBytes()+1)
			require.False(t, seen[offset], "offset %d assigned twice", offset)
			seen[offset] = true
		}
	}
	assert.Len(t, seen, geometry.FramesPerBlock*geometry.NumChannels,
		"every (sample, channel) pair must map to a unique offset")
}

func TestBlockCodecRoundTrip(t *testing.T) {
	geometry := frame.PacketGeometry{
		FramesPerBlock: 32,
		NumChannels:    2,
		BytesPerSample: 2,
	}
	blockCodec := NewBlockCodec(geometry, Quantize24Truncate)

	channels := geometry.NewChannelBuffers()
	for ch := range channels {
		for s := range channels[ch] {
			channels[ch][s] = float32(math.Sin(float64(s)*0.3 + float64(ch)))
		}
	}

	packet := make([]byte, geometry.PacketBytes())
	blockCodec.EncodeBlock(channels, packet)

	decoded := geometry.NewChannelBuffers()
	blockCodec.DecodeBlock(packet, decoded)

	for ch := range channels {
		for s := range channels[ch] {
			assert.InDelta(t, channels[ch][s], decoded[ch][s], 1.0/32768.0,
				"channel %d sample %d", ch, s)
		}
	}
}

func TestBlockCodecChannelMinorLayout(t *testing.T) {
	geometry := frame.PacketGeometry{
		FramesPerBlock: 4,
		NumChannels:    2,
		BytesPerSample: 2,
	}
	blockCodec := NewBlockCodec(geometry, Quantize24Truncate)

	channels := []frame.PCMFrame{
		{0.25, 0.25, 0.25, 0.25},
		{-0.5, -0.5, -0.5, -0.5},
	}
	packet := make([]byte, geometry.PacketBytes())
	blockCodec.EncodeBlock(channels, packet)

	// Adjacent samples in the packet alternate channels.
	for s := 0; s < geometry.FramesPerBlock; s++ {
		left := DecodeSample(packet[geometry.SampleOffset(0, s):], BitResolution16)
		right := DecodeSample(packet[geometry.SampleOffset(1, s):], BitResolution16)
		assert.InDelta(t, 0.25, left, 1.0/32768.0)
		assert.InDelta(t, -0.5, right, 1.0/32768.0)
	}
}
