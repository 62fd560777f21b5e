package main

import (
	"context"
	"flag"
	"log/slog"
	"time"

	"github.com/crosswire-audio/crosswire/cmd/config"
	"github.com/crosswire-audio/crosswire/internal/networking"
	"github.com/crosswire-audio/crosswire/pkg/audiocallback"
	"github.com/crosswire-audio/crosswire/pkg/audiodevice/device"
	"github.com/crosswire-audio/crosswire/pkg/codec"
	"github.com/crosswire-audio/crosswire/pkg/frame"
	"github.com/crosswire-audio/crosswire/pkg/jitterbuffer"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"
)

// The demo runs two complete endpoints in one process: endpoint A captures
// from a WAV file, endpoint B plays into another WAV file, and the packets
// travel either over an in-process loopback (optionally with simulated
// loss, to hear the concealment work) or over a real unreliable WebRTC
// data channel.
func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer := config.ConfigureLogger()
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	sampleRate := viper.GetInt("samplerate")
	framesPerBlock := viper.GetInt("framesperblock")
	bitResolution := codec.BitResolution(viper.GetInt("bitresolution") / 8)
	channels := viper.GetInt("channelsin")

	geometry := frame.PacketGeometry{
		FramesPerBlock: framesPerBlock,
		NumChannels:    channels,
		BytesPerSample: int(bitResolution),
	}

	bufferA := newJitterBuffer(geometry, sampleRate)
	bufferB := newJitterBuffer(geometry, sampleRate)

	orchestratorA := newOrchestrator(sampleRate, framesPerBlock, bitResolution, channels)
	orchestratorB := newOrchestrator(sampleRate, framesPerBlock, bitResolution, channels)

	// --------------------------------------------------------------------------------
	// Wire the two endpoints together

	var sinkA, sinkB audiocallback.TransmitSink
	switch transport := viper.GetString("transport"); transport {
	case "loopback":
		wireToB := networking.NewLoopbackWire(bufferB)
		wireToA := networking.NewLoopbackWire(bufferA)
		if loss := viper.GetFloat64("simulatedloss"); loss > 0.0 {
			dropEvery := uint16(1.0 / loss)
			if dropEvery < 1 {
				dropEvery = 1
			}
			wireToB.Impair = func(seq uint16) bool {
				return seq%dropEvery != dropEvery-1
			}
			slog.Info("simulating packet loss on the A-to-B leg", "dropEvery", dropEvery)
		}
		sinkA, sinkB = wireToB, wireToA
	case "webrtc":
		pair, err := networking.NewLocalPeerPair(webrtc.Configuration{}, 30*time.Second)
		if err != nil {
			slog.Error("error while connecting local peer pair", "err", err)
			panic(err)
		}
		defer pair.Close()
		sinkA = networking.NewDataChannelWire(pair.ChannelPeerOne, geometry.PacketBytes(), bufferA, nil)
		sinkB = networking.NewDataChannelWire(pair.ChannelPeerTwo, geometry.PacketBytes(), bufferB, nil)
	default:
		slog.Error("unknown transport", "transport", transport)
		panic("unknown transport: " + transport)
	}

	if err := orchestratorA.Setup(sinkA, audiocallback.JitterSource{Buffer: bufferA}); err != nil {
		slog.Error("error while setting up endpoint A", "err", err)
		panic(err)
	}
	defer orchestratorA.Teardown()
	if err := orchestratorB.Setup(sinkB, audiocallback.JitterSource{Buffer: bufferB}); err != nil {
		slog.Error("error while setting up endpoint B", "err", err)
		panic(err)
	}
	defer orchestratorB.Teardown()

	// --------------------------------------------------------------------------------
	// Devices: a WAV file feeds A, another collects what B plays

	blockDuration := time.Duration(framesPerBlock) * time.Second / time.Duration(sampleRate)

	inputDevice, err := device.NewFileAudioInputDevice(viper.GetString("inputwav"), blockDuration)
	if err != nil {
		slog.Error("error while opening input wav", "err", err)
		panic(err)
	}
	defer inputDevice.Close()

	outputDevice, err := device.NewFileAudioOutputDevice(viper.GetString("outputwav"), sampleRate, channels)
	if err != nil {
		slog.Error("error while creating output wav", "err", err)
		panic(err)
	}
	playbackStream := make(chan frame.PCMFrame)
	outputDevice.SetStream(playbackStream)

	// --------------------------------------------------------------------------------
	// Low-priority stats reporting, the way a tuning loop would watch it

	statsCtx, statsCancel := context.WithCancel(context.Background())
	defer statsCancel()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				stats := bufferB.SnapshotStats()
				slog.Info(
					"endpoint B receive buffer",
					"meanIntervalMs", stats.WindowMean,
					"minIntervalMs", stats.WindowMin,
					"maxIntervalMs", stats.WindowMax,
					"stdDevMs", stats.WindowStdDev,
					"glitches", stats.Glitches,
					"lost", stats.Lost,
					"queueLength", stats.QueueLength,
				)
			}
		}
	}()

	// --------------------------------------------------------------------------------
	// Drive the callbacks at the block rate

	inBufs := geometry.NewChannelBuffers()
	outBufs := geometry.NewChannelBuffers()
	playbackFrame := make(frame.PCMFrame, framesPerBlock*channels)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inputDevice.Play(ctx)

	for pcmFrame := range inputDevice.GetStream() {
		deinterleave(pcmFrame, inBufs, channels)
		orchestratorA.ProcessInputCallback(inBufs, framesPerBlock)

		orchestratorB.ProcessOutputCallback(outBufs, framesPerBlock)
		interleave(outBufs, playbackFrame, framesPerBlock, channels)
		// The sink device consumes asynchronously; hand it its own copy.
		playbackStream <- append(frame.PCMFrame(nil), playbackFrame...)
	}

	close(playbackStream)
	outputDevice.WaitForClose()

	finalStats := bufferB.SnapshotStats()
	slog.Info(
		"link finished",
		"glitches", finalStats.Glitches,
		"lost", finalStats.Lost,
	)
}

func newJitterBuffer(geometry frame.PacketGeometry, sampleRate int) jitterbuffer.Buffer {
	buffer, err := jitterbuffer.NewBuffer(jitterbuffer.Config{
		Geometry:       geometry,
		SampleRate:     sampleRate,
		QueueLength:    viper.GetInt("queuelength"),
		Strategy:       jitterbuffer.StrategyEnum(viper.GetString("strategy")),
		UnderrunPolicy: jitterbuffer.UnderrunPolicyEnum(viper.GetString("underrunpolicy")),
	})
	if err != nil {
		slog.Error("error while creating jitter buffer", "err", err)
		panic(err)
	}
	return buffer
}

func newOrchestrator(sampleRate int, framesPerBlock int, bitResolution codec.BitResolution, channels int) *audiocallback.Orchestrator {
	orchestrator, err := audiocallback.NewOrchestrator(audiocallback.Config{
		SampleRate:        sampleRate,
		FramesPerBlock:    framesPerBlock,
		BitResolution:     bitResolution,
		NumInputChannels:  channels,
		NumOutputChannels: channels,
		InputMixMode:      audiocallback.InputMixModeEnum(viper.GetString("inputmixmode")),
	})
	if err != nil {
		slog.Error("error while creating orchestrator", "err", err)
		panic(err)
	}
	return orchestrator
}

// deinterleave splits one interleaved PCM frame into per-channel buffers.
// A short final frame leaves the remaining samples zeroed.
func deinterleave(pcmFrame frame.PCMFrame, bufs []frame.PCMFrame, channels int) {
	for i := range bufs {
		for s := range bufs[i] {
			bufs[i][s] = 0.0
		}
	}
	frames := len(pcmFrame) / channels
	for s := 0; s < frames; s++ {
		for c := 0; c < channels; c++ {
			if s < len(bufs[c]) {
				bufs[c][s] = pcmFrame[s*channels+c]
			}
		}
	}
}

// interleave packs per-channel buffers back into one interleaved frame.
func interleave(bufs []frame.PCMFrame, pcmFrame frame.PCMFrame, frames int, channels int) {
	for s := 0; s < frames; s++ {
		for c := 0; c < channels; c++ {
			pcmFrame[s*channels+c] = bufs[c][s]
		}
	}
}
