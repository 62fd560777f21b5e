package networking

import (
	"errors"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
)

var errDataChannelTimeout = errors.New("timed out waiting for data channels to open")

// LocalPeerPair is two connected WebRTC peers living in one process, with
// an unreliable, unordered data channel between them. The demo application
// uses it to run a full endpoint-to-endpoint link without any signalling
// infrastructure; ICE candidates are exchanged directly.
type LocalPeerPair struct {
	PeerOne *webrtc.PeerConnection
	PeerTwo *webrtc.PeerConnection

	// Two handles of the single bidirectional "audio" channel: sends on
	// ChannelPeerOne arrive at ChannelPeerTwo's message handler and vice
	// versa.
	ChannelPeerOne *webrtc.DataChannel
	ChannelPeerTwo *webrtc.DataChannel
}

// NewLocalPeerPair dials two in-process peers together and waits for both
// data channels to open.
//
// The channels are created with ordered=false and zero retransmits so they
// behave like datagram sockets: late packets are the jitter buffer's
// problem, not the transport's.
func NewLocalPeerPair(config webrtc.Configuration, timeout time.Duration) (*LocalPeerPair, error) {
	peerOne, errOne := webrtc.NewPeerConnection(config)
	peerTwo, errTwo := webrtc.NewPeerConnection(config)
	if err := errors.Join(errOne, errTwo); err != nil {
		slog.Error("error when creating peer connection",
			"err", err,
			"webrtcConfig", config,
		)
		return nil, err
	}

	pair := &LocalPeerPair{
		PeerOne: peerOne,
		PeerTwo: peerTwo,
	}

	ordered := false
	maxRetransmits := uint16(0)
	dataChannelOptions := &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	}

	channelPeerOne, err := peerOne.CreateDataChannel("audio", dataChannelOptions)
	if err != nil {
		slog.Error("error when creating data channel",
			"err", err,
			"dataChannelOptions", dataChannelOptions,
		)
		pair.Close()
		return nil, err
	}
	pair.ChannelPeerOne = channelPeerOne

	openPeerOne := make(chan struct{})
	channelPeerOne.OnOpen(func() { close(openPeerOne) })

	backChannel := make(chan *webrtc.DataChannel, 1)
	peerTwo.OnDataChannel(func(dc *webrtc.DataChannel) {
		slog.Info("peer two received data channel",
			"data channel label", dc.Label(),
			"data channel ID", dc.ID(),
		)
		backChannel <- dc
	})

	// Trickle ICE candidates directly between the two peers, since they
	// share a process.
	peerOne.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			if err := peerTwo.AddICECandidate(candidate.ToJSON()); err != nil {
				slog.Error("error adding ICE candidate to peer two", "err", err)
			}
		}
	})
	peerTwo.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			if err := peerOne.AddICECandidate(candidate.ToJSON()); err != nil {
				slog.Error("error adding ICE candidate to peer one", "err", err)
			}
		}
	})

	offer, err := peerOne.CreateOffer(nil)
	if err != nil {
		slog.Error("error when creating offer", "err", err)
		pair.Close()
		return nil, err
	}
	if err = peerOne.SetLocalDescription(offer); err != nil {
		slog.Error("error when setting local description of offer", "err", err)
		pair.Close()
		return nil, err
	}
	if err = peerTwo.SetRemoteDescription(offer); err != nil {
		slog.Error("error when setting remote description of offer", "err", err)
		pair.Close()
		return nil, err
	}

	answer, err := peerTwo.CreateAnswer(nil)
	if err != nil {
		slog.Error("error when creating answer", "err", err)
		pair.Close()
		return nil, err
	}
	if err = peerTwo.SetLocalDescription(answer); err != nil {
		slog.Error("error when setting local description of answer", "err", err)
		pair.Close()
		return nil, err
	}
	if err = peerOne.SetRemoteDescription(answer); err != nil {
		slog.Error("error when setting remote description of answer", "err", err)
		pair.Close()
		return nil, err
	}

	// The reverse channel only exists once negotiation completes, so wait
	// for it alongside the forward channel's open signal.
	deadline := time.After(timeout)
	select {
	case dc := <-backChannel:
		pair.ChannelPeerTwo = dc
	case <-deadline:
		pair.Close()
		return nil, errDataChannelTimeout
	}

	openPeerTwo := make(chan struct{})
	if pair.ChannelPeerTwo.ReadyState() == webrtc.DataChannelStateOpen {
		// Already open by the time it was handed over.
		close(openPeerTwo)
	} else {
		pair.ChannelPeerTwo.OnOpen(func() { close(openPeerTwo) })
	}

	for _, open := range []chan struct{}{openPeerOne, openPeerTwo} {
		select {
		case <-open:
		case <-deadline:
			pair.Close()
			return nil, errDataChannelTimeout
		}
	}

	return pair, nil
}

// Close tears down both peers and their channels.
func (p *LocalPeerPair) Close() {
	if p.ChannelPeerOne != nil {
		p.ChannelPeerOne.Close()
	}
	if p.ChannelPeerTwo != nil {
		p.ChannelPeerTwo.Close()
	}
	if p.PeerOne != nil {
		p.PeerOne.Close()
	}
	if p.PeerTwo != nil {
		p.PeerTwo.Close()
	}
}
