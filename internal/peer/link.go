package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const (
	channelLabel   = "tandem"
	maxRetransmits = 3
)

// ErrChannelNotOpen is returned when a send is attempted before the data
// channel reaches the open state.
var ErrChannelNotOpen = errors.New("data channel not open")

// LinkConfig carries everything needed to build one peer link.
type LinkConfig struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool
	// Ordered selects a reliable ordered channel. The default unordered
	// channel retransmits each frame at most a few times; a lost snapshot
	// is overtaken by the next one anyway.
	Ordered bool
	// Loopback admits loopback ICE candidates so both ends of a link can
	// live in one process. Tests only.
	Loopback bool
	Logger   zerolog.Logger
}

// PeerLink owns one WebRTC peer connection and its single data channel.
// A link lives for exactly one pairing; reconnection tears it down
// wholesale and builds a fresh one. All methods are called from the
// session loop; pion callbacks only emit events.
type PeerLink struct {
	pc     *webrtc.PeerConnection
	buffer *CandidateBuffer
	emit   func(Event)
	log    zerolog.Logger

	ordered bool

	mu      sync.Mutex
	channel *webrtc.DataChannel
}

// NewPeerLink builds the peer connection and wires its callbacks to emit.
func NewPeerLink(cfg LinkConfig, emit func(Event)) (*PeerLink, error) {
	se := webrtc.SettingEngine{}
	if cfg.Loopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	l := &PeerLink{
		pc:      pc,
		buffer:  NewCandidateBuffer(),
		emit:    emit,
		log:     cfg.Logger.With().Str("component", "peerlink").Logger(),
		ordered: cfg.Ordered,
	}
	l.wireCallbacks()
	return l, nil
}

func (l *PeerLink) wireCallbacks() {
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			l.log.Warn().Err(err).Msg("failed to encode local candidate")
			return
		}
		l.emit(Event{Kind: EvLocalCandidate, At: time.Now(), Candidate: raw})
	})

	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		l.log.Debug().Str("state", s.String()).Msg("ICE connection state changed")
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			l.emit(Event{Kind: EvICEConnected, At: time.Now()})
		case webrtc.ICEConnectionStateFailed:
			l.emit(Event{Kind: EvTransportFailed, At: time.Now(), Reason: "ice failed"})
		}
	})

	l.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		l.adoptChannel(dc)
	})
}

func (l *PeerLink) adoptChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.channel = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.emit(Event{Kind: EvChannelOpen, At: time.Now()})
	})
	dc.OnClose(func() {
		l.emit(Event{Kind: EvChannelClosed, At: time.Now()})
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) {
		l.emit(Event{Kind: EvChannelMessage, At: time.Now(), Data: m.Data})
	})
}

func (l *PeerLink) createChannel() error {
	ordered := l.ordered
	init := &webrtc.DataChannelInit{Ordered: &ordered}
	if !ordered {
		mr := uint16(maxRetransmits)
		init.MaxRetransmits = &mr
	}
	dc, err := l.pc.CreateDataChannel(channelLabel, init)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	l.adoptChannel(dc)
	return nil
}

// CreateOffer produces the local offer SDP, creating the data channel on
// first use. With restart set the offer re-runs ICE on the existing
// session, keeping the channel.
func (l *PeerLink) CreateOffer(restart bool) (string, error) {
	if !restart {
		if err := l.createChannel(); err != nil {
			return "", err
		}
	}
	var opts *webrtc.OfferOptions
	if restart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return l.pc.LocalDescription().SDP, nil
}

// AcceptOffer applies the remote offer and produces the answer SDP.
// Buffered candidates are flushed once the remote description is in.
func (l *PeerLink) AcceptOffer(sdp string) (string, error) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	l.flushCandidates()
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return l.pc.LocalDescription().SDP, nil
}

// AcceptAnswer applies the remote answer on the offering side.
func (l *PeerLink) AcceptAnswer(sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	l.flushCandidates()
	return nil
}

// AddCandidate applies a relayed ICE candidate, holding it back until a
// remote description exists.
func (l *PeerLink) AddCandidate(raw []byte) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	if l.pc.RemoteDescription() == nil {
		l.buffer.Hold(init)
		return nil
	}
	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

func (l *PeerLink) flushCandidates() {
	for _, cand := range l.buffer.Drain() {
		if err := l.pc.AddICECandidate(cand); err != nil {
			l.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
}

// Send transmits one encoded frame over the data channel.
func (l *PeerLink) Send(data []byte) error {
	l.mu.Lock()
	dc := l.channel
	l.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

// Open reports whether the data channel is usable.
func (l *PeerLink) Open() bool {
	l.mu.Lock()
	dc := l.channel
	l.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Close tears the link down wholesale. Held candidates are discarded,
// never flushed.
func (l *PeerLink) Close() {
	l.buffer.Discard()
	l.mu.Lock()
	dc := l.channel
	l.channel = nil
	l.mu.Unlock()
	if dc != nil {
		if err := dc.Close(); err != nil {
			l.log.Debug().Err(err).Msg("data channel close")
		}
	}
	if err := l.pc.Close(); err != nil {
		l.log.Debug().Err(err).Msg("peer connection close")
	}
}
