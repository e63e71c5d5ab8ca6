package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-stabilizer/internal/log"
)

// WebRTCConfig configures a WebRTCSource.
type WebRTCConfig struct {
	// SignallingURL is the webrtcsink signalling server, e.g. ws://host:8443.
	SignallingURL string

	// Producer selects a producer by its advertised name. Empty takes the
	// first one listed.
	Producer string

	// FrameSize is the size frames are decoded to.
	FrameSize image.Point

	// ConnectTimeout bounds each signalling step and the wait for video.
	ConnectTimeout time.Duration

	// KeyframeInterval is how often a picture loss indication is sent so
	// the decoder can recover from dropped packets. Zero disables it.
	KeyframeInterval time.Duration

	// Decoder overrides the decoder process (tests).
	Decoder DecoderCommand
}

// DefaultWebRTCConfig returns settings for a 720p stream on host.
func DefaultWebRTCConfig(host string) WebRTCConfig {
	return WebRTCConfig{
		SignallingURL:    fmt.Sprintf("ws://%s:8443", host),
		FrameSize:        image.Pt(1280, 720),
		ConnectTimeout:   10 * time.Second,
		KeyframeInterval: 2 * time.Second,
	}
}

// WebRTCSource receives an H264 track from a GStreamer webrtcsink producer
// and decodes it to BGR frames.
type WebRTCSource struct {
	cfg    WebRTCConfig
	id     string
	logger *slog.Logger

	sig *signaller
	pc  *webrtc.PeerConnection
	dec *Decoder

	peerID    string
	producer  Producer
	sessionMu sync.Mutex
	sessionID string

	trackReady chan struct{}
	trackOnce  sync.Once
	packets    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// DialWebRTC connects to the signalling server, negotiates a session with the
// producer and waits for its video track.
func DialWebRTC(ctx context.Context, cfg WebRTCConfig) (*WebRTCSource, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	s := &WebRTCSource{
		cfg:        cfg,
		id:         uuid.NewString(),
		trackReady: make(chan struct{}),
	}
	s.logger = log.Component("webrtc").With("client", s.id[:8], "url", cfg.SignallingURL)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if err := s.connect(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *WebRTCSource) connect(ctx context.Context) error {
	var err error

	s.logger.Info("connecting to signalling server")
	if s.sig, err = dialSignaller(ctx, s.cfg.SignallingURL, s.cfg.ConnectTimeout); err != nil {
		return err
	}

	if s.peerID, err = s.sig.welcome(); err != nil {
		return err
	}
	s.logger.Debug("got peer id", "peer", s.peerID)

	if s.producer, err = s.sig.findProducer(s.cfg.Producer); err != nil {
		return fmt.Errorf("find producer failed: %w", err)
	}
	s.logger.Info("found producer", "producer", s.producer.ID, "name", s.producer.Name())

	if s.dec, err = NewDecoder(s.cfg.FrameSize, s.cfg.Decoder); err != nil {
		return err
	}

	if err := s.createPeerConnection(); err != nil {
		return fmt.Errorf("peer connection failed: %w", err)
	}

	if err := s.sig.startSession(s.producer.ID); err != nil {
		return fmt.Errorf("start session failed: %w", err)
	}

	s.wg.Add(1)
	go s.handleSignalling()

	s.logger.Info("waiting for video track")
	select {
	case <-s.trackReady:
		s.logger.Info("video connected")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.cfg.ConnectTimeout):
		return errors.New("timeout waiting for video")
	}
}

func (s *WebRTCSource) createPeerConnection() error {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	var err error
	s.pc, err = api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	if _, err = s.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	s.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}
		if track.Codec().MimeType != webrtc.MimeTypeH264 {
			s.logger.Warn("unsupported video codec", "codec", track.Codec().MimeType)
			return
		}
		s.wg.Add(1)
		go s.handleVideoTrack(track)
	})

	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		sessionID := s.session()
		if sessionID == "" {
			return
		}
		init := c.ToJSON()
		if err := s.sig.sendICE(sessionID, icePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}); err != nil {
			s.logger.Warn("send ice candidate failed", "error", err)
		}
	})

	s.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Info("connection state", "state", state.String())
	})

	return nil
}

func (s *WebRTCSource) session() string {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.sessionID
}

func (s *WebRTCSource) handleSignalling() {
	defer s.wg.Done()

	for s.ctx.Err() == nil {
		msg, err := s.sig.receive(0)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("signalling error", "error", err)
			}
			return
		}

		switch msg.Type {
		case msgSessionStarted:
			s.sessionMu.Lock()
			s.sessionID = msg.SessionID
			s.sessionMu.Unlock()
			s.logger.Debug("session started", "session", msg.SessionID)

		case msgPeer:
			s.handlePeerMessage(msg)

		case msgEndSession:
			s.logger.Info("producer ended session")
			return
		}
	}
}

func (s *WebRTCSource) handlePeerMessage(msg signalMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := s.pc.SetRemoteDescription(offer); err != nil {
			s.logger.Error("set remote description failed", "error", err)
			return
		}
		answer, err := s.pc.CreateAnswer(nil)
		if err != nil {
			s.logger.Error("create answer failed", "error", err)
			return
		}
		if err := s.pc.SetLocalDescription(answer); err != nil {
			s.logger.Error("set local description failed", "error", err)
			return
		}
		if err := s.sig.sendSDP(s.session(), answer.Type.String(), answer.SDP); err != nil {
			s.logger.Error("send answer failed", "error", err)
		}
	}

	if msg.ICE != nil {
		if err := s.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			s.logger.Warn("add ice candidate failed", "error", err)
		}
	}
}

func (s *WebRTCSource) handleVideoTrack(track *webrtc.TrackRemote) {
	defer s.wg.Done()
	s.trackOnce.Do(func() { close(s.trackReady) })

	if s.cfg.KeyframeInterval > 0 {
		s.wg.Add(1)
		go s.requestKeyframes(uint32(track.SSRC()))
	}

	depacketizer := &codecs.H264Packet{}
	for s.ctx.Err() == nil {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.logger.Warn("read rtp failed", "error", err)
			}
			return
		}
		s.packets.Add(1)

		nal, err := depacketizer.Unmarshal(pkt.Payload)
		if err != nil || len(nal) == 0 {
			continue
		}
		if _, err := s.dec.Write(nal); err != nil {
			if s.ctx.Err() == nil {
				s.logger.Warn("decoder write failed", "error", err)
			}
			return
		}
	}
}

// requestKeyframes sends periodic picture loss indications.
func (s *WebRTCSource) requestKeyframes(ssrc uint32) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.KeyframeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
				s.logger.Debug("send pli failed", "error", err)
			}
		}
	}
}

// Read returns the newest decoded frame.
func (s *WebRTCSource) Read(ctx context.Context, dst *gocv.Mat) error {
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	return s.dec.Next(ctx, dst)
}

// Packets returns how many RTP packets have been received.
func (s *WebRTCSource) Packets() uint64 { return s.packets.Load() }

// Close ends the session and releases the connection and decoder.
func (s *WebRTCSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.sig != nil {
			if id := s.session(); id != "" {
				s.sig.endSession(id)
			}
			s.sig.close()
		}
		if s.pc != nil {
			s.pc.Close()
		}
		s.wg.Wait()
		if s.dec != nil {
			s.dec.Close()
		}
	})
	return nil
}
