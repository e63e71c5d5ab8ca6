package video

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types of the GStreamer webrtcsink signalling protocol.
const (
	msgWelcome        = "welcome"
	msgList           = "list"
	msgStartSession   = "startSession"
	msgSessionStarted = "sessionStarted"
	msgPeer           = "peer"
	msgEndSession     = "endSession"
	msgError          = "error"
)

// Producer is a stream advertised by the signalling server.
type Producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

// Name returns the producer's advertised name, if any.
func (p Producer) Name() string { return p.Meta["name"] }

type sdpPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type icePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type signalMessage struct {
	Type      string      `json:"type"`
	PeerID    string      `json:"peerId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Producers []Producer  `json:"producers,omitempty"`
	SDP       *sdpPayload `json:"sdp,omitempty"`
	ICE       *icePayload `json:"ice,omitempty"`
	Details   string      `json:"details,omitempty"`
}

// signaller speaks the webrtcsink JSON protocol over a websocket.
type signaller struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	timeout time.Duration
}

func dialSignaller(ctx context.Context, url string, timeout time.Duration) (*signaller, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("signalling connect failed: %w", err)
	}
	return &signaller{conn: conn, timeout: timeout}, nil
}

func (s *signaller) send(msg signalMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteJSON(msg)
}

// receive reads one message. A zero timeout blocks indefinitely.
func (s *signaller) receive(timeout time.Duration) (signalMessage, error) {
	var msg signalMessage
	if timeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(timeout))
		defer s.conn.SetReadDeadline(time.Time{})
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decode signalling message: %w", err)
	}
	if msg.Type == msgError {
		return msg, fmt.Errorf("signalling error: %s", msg.Details)
	}
	return msg, nil
}

// expect reads until a message of the wanted type arrives.
func (s *signaller) expect(want string) (signalMessage, error) {
	deadline := time.Now().Add(s.timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return signalMessage{}, fmt.Errorf("timeout waiting for %s", want)
		}
		msg, err := s.receive(left)
		if err != nil {
			return msg, err
		}
		if msg.Type == want {
			return msg, nil
		}
	}
}

// welcome returns our peer id.
func (s *signaller) welcome() (string, error) {
	msg, err := s.expect(msgWelcome)
	if err != nil {
		return "", fmt.Errorf("welcome failed: %w", err)
	}
	return msg.PeerID, nil
}

// findProducer lists producers and picks the one called name. An empty name
// picks the first producer.
func (s *signaller) findProducer(name string) (Producer, error) {
	if err := s.send(signalMessage{Type: msgList}); err != nil {
		return Producer{}, err
	}
	msg, err := s.expect(msgList)
	if err != nil {
		return Producer{}, fmt.Errorf("list producers: %w", err)
	}
	for _, p := range msg.Producers {
		if name == "" || p.Name() == name {
			return p, nil
		}
	}
	if name == "" {
		return Producer{}, fmt.Errorf("no producers available")
	}
	return Producer{}, fmt.Errorf("%s producer not found in %d producers", name, len(msg.Producers))
}

func (s *signaller) startSession(producerID string) error {
	return s.send(signalMessage{Type: msgStartSession, PeerID: producerID})
}

func (s *signaller) sendSDP(sessionID string, typ, sdp string) error {
	return s.send(signalMessage{
		Type:      msgPeer,
		SessionID: sessionID,
		SDP:       &sdpPayload{Type: typ, SDP: sdp},
	})
}

func (s *signaller) sendICE(sessionID string, ice icePayload) error {
	return s.send(signalMessage{Type: msgPeer, SessionID: sessionID, ICE: &ice})
}

func (s *signaller) endSession(sessionID string) error {
	return s.send(signalMessage{Type: msgEndSession, SessionID: sessionID})
}

func (s *signaller) close() error {
	return s.conn.Close()
}
