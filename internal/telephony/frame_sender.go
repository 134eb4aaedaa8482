package telephony

import (
	"encoding/base64"
	"sync"

	"github.com/gorilla/websocket"
)

// TwilioFrameSender adapts a live Twilio Media Streams WebSocket
// connection to media.FrameSender, writing outbound frames directly
// onto the connection. Twilio assigns its own streamSid per
// connection, which may differ from
// the internal session streamId a spawned outbound leg was registered
// under, so the sender captures the provider's streamSid itself rather
// than trusting the one SendFrame's caller passes in.
type TwilioFrameSender struct {
	mu            sync.Mutex
	conn          *websocket.Conn
	twilioStreamSid string
}

// NewTwilioFrameSender constructs a sender bound to one connection's
// negotiated Twilio streamSid.
func NewTwilioFrameSender(conn *websocket.Conn, twilioStreamSid string) *TwilioFrameSender {
	return &TwilioFrameSender{conn: conn, twilioStreamSid: twilioStreamSid}
}

// SendFrame writes one µ-law frame to Twilio as a "media" event. The
// streamID parameter is accepted to satisfy media.FrameSender but
// ignored in favor of the connection's own negotiated streamSid.
func (s *TwilioFrameSender) SendFrame(streamID string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := map[string]any{
		"event":     "media",
		"streamSid": s.twilioStreamSid,
		"media": map[string]any{
			"payload": base64.StdEncoding.EncodeToString(frame),
		},
	}
	return s.conn.WriteJSON(msg)
}
