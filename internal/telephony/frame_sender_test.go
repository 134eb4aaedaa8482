package telephony

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

func TestTwilioFrameSenderWritesMediaEvent(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("server read failed: %v", err)
			return
		}
		received <- msg
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	sender := NewTwilioFrameSender(conn, "MZtest123")
	frame := []byte{1, 2, 3, 4}
	if err := sender.SendFrame("internal-stream-id", frame); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}

	msg := <-received
	body := string(msg)
	if !strings.Contains(body, `"streamSid":"MZtest123"`) {
		t.Errorf("expected the frame's streamSid to be the Twilio-negotiated one, got %q", body)
	}
	if strings.Contains(body, "internal-stream-id") {
		t.Errorf("expected the internal streamID argument to be ignored, got %q", body)
	}
	wantPayload := base64.StdEncoding.EncodeToString(frame)
	if !strings.Contains(body, wantPayload) {
		t.Errorf("expected base64 payload %q in message, got %q", wantPayload, body)
	}
}
