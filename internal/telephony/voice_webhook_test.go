package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lexiqai/callback-agent/internal/config"
)

func TestVoiceWebhookHandlerPlainInbound(t *testing.T) {
	cfg := &config.Config{WebSocketURL: "wss://example.test"}
	handler := VoiceWebhookHandler(cfg)

	req := httptest.NewRequest(http.MethodPost, "/voice/inbound", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "wss://example.test/voice/stream") {
		t.Errorf("response TwiML missing stream url, got %q", body)
	}
	if strings.Contains(body, "stream_id") {
		t.Errorf("plain inbound webhook should not forward a stream_id, got %q", body)
	}
	if !strings.Contains(body, `name="from"`) || !strings.Contains(body, `name="to"`) {
		t.Errorf("expected from/to Parameter elements, got %q", body)
	}
}

func TestVoiceWebhookHandlerForwardsStreamID(t *testing.T) {
	cfg := &config.Config{WebSocketURL: "wss://example.test"}
	handler := VoiceWebhookHandler(cfg)

	req := httptest.NewRequest(http.MethodPost, "/voice/outbound?stream_id=child-123", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "stream_id=child-123") {
		t.Errorf("expected stream_id to be forwarded onto the stream url, got %q", body)
	}
}
