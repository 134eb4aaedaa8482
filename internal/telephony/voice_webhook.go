package telephony

import (
	"net/http"
	"net/url"

	"github.com/twilio/twilio-go/twiml"

	"github.com/lexiqai/callback-agent/internal/config"
)

// VoiceWebhookHandler answers Twilio's call webhook — hit once for an
// inbound call and once for every outbound leg the Dispatcher places —
// with TwiML opening a bidirectional Media Stream back to this service.
// An outbound leg's webhook URL carries a stream_id query parameter
// identifying the child session the Dispatcher pre-created; that
// parameter is forwarded onto the stream URL unchanged so the Session
// Orchestrator's media-stream handler can link the connection back to
// the right session instead of minting a new one.
func VoiceWebhookHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamURL := url.URL{Path: "/voice/stream"}
		if streamID := r.URL.Query().Get("stream_id"); streamID != "" {
			q := streamURL.Query()
			q.Set("stream_id", streamID)
			streamURL.RawQuery = q.Encode()
		}

		stream := &twiml.VoiceStream{
			Url: cfg.WebSocketURL + streamURL.String(),
			InnerElements: []twiml.Element{
				&twiml.VoiceParameter{Name: "from", Value: "{{From}}"},
				&twiml.VoiceParameter{Name: "to", Value: "{{To}}"},
			},
		}
		connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}

		doc, err := twiml.Voice([]twiml.Element{connect})
		if err != nil {
			http.Error(w, "failed to build twiml", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(doc))
	}
}
