package telephony

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callback-agent/internal/config"
)

func TestSMSClientSendRejectsNonE164(t *testing.T) {
	cfg := &config.Config{
		TelephonyAccountSID: "ACxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx",
		TelephonyAuthToken:  "token",
		TelephonyFromNumber: "+14155550100",
	}
	s := NewSMSClient(cfg, zerolog.Nop())

	if err := s.Send(context.Background(), "not-a-number", "hi"); err == nil {
		t.Error("Send() with a non-E.164 destination, want error")
	}
}
