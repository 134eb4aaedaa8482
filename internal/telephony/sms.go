package telephony

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/lexiqai/callback-agent/internal/config"
	"github.com/lexiqai/callback-agent/internal/resilience"
)

// SMSClient sends the text messages the Termination Controller promises
// on behalf of a finished outbound leg: the Teammate-Delay workflow's
// "I'll text you their choice" and the Outbound-Verification workflow's
// post-call notification to the parent.
type SMSClient struct {
	client *twilio.RestClient
	cfg    *config.Config
	cb     *resilience.CircuitBreaker
	logger zerolog.Logger
}

// NewSMSClient constructs an SMSClient over the configured Twilio
// account, sharing the same credentials the Dispatcher uses for calls.
func NewSMSClient(cfg *config.Config, logger zerolog.Logger) *SMSClient {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TelephonyAccountSID,
		Password: cfg.TelephonyAuthToken,
	})
	return &SMSClient{
		client: client,
		cfg:    cfg,
		cb: resilience.NewCircuitBreaker(
			"telephony-sms",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger.With().Str("component", "sms").Logger(),
	}
}

// Send delivers a single text message to an E.164 destination.
func (s *SMSClient) Send(ctx context.Context, toE164, body string) error {
	if !isE164(toE164) {
		return fmt.Errorf("telephony: %q is not an E.164 number", toE164)
	}

	return s.cb.Call(func() error {
		params := &openapi.CreateMessageParams{}
		params.SetTo(toE164)
		params.SetFrom(s.cfg.TelephonyFromNumber)
		params.SetBody(body)

		_, err := s.client.Api.CreateMessage(params)
		return err
	})
}

// HealthCheck confirms the configured Twilio account is reachable.
func (s *SMSClient) HealthCheck(ctx context.Context) (bool, error) {
	_, err := s.client.Api.FetchAccount(s.cfg.TelephonyAccountSID)
	if err != nil {
		return false, err
	}
	return true, nil
}
