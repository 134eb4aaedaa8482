package telephony

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/lexiqai/callback-agent/internal/config"
	"github.com/lexiqai/callback-agent/internal/resilience"
	"github.com/lexiqai/callback-agent/internal/session"
	"github.com/lexiqai/callback-agent/internal/workflow"
)

// mediaOpenTimeout bounds how long a spawned outbound leg is allowed to
// go without its media stream opening before it's garbage-collected as
// a NoMedia failure.
const mediaOpenTimeout = 30 * time.Second

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

func isE164(phone string) bool {
	return e164Pattern.MatchString(phone)
}

// Dispatcher is the Outbound Dispatcher (C8): it spawns the child
// session for an outbound verification leg and places the call through
// the telephony provider, the way agentcall's callmanager.Manager tracks
// calls in a map keyed by id, generalized here to a call that's placed
// asynchronously and whose media stream arrives on a separate webhook.
type Dispatcher struct {
	client *twilio.RestClient
	cfg    *config.Config
	store  *session.Store
	cb     *resilience.CircuitBreaker
	logger zerolog.Logger
}

// NewDispatcher constructs a Dispatcher over the configured Twilio
// account.
func NewDispatcher(cfg *config.Config, store *session.Store, logger zerolog.Logger) *Dispatcher {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TelephonyAccountSID,
		Password: cfg.TelephonyAuthToken,
	})
	return &Dispatcher{
		client: client,
		cfg:    cfg,
		store:  store,
		cb: resilience.NewCircuitBreaker(
			"telephony-dispatch",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch implements workflow.Dispatcher: it validates the destination
// number, spawns a child Session pre-loaded with an Outbound-Verification
// workflow, places the call, and links parent/child in the Session Store
// before returning. Whether the call is ever actually answered and opens
// a media stream is tracked in the background; dispatch() itself only
// reports whether the call was placed.
func (d *Dispatcher) Dispatch(ctx context.Context, req workflow.DispatchRequest) (workflow.DispatchResult, error) {
	if !isE164(req.CustomerPhone) {
		return workflow.DispatchResult{}, fmt.Errorf("telephony: %q is not an E.164 number", req.CustomerPhone)
	}

	parent, ok := d.store.Get(req.ParentStreamID)
	if !ok {
		return workflow.DispatchResult{}, fmt.Errorf("telephony: parent session %q not found", req.ParentStreamID)
	}

	newTime, err := resolveNewTime(req.Appointment, req.DelayMinutes, req.AlternativeTime)
	if err != nil {
		return workflow.DispatchResult{}, fmt.Errorf("telephony: resolve new time: %w", err)
	}

	childStreamID := uuid.NewString()
	child := session.NewSession(childStreamID, "", session.DirectionOutbound, session.Peer{
		PhoneNumber: req.CustomerPhone,
		Role:        session.RoleCustomer,
		Language:    parent.Peer.Language,
	})
	greeting := workflow.StartOutboundVerify(child, req.Appointment, newTime, req.ParentStreamID, parent.Peer.PhoneNumber)
	child.SetPendingSay(greeting.Say)

	if err := d.store.Put(child); err != nil {
		return workflow.DispatchResult{}, fmt.Errorf("telephony: register child session: %w", err)
	}

	if err := d.waitCooldown(ctx); err != nil {
		d.store.Delete(childStreamID)
		return workflow.DispatchResult{}, fmt.Errorf("telephony: cooldown wait: %w", err)
	}

	callSID, err := d.placeCall(req.CustomerPhone, childStreamID)
	if err != nil {
		d.store.Delete(childStreamID)
		return workflow.DispatchResult{}, fmt.Errorf("telephony: place call: %w", err)
	}
	child.SetCallID(callSID)

	if err := d.store.LinkChild(req.ParentStreamID, childStreamID); err != nil {
		d.logger.Error().Err(err).Str("parent_stream_id", req.ParentStreamID).Msg("link child session failed")
	}

	go d.watchMediaOpen(child, callSID)

	return workflow.DispatchResult{ChildStreamID: childStreamID, CallID: callSID}, nil
}

// watchMediaOpen garbage-collects a spawned child session if its media
// stream never opens, mirroring agentcall's callmanager.waitForAnswer
// poll but driven by the session's own MediaOpen signal instead of a
// provider call-status poll, since the orchestrator already observes the
// Twilio "start" event directly.
func (d *Dispatcher) watchMediaOpen(child *session.Session, callSID string) {
	select {
	case <-child.MediaOpen():
		d.logger.Debug().Str("stream_id", child.StreamID).Str("call_id", callSID).Msg("outbound media stream opened")
	case <-time.After(mediaOpenTimeout):
		d.logger.Warn().
			Str("stream_id", child.StreamID).
			Str("call_id", callSID).
			Msg("no media stream opened for outbound call within timeout; discarding child session")
		d.store.Delete(child.StreamID)
	}
}

// waitCooldown blocks for OUTBOUND_COOLDOWN_SECONDS before a call is
// placed, giving the parent (teammate) leg time to fully tear down so
// the provider never has both legs of a delay-notification call up at
// once.
func (d *Dispatcher) waitCooldown(ctx context.Context) error {
	cooldown := time.Duration(d.cfg.OutboundCooldownSeconds) * time.Second
	if cooldown <= 0 {
		return nil
	}
	timer := time.NewTimer(cooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) placeCall(toE164, streamID string) (string, error) {
	var callSID string
	err := d.cb.Call(func() error {
		params := &openapi.CreateCallParams{}
		params.SetTo(toE164)
		params.SetFrom(d.cfg.TelephonyFromNumber)
		params.SetUrl(d.webhookURL(streamID))
		params.SetStatusCallback(d.statusCallbackURL(streamID))
		params.SetStatusCallbackEvent([]string{"completed", "no-answer", "busy", "failed"})

		resp, err := d.client.Api.CreateCall(params)
		if err != nil {
			return err
		}
		if resp.Sid == nil {
			return fmt.Errorf("telephony: create call response had no sid")
		}
		callSID = *resp.Sid
		return nil
	})
	return callSID, err
}

func (d *Dispatcher) webhookURL(streamID string) string {
	u := url.URL{Path: "/voice/outbound"}
	q := u.Query()
	q.Set("stream_id", streamID)
	u.RawQuery = q.Encode()
	return d.cfg.BaseURL + u.String()
}

func (d *Dispatcher) statusCallbackURL(streamID string) string {
	u := url.URL{Path: "/voice/outbound/status"}
	q := u.Query()
	q.Set("stream_id", streamID)
	u.RawQuery = q.Encode()
	return d.cfg.BaseURL + u.String()
}

// HealthCheck confirms the configured Twilio account is reachable and
// the credentials are still valid, used by the /ready endpoint.
func (d *Dispatcher) HealthCheck(ctx context.Context) (bool, error) {
	_, err := d.client.Api.FetchAccount(d.cfg.TelephonyAccountSID)
	if err != nil {
		return false, err
	}
	return true, nil
}

// wallClockFormats are the time-of-day layouts the Teammate-Delay
// extraction tool can hand back in alternativeTime (e.g. "18:00" or
// "6:00 PM"), tried against the appointment's own date and timezone
// before falling back to delayMinutes.
var wallClockFormats = []string{"15:04", "3:04 PM", "3:04PM", "3 PM", "3PM"}

// resolveNewTime turns the Teammate-Delay workflow's {delayMinutes,
// alternativeTime} pair into the single TimeSlot the Outbound-Verification
// workflow proposes to the customer. alternativeTime takes precedence: it
// is tried first as a full RFC3339 timestamp, then as a wall-clock time
// applied to the existing appointment's date; otherwise the delay is
// applied to the existing appointment's start time.
func resolveNewTime(appt session.Appointment, delayMinutes int, alternativeTime string) (session.TimeSlot, error) {
	if alternativeTime != "" {
		if t, err := time.Parse(time.RFC3339, alternativeTime); err == nil {
			return session.TimeSlot{DateTime: t, TimeZone: appt.Start.TimeZone}, nil
		}
		if t, ok := parseWallClockOnAppointmentDate(appt, alternativeTime); ok {
			return session.TimeSlot{DateTime: t, TimeZone: appt.Start.TimeZone}, nil
		}
	}
	if delayMinutes > 0 {
		return session.TimeSlot{
			DateTime: appt.Start.DateTime.Add(time.Duration(delayMinutes) * time.Minute),
			TimeZone: appt.Start.TimeZone,
		}, nil
	}
	return session.TimeSlot{}, fmt.Errorf("neither a parseable alternative time nor a positive delay was given")
}

// parseWallClockOnAppointmentDate parses a bare time-of-day string
// (e.g. "18:00") against each of wallClockFormats and combines it with
// the appointment's own calendar date, since the extraction tool hands
// back only the time when the customer said something like "how about
// 6pm instead".
func parseWallClockOnAppointmentDate(appt session.Appointment, text string) (time.Time, bool) {
	loc := appt.Start.DateTime.Location()
	for _, layout := range wallClockFormats {
		clock, err := time.Parse(layout, strings.TrimSpace(text))
		if err != nil {
			continue
		}
		y, m, d := appt.Start.DateTime.Date()
		return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), true
	}
	return time.Time{}, false
}
