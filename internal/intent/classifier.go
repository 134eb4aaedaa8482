// Package intent classifies a customer/teammate/unknown utterance into a
// fixed, role-specific closed set, and pre-filters trivial utterances
// before the expensive classification call.
package intent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/session"
)

// Intent is a normalized classification result.
type Intent string

const (
	NoIntentDetected Intent = "no_intent_detected"

	// Customer inbound
	ShiftCancelAppointment Intent = "shift_cancel_appointment"
	InvoicingQuestion      Intent = "invoicing_question"
	AppointmentInfo        Intent = "appointment_info"
	AdditionalDemands      Intent = "additional_demands"

	// Teammate inbound
	DelayNotification Intent = "delay_notification"
	ScheduleMeeting    Intent = "schedule_meeting"
	CheckSchedule      Intent = "check_schedule"
	TeamCoordination   Intent = "team_coordination"

	// Unknown/potential client inbound
	FreeCapacityInquiry Intent = "free_capacity_inquiry"
	ServiceInquiry      Intent = "service_inquiry"
	AppointmentRequest  Intent = "appointment_request"

	// Outbound verification
	AppointmentConfirmed   Intent = "appointment_confirmed"
	AppointmentRescheduled Intent = "appointment_rescheduled"
	AppointmentDeclined    Intent = "appointment_declined"
	UnclearResponse        Intent = "unclear_response"
)

// closedSets maps each role (plus a synthetic "outbound_verify" role) to
// its fixed set of allowed intents.
var closedSets = map[string][]Intent{
	"customer": {ShiftCancelAppointment, InvoicingQuestion, AppointmentInfo, AdditionalDemands, NoIntentDetected},
	"teammate": {DelayNotification, ScheduleMeeting, CheckSchedule, TeamCoordination, NoIntentDetected},
	"unknown":  {FreeCapacityInquiry, ServiceInquiry, AppointmentRequest, NoIntentDetected},
	"outbound_verify": {
		AppointmentConfirmed, AppointmentRescheduled, AppointmentDeclined, UnclearResponse, NoIntentDetected,
	},
}

// keywordFallbackEntry pairs one raw-transcript substring with the
// intent it maps to.
type keywordFallbackEntry struct {
	keyword string
	intent  Intent
}

// keywordFallback maps raw-transcript substrings to an intent, applied
// when neither the LLM nor substring-normalization produces one. Kept
// as an ordered slice, not a map, so an utterance matching more than
// one keyword (e.g. both "cancel" and "invoice") always resolves to
// the same intent across calls.
var keywordFallback = []keywordFallbackEntry{
	{"shift", ShiftCancelAppointment},
	{"cancel", ShiftCancelAppointment},
	{"reschedule", ShiftCancelAppointment},
	{"invoice", InvoicingQuestion},
	{"bill", InvoicingQuestion},
	{"late", DelayNotification},
	{"delay", DelayNotification},
	{"running late", DelayNotification},
	{"confirm", AppointmentConfirmed},
	{"yes", AppointmentConfirmed},
	{"no", AppointmentDeclined},
	{"decline", AppointmentDeclined},
}

// Classifier runs a fixed fallback chain: LLM call, then substring
// normalization, then keyword heuristics, then no_intent_detected.
type Classifier struct {
	llm   llm.Client
	audit audit.Store // optional; nil disables AuditRecord{kind=intent} emission
}

// New constructs a Classifier over the given LLM collaborator client.
func New(c llm.Client) *Classifier {
	return &Classifier{llm: c}
}

// WithAudit attaches an audit sink so every Classify call emits
// AuditRecord{kind=intent}.
func (c *Classifier) WithAudit(a audit.Store) *Classifier {
	c.audit = a
	return c
}

// Classify returns the normalized intent, the raw LLM string (for the
// audit record), and an error only if even the fallback chain could not
// run (never returned for LLM failures, which degrade to the heuristic).
func (c *Classifier) Classify(ctx context.Context, sessionID string, text string, role session.Role, isOutboundVerify bool) (Intent, string, error) {
	roleKey := roleKeyFor(role, isOutboundVerify)
	allowed := closedSets[roleKey]

	raw, err := c.callLLM(ctx, text, allowed)

	var normalized Intent
	var matched bool
	if err == nil {
		normalized, matched = normalize(raw, allowed)
	}
	if !matched {
		normalized, matched = heuristic(text, allowed)
	}
	if !matched {
		normalized = NoIntentDetected
	}

	c.emitAudit(ctx, sessionID, normalized, raw)
	return normalized, raw, nil
}

func (c *Classifier) emitAudit(ctx context.Context, sessionID string, normalized Intent, raw string) {
	if c.audit == nil {
		return
	}
	_ = c.audit.Append(ctx, audit.Record{
		SessionID:    sessionID,
		Kind:         audit.KindIntent,
		TimestampUTC: timeNowUTC(),
		Payload:      map[string]any{"intent": string(normalized), "raw": raw},
	})
}

var timeNowUTC = func() time.Time { return time.Now().UTC() }

func roleKeyFor(role session.Role, isOutboundVerify bool) string {
	if isOutboundVerify {
		return "outbound_verify"
	}
	switch role {
	case session.RoleCustomer:
		return "customer"
	case session.RoleTeammate:
		return "teammate"
	default:
		return "unknown"
	}
}

// callLLM asks for a single lowercase category token at temperature=0.
func (c *Classifier) callLLM(ctx context.Context, text string, allowed []Intent) (string, error) {
	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt(allowed),
		Messages:     []llm.Message{{Role: "user", Content: text}},
		Temperature:  0,
		MaxTokens:    50,
	})
	if err != nil {
		return "", fmt.Errorf("intent: llm classify: %w", err)
	}
	return strings.TrimSpace(strings.ToLower(resp.Text)), nil
}

func systemPrompt(allowed []Intent) string {
	var names []string
	for _, i := range allowed {
		names = append(names, string(i))
	}
	return fmt.Sprintf(
		"Classify the caller's utterance into exactly one of these categories: %s. "+
			"Respond with only the lowercase category token, nothing else.",
		strings.Join(names, ", "),
	)
}

// normalize matches the raw LLM string against the allowed set by
// substring, since models occasionally wrap the token in punctuation or
// a short sentence.
func normalize(raw string, allowed []Intent) (Intent, bool) {
	for _, i := range allowed {
		if strings.Contains(raw, string(i)) {
			return i, true
		}
	}
	return "", false
}

// heuristic applies keyword matching over the raw transcript, restricted
// to whichever of those intents are in the caller's allowed set. Entries
// are tried in keywordFallback's fixed order so an utterance matching
// more than one keyword always resolves the same way.
func heuristic(text string, allowed []Intent) (Intent, bool) {
	lower := strings.ToLower(text)
	for _, entry := range keywordFallback {
		kw, i := entry.keyword, entry.intent
		if !strings.Contains(lower, kw) {
			continue
		}
		for _, a := range allowed {
			if a == i {
				return i, true
			}
		}
	}
	return "", false
}
