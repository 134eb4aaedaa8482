package workflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/filler"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/session"
)

// Customer-Reschedule states.
const (
	stateIdle                 = "Idle"
	statePreload              = "Preload"
	stateAwaitingSelection    = "AwaitingSelection"
	stateAwaitingNewTime      = "AwaitingNewTime"
	stateAwaitingMissingInfo  = "AwaitingMissingInfo"
	stateAwaitingConfirmation = "AwaitingConfirmation"
	stateApplyingUpdate       = "ApplyingUpdate"
	statePostUpdate           = "PostUpdate"
	stateDone                 = "Done"
)

const maxRescheduleYearsOut = 365 * 24 * time.Hour
const minRescheduleLookback = -1 * time.Hour

// StartCustomerReschedule installs a fresh Customer-Reschedule workflow in
// the Preload state and attaches preload, a calendar fetch the caller has
// already started.
// Returns the filler-cueing turn the orchestrator should speak
// immediately.
func StartCustomerReschedule(sess *session.Session, preload *session.Preloaded) Result {
	sess.Preloaded = preload
	sess.SetWorkflow(&session.WorkflowInstance{
		Kind:  session.WorkflowCustomerReschedule,
		State: statePreload,
	})
	return Result{
		Say:            "Let me check your appointments.",
		FillerCategory: filler.CategoryLookup,
		WantsFiller:    true,
	}
}

func (e *Engine) stepReschedule(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string, classified intent.Intent) Result {
	switch wf.State {
	case statePreload:
		return e.rescheduleAwaitSelection(ctx, sess, wf, text)
	case stateAwaitingSelection:
		return e.rescheduleAwaitSelection(ctx, sess, wf, text)
	case stateAwaitingNewTime:
		return e.rescheduleAwaitNewTime(ctx, sess, wf, text)
	case stateAwaitingMissingInfo:
		return e.rescheduleAwaitMissingInfo(ctx, sess, wf, text)
	case stateAwaitingConfirmation:
		return e.rescheduleAwaitConfirmation(ctx, sess, wf, text)
	case statePostUpdate:
		return e.rescheduleAwaitPostUpdate(ctx, sess, wf, text)
	default:
		return Result{Say: "I'm sorry, something went wrong on my end.", Done: true, CallEnd: true}
	}
}

// rescheduleAwaitSelection implements both Preload (first entry, blocks
// on the preload future) and AwaitingSelection (subsequent turns).
func (e *Engine) rescheduleAwaitSelection(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string) Result {
	select {
	case <-sess.Preloaded.Done():
	case <-ctx.Done():
		return Result{Say: "I'm sorry, something went wrong on my end.", Done: true, CallEnd: true}
	}
	appts, err := sess.Preloaded.Result()
	if err != nil || len(appts) == 0 {
		wf.State = stateDone
		sess.SetWorkflow(wf)
		return Result{Say: "I couldn't find any upcoming appointments for you.", Done: true, CallEnd: true}
	}

	if wf.State == statePreload {
		wf.State = stateAwaitingSelection
		sess.SetWorkflow(wf)
		return Result{Say: formatAppointmentList(appts)}
	}

	selection, ok := e.parseSelection(ctx, text, len(appts))
	if !ok {
		wf.Memory.ClarificationAttempts++
		sess.SetWorkflow(wf)
		return Result{Say: "Sorry, which appointment would you like — can you give me the number?"}
	}

	chosen := appts[selection-1]
	wf.Memory.SelectedAppointment = &chosen
	wf.Memory.Appointment = &chosen
	wf.Memory.ClarificationAttempts = 0

	if newTime, hasTime := e.parseTimeKeywords(ctx, text); hasTime {
		wf.Memory.CandidateNewTime = &newTime
		wf.State = stateAwaitingConfirmation
		sess.SetWorkflow(wf)
		return Result{Say: confirmationPrompt(newTime)}
	}

	wf.State = stateAwaitingNewTime
	sess.SetWorkflow(wf)
	return Result{Say: "What new date and time would you like?"}
}

func (e *Engine) rescheduleAwaitNewTime(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string) Result {
	parsed, missingField, ok := e.parseNewTime(ctx, text)
	if !ok {
		wf.State = stateAwaitingMissingInfo
		wf.Memory.MissingField = missingField
		sess.SetWorkflow(wf)
		return Result{Say: fmt.Sprintf("Could you tell me the %s for your new appointment time?", missingField)}
	}

	if rejectReason := validateNewTime(parsed); rejectReason != "" {
		return Result{Say: rejectReason}
	}

	wf.Memory.CandidateNewTime = &session.TimeSlot{DateTime: parsed, TimeZone: "UTC"}
	wf.State = stateAwaitingConfirmation
	sess.SetWorkflow(wf)
	return Result{Say: confirmationPrompt(*wf.Memory.CandidateNewTime)}
}

func (e *Engine) rescheduleAwaitMissingInfo(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string) Result {
	combined := wf.Memory.MissingField + ": " + text
	parsed, missingField, ok := e.parseNewTime(ctx, combined)
	if !ok {
		wf.State = stateDone
		sess.SetWorkflow(wf)
		return Result{Say: "I wasn't able to pin down a new time — let's try again another time.", Done: true, CallEnd: true}
	}
	_ = missingField

	if rejectReason := validateNewTime(parsed); rejectReason != "" {
		return Result{Say: rejectReason}
	}

	wf.Memory.CandidateNewTime = &session.TimeSlot{DateTime: parsed, TimeZone: "UTC"}
	wf.State = stateAwaitingConfirmation
	sess.SetWorkflow(wf)
	return Result{Say: confirmationPrompt(*wf.Memory.CandidateNewTime)}
}

func (e *Engine) rescheduleAwaitConfirmation(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string) Result {
	yes, ok := e.askYesNo(ctx, text)
	if !ok {
		return Result{Say: "Sorry, was that a yes or a no?"}
	}
	if !yes {
		wf.State = stateAwaitingNewTime
		sess.SetWorkflow(wf)
		return Result{Say: "No problem — what new date and time would work instead?"}
	}

	wf.State = stateApplyingUpdate
	sess.SetWorkflow(wf)
	return e.rescheduleApplyUpdate(ctx, sess, wf)
}

func (e *Engine) rescheduleApplyUpdate(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance) Result {
	appt := wf.Memory.SelectedAppointment
	newTime := wf.Memory.CandidateNewTime
	if appt == nil || newTime == nil {
		wf.State = stateDone
		sess.SetWorkflow(wf)
		return Result{Say: "Something went wrong applying your update.", Done: true, CallEnd: true}
	}

	duration := appt.End.DateTime.Sub(appt.Start.DateTime)
	newEnd := session.TimeSlot{DateTime: newTime.DateTime.Add(duration), TimeZone: newTime.TimeZone}

	err := e.calendar.UpdateAppointment(ctx, appt.ID, *newTime, newEnd, "confirmed")
	e.emitCalendarUpdateAudit(ctx, sess, appt.ID, appt.Start, *newTime, err)
	if err != nil {
		wf.State = stateDone
		sess.SetWorkflow(wf)
		return Result{Say: "I'm sorry, I wasn't able to update your appointment. Please try again later.", Done: true, CallEnd: true}
	}

	wf.State = statePostUpdate
	sess.SetWorkflow(wf)
	return Result{
		Say:            "Your appointment has been updated. Do you need help with anything else?",
		FillerCategory: filler.CategoryCalendarUpdate,
	}
}

func (e *Engine) rescheduleAwaitPostUpdate(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string) Result {
	yes, ok := e.askYesNo(ctx, text)
	if !ok || !yes {
		wf.State = stateDone
		sess.SetWorkflow(wf)
		return Result{Say: "Thanks for calling, have a great day.", Done: true, CallEnd: true}
	}

	wf.State = stateIdle
	wf.Memory = session.WorkflowMemory{}
	sess.SetWorkflow(wf)
	return Result{Say: "Sure, what else can I help you with?"}
}

// emitCalendarUpdateAudit records a calendar_update audit entry carrying
// the appointment's before and after datetimes, so the audit trail shows
// exactly what changed regardless of whether the write succeeded.
func (e *Engine) emitCalendarUpdateAudit(ctx context.Context, sess *session.Session, appointmentID string, before, after session.TimeSlot, err error) {
	if e.audit == nil {
		return
	}
	success := err == nil
	payload := map[string]any{
		"appointment_id": appointmentID,
		"success":        success,
		"before":         before.DateTime.Format(time.RFC3339),
		"after":          after.DateTime.Format(time.RFC3339),
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	_ = e.audit.Append(ctx, audit.Record{
		SessionID:    sess.StreamID,
		Kind:         audit.KindCalendarUpdate,
		TimestampUTC: timeNowUTC(),
		Payload:      payload,
	})
}

func formatAppointmentList(appts []session.Appointment) string {
	var b strings.Builder
	b.WriteString("Here is what I found: ")
	for i, a := range appts {
		fmt.Fprintf(&b, "%d. %s on %s. ", i+1, a.Summary, a.Start.DateTime.Format("Monday Jan 2 at 3:04 PM"))
	}
	b.WriteString("Which one would you like to change?")
	return b.String()
}

func confirmationPrompt(t session.TimeSlot) string {
	return fmt.Sprintf("Just to confirm, you want to move your appointment to %s. Is that correct?",
		t.DateTime.Format("Monday Jan 2 at 3:04 PM"))
}

// parseSelection asks the LLM to resolve the utterance to a 1-indexed
// appointment number, or "unclear".
func (e *Engine) parseSelection(ctx context.Context, text string, count int) (int, bool) {
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: fmt.Sprintf(
			"The caller is choosing one of %d listed appointments by number. "+
				"Respond with only the 1-indexed integer they mean, or the word unclear.", count),
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: 0,
		MaxTokens:   15,
	})
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(normalizeWord(resp.Text))
	if err != nil || n < 1 || n > count {
		return 0, false
	}
	return n, true
}

// parseTimeKeywords opportunistically parses a new time out of the same
// utterance that selected an appointment, so time parsing can run in
// the same turn as the selection when the caller volunteers one.
func (e *Engine) parseTimeKeywords(ctx context.Context, text string) (session.TimeSlot, bool) {
	if !containsAny(text, "am", "pm", "tomorrow", "next", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", ":") {
		return session.TimeSlot{}, false
	}
	parsed, _, ok := e.parseNewTime(ctx, text)
	if !ok {
		return session.TimeSlot{}, false
	}
	return session.TimeSlot{DateTime: parsed, TimeZone: "UTC"}, true
}

// parseNewTime asks the LLM to resolve free text into an RFC3339
// datetime, or to name which field (date or time) is missing.
func (e *Engine) parseNewTime(ctx context.Context, text string) (time.Time, string, bool) {
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Parse the requested appointment date/time into RFC3339 " +
			"(e.g. 2026-08-04T15:00:00Z), assuming UTC if no timezone is given. " +
			"If only a date is given with no time, respond with exactly: missing:time. " +
			"If only a time is given with no date, respond with exactly: missing:date. " +
			"If you cannot tell at all, respond with exactly: unclear.",
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: 0,
		MaxTokens:   30,
	})
	if err != nil {
		return time.Time{}, "", false
	}

	trimmed := strings.TrimSpace(resp.Text)
	lower := normalizeWord(trimmed)
	if strings.HasPrefix(lower, "missing:") {
		return time.Time{}, strings.TrimPrefix(lower, "missing:"), false
	}
	if lower == "unclear" {
		return time.Time{}, "", false
	}

	// Timestamps are parsed from the original-case text: RFC3339
	// requires an uppercase "Z" zone designator, which the
	// lowercased form above would have destroyed.
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, "", false
	}
	return parsed, "", true
}

// validateNewTime enforces the two rejection rules for a candidate
// reschedule time: not over a year out, and not more than an hour in the
// past (minRescheduleLookback).
func validateNewTime(t time.Time) string {
	now := timeNowUTC()
	if t.After(now.Add(maxRescheduleYearsOut)) {
		return "That date is too far in the future — could you pick something within the next year?"
	}
	if t.Before(now.Add(minRescheduleLookback)) {
		return "That time has already passed — could you pick a different time?"
	}
	return ""
}

// timeNowUTC is the only place this package calls time.Now, so the
// orchestrator can route it through a fake clock in tests if ever
// needed.
var timeNowUTC = func() time.Time { return time.Now().UTC() }
