package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/session"
)

func newVerifySession() (*session.Session, session.Appointment, session.TimeSlot) {
	now := time.Now().UTC()
	appt := session.Appointment{
		ID:      "evt-5",
		Summary: "Oil change",
		Start:   session.TimeSlot{DateTime: now.Add(24 * time.Hour)},
		End:     session.TimeSlot{DateTime: now.Add(25 * time.Hour)},
	}
	newTime := session.TimeSlot{DateTime: now.Add(48 * time.Hour), TimeZone: "UTC"}
	sess := session.NewSession("child-1", "CA1", session.DirectionOutbound, session.Peer{Role: session.RoleCustomer})
	StartOutboundVerify(sess, appt, newTime, "parent-1", "+15550001111")
	return sess, appt, newTime
}

func TestStartOutboundVerifyGreetingMentionsAppointment(t *testing.T) {
	sess, appt, _ := newVerifySession()

	wf := sess.WorkflowSnapshot()
	if wf == nil || wf.Kind != session.WorkflowOutboundVerify || wf.State != stateAwaitingChoice {
		t.Fatalf("expected AwaitingChoice OutboundVerify workflow, got %+v", wf)
	}
	if wf.Memory.Appointment == nil || wf.Memory.Appointment.ID != appt.ID {
		t.Errorf("expected memory to retain the appointment, got %+v", wf.Memory.Appointment)
	}
}

func TestOutboundVerifyConfirmedWritesCalendarAndEndsCall(t *testing.T) {
	sess, appt, newTime := newVerifySession()
	cal := &fakeCalendar{}
	aud := &fakeAuditStore{}
	e := NewEngine(&fakeLLM{}, cal, &fakeDispatcher{}, aud)

	res := e.Step(context.Background(), sess, "yes that works", intent.AppointmentConfirmed)

	if !res.Done || !res.CallEnd {
		t.Errorf("expected the call to end after a confirmed response, got %+v", res)
	}
	if !cal.updated {
		t.Errorf("expected the calendar to be updated on confirmation")
	}
	if sess.GetOutcome() != "confirmed" {
		t.Errorf("expected outcome 'confirmed', got %q", sess.GetOutcome())
	}

	var updateRecord *audit.Record
	for i := range aud.records {
		if aud.records[i].Kind == audit.KindCalendarUpdate {
			updateRecord = &aud.records[i]
		}
	}
	if updateRecord == nil {
		t.Fatal("expected a calendar_update audit record on confirmation")
	}
	wantBefore := appt.Start.DateTime.Format(time.RFC3339)
	wantAfter := newTime.DateTime.Format(time.RFC3339)
	if got := updateRecord.Payload["before"]; got != wantBefore {
		t.Errorf("calendar_update before = %v, want %v", got, wantBefore)
	}
	if got := updateRecord.Payload["after"]; got != wantAfter {
		t.Errorf("calendar_update after = %v, want %v", got, wantAfter)
	}
}

func TestOutboundVerifyDeclinedDoesNotWriteCalendar(t *testing.T) {
	sess, _, _ := newVerifySession()
	cal := &fakeCalendar{}
	aud := &fakeAuditStore{}
	e := NewEngine(&fakeLLM{}, cal, &fakeDispatcher{}, aud)

	res := e.Step(context.Background(), sess, "no thanks", intent.AppointmentDeclined)

	if !res.Done || !res.CallEnd {
		t.Errorf("expected the call to end after a declined response, got %+v", res)
	}
	if cal.updated {
		t.Errorf("expected the calendar not to be written on decline")
	}
	if sess.GetOutcome() != "cancelled" {
		t.Errorf("expected outcome 'cancelled', got %q", sess.GetOutcome())
	}
	for _, r := range aud.records {
		if r.Kind == audit.KindCalendarUpdate {
			t.Errorf("expected no calendar_update record on decline, got %+v", r)
		}
	}
}

func TestOutboundVerifyUnclearEscalatesAfterTwoReplies(t *testing.T) {
	sess, _, _ := newVerifySession()
	e := NewEngine(&fakeLLM{}, &fakeCalendar{}, &fakeDispatcher{}, nil)

	res := e.Step(context.Background(), sess, "huh what", intent.UnclearResponse)
	if res.Done || res.CallEnd {
		t.Fatalf("expected the first unclear reply to re-ask, not end the call, got %+v", res)
	}
	if sess.WorkflowSnapshot().State != stateAwaitingChoice {
		t.Errorf("expected to remain AwaitingChoice after one unclear reply")
	}

	res = e.Step(context.Background(), sess, "sorry what?", intent.UnclearResponse)
	if !res.Done || !res.CallEnd {
		t.Errorf("expected the second unclear reply to escalate and end the call, got %+v", res)
	}
	if sess.GetOutcome() != "pending_manual_followup" {
		t.Errorf("expected outcome 'pending_manual_followup', got %q", sess.GetOutcome())
	}
}

func TestOutboundVerifyRescheduledSetsManualFollowupWithoutCalendarWrite(t *testing.T) {
	sess, _, _ := newVerifySession()
	cal := &fakeCalendar{}
	e := NewEngine(&fakeLLM{}, cal, &fakeDispatcher{}, nil)

	e.Step(context.Background(), sess, "can we pick a different time", intent.AppointmentRescheduled)

	if cal.updated {
		t.Errorf("expected no calendar write when the customer asks to reschedule again")
	}
	if sess.GetOutcome() != "pending_manual_followup" {
		t.Errorf("expected outcome 'pending_manual_followup', got %q", sess.GetOutcome())
	}
}
