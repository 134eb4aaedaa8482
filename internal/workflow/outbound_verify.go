package workflow

import (
	"context"
	"fmt"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/session"
)

// Outbound-Verification states. Runs on the spawned
// child session.
const (
	stateGreeting       = "Greeting"
	stateAwaitingChoice = "AwaitingChoice"
	stateApplyingOutcome = "ApplyingOutcome"
	stateFarewell       = "Farewell"
)

// StartOutboundVerify installs a fresh Outbound-Verification workflow on
// a child session and returns the fixed greeting script.
func StartOutboundVerify(sess *session.Session, appt session.Appointment, newTime session.TimeSlot, parentStreamID, parentPhoneNumber string) Result {
	sess.SetWorkflow(&session.WorkflowInstance{
		Kind:  session.WorkflowOutboundVerify,
		State: stateAwaitingChoice,
		Memory: session.WorkflowMemory{
			ParentStreamID:    parentStreamID,
			ParentPhoneNumber: parentPhoneNumber,
			ProposedTime:      newTime,
			Appointment:       &appt,
		},
	})
	return Result{Say: fmt.Sprintf(
		"Hi, this is a courtesy call about your %s. We'd like to move it to %s. Does that work for you?",
		appt.Summary, newTime.DateTime.Format("Monday Jan 2 at 3:04 PM"),
	)}
}

func (e *Engine) stepOutboundVerify(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string, classified intent.Intent) Result {
	if wf.State != stateAwaitingChoice {
		return Result{Say: "Thanks, have a great day.", Done: true, CallEnd: true}
	}

	switch classified {
	case intent.AppointmentConfirmed:
		return e.verifyApply(ctx, sess, wf, "confirmed", true)
	case intent.AppointmentRescheduled:
		return e.verifyApply(ctx, sess, wf, "pending_manual_followup", false)
	case intent.AppointmentDeclined:
		return e.verifyApply(ctx, sess, wf, "cancelled", false)
	default:
		return e.verifyUnclear(ctx, sess, wf)
	}
}

func (e *Engine) verifyApply(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, status string, writeCalendar bool) Result {
	if writeCalendar && wf.Memory.Appointment != nil {
		before := wf.Memory.Appointment.Start
		duration := wf.Memory.Appointment.End.DateTime.Sub(wf.Memory.Appointment.Start.DateTime)
		newEnd := session.TimeSlot{DateTime: wf.Memory.ProposedTime.DateTime.Add(duration), TimeZone: wf.Memory.ProposedTime.TimeZone}
		err := e.calendar.UpdateAppointment(ctx, wf.Memory.Appointment.ID, wf.Memory.ProposedTime, newEnd, "confirmed")
		e.emitCalendarUpdateAudit(ctx, sess, wf.Memory.Appointment.ID, before, wf.Memory.ProposedTime, err)
	}

	e.emitCustomerResponseAudit(ctx, sess, wf, status)
	sess.SetOutcome(status)

	wf.State = stateFarewell
	sess.SetWorkflow(wf)
	return Result{Say: "Thank you, we've noted your response. Have a great day.", Done: true, CallEnd: true}
}

func (e *Engine) verifyUnclear(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance) Result {
	wf.Memory.UnclearReplies++
	if wf.Memory.UnclearReplies >= 2 {
		e.emitCustomerResponseAudit(ctx, sess, wf, "pending_manual_followup")
		sess.SetOutcome("pending_manual_followup")
		wf.State = stateFarewell
		sess.SetWorkflow(wf)
		return Result{Say: "No problem, someone will follow up with you directly. Have a great day.", Done: true, CallEnd: true}
	}

	sess.SetWorkflow(wf)
	return Result{Say: "Sorry, just to be clear — does the new time work for you, yes or no?"}
}

func (e *Engine) emitCustomerResponseAudit(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, status string) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Append(ctx, audit.Record{
		SessionID:    sess.StreamID,
		Kind:         audit.KindCustomerResponse,
		TimestampUTC: timeNowUTC(),
		Payload:      map[string]any{"status": status, "parent_stream_id": wf.Memory.ParentStreamID},
	})
}
