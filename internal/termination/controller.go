// Package termination implements the Termination Controller (C9):
// scheduleTermination's five-step grace-period drain: wait out the grace
// period, close the media bridge, write the termination audit record,
// remove the session from the store, and then notify by SMS a second
// later. A small controller sitting between the
// Session Orchestrator and the collaborators a session's shutdown
// touches.
package termination

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/session"
)

// smsOffset is the delay between a session's removal from the store
// and the parent notification SMS.
const smsOffset = 1 * time.Second

// MediaCloser is the narrow slice of the Media Bridge (C4) a terminated
// session needs closed, letting tests substitute a fake.
type MediaCloser interface {
	Close(streamID string) error
}

// SMSSender is the narrow slice of the SMS collaborator used for the
// post-termination parent notification.
type SMSSender interface {
	Send(ctx context.Context, toE164, body string) error
}

// Controller runs scheduleTermination for every session the Session
// Orchestrator ends.
type Controller struct {
	store  *session.Store
	media  MediaCloser
	audit  audit.Store
	sms    SMSSender
	logger zerolog.Logger
}

// NewController constructs a Controller over its collaborators. media
// and sms may be nil in configurations that don't need them (tests,
// or a deployment with no outbound-verification traffic).
func NewController(store *session.Store, media MediaCloser, auditStore audit.Store, sms SMSSender, logger zerolog.Logger) *Controller {
	return &Controller{
		store:  store,
		media:  media,
		audit:  auditStore,
		sms:    sms,
		logger: logger.With().Str("component", "termination").Logger(),
	}
}

// Schedule runs scheduleTermination(sessionId, reason, graceMillis) in
// its own goroutine, so the caller — the Session Orchestrator reacting
// to a workflow.Result.CallEnd — never blocks on the grace period.
func (c *Controller) Schedule(sess *session.Session, reason string, graceMillis int) {
	go c.run(sess, reason, graceMillis)
}

func (c *Controller) run(sess *session.Session, reason string, graceMillis int) {
	time.Sleep(time.Duration(graceMillis) * time.Millisecond)

	if c.media != nil {
		if err := c.media.Close(sess.StreamID); err != nil {
			c.logger.Warn().Err(err).Str("stream_id", sess.StreamID).Msg("media bridge close failed during termination")
		}
	}

	ctx := context.Background()
	if c.audit != nil {
		_ = c.audit.Append(ctx, audit.Record{
			SessionID:    sess.StreamID,
			Kind:         audit.KindWorkflowTransition,
			TimestampUTC: time.Now().UTC(),
			Payload:      map[string]any{"state": "ended", "reason": reason},
		})
	}

	c.store.Delete(sess.StreamID)

	if sess.Direction == session.DirectionOutbound {
		c.notifyParent(sess)
	}
}

// notifyParent sends the parent an outcome SMS, offset +1s after
// termination, for outbound children whose verification workflow
// resolved to a definite confirmed/cancelled outcome. A
// pending_manual_followup outcome is intentionally excluded:
// nothing was actually decided, so texting the parent a result would be
// misleading.
func (c *Controller) notifyParent(sess *session.Session) {
	outcome := sess.GetOutcome()
	if outcome != "confirmed" && outcome != "cancelled" {
		return
	}

	wf := sess.WorkflowSnapshot()
	if wf == nil || wf.Memory.ParentPhoneNumber == "" || c.sms == nil {
		return
	}

	phone := wf.Memory.ParentPhoneNumber
	body := smsBody(wf, outcome)

	go func() {
		time.Sleep(smsOffset)
		if err := c.sms.Send(context.Background(), phone, body); err != nil {
			c.logger.Error().Err(err).Str("stream_id", sess.StreamID).Msg("parent notification sms failed")
		}
	}()
}

func smsBody(wf *session.WorkflowInstance, outcome string) string {
	summary := "your customer"
	if wf.Memory.Appointment != nil && wf.Memory.Appointment.Summary != "" {
		summary = wf.Memory.Appointment.Summary
	}
	switch outcome {
	case "confirmed":
		return fmt.Sprintf("Update: the customer confirmed the new time for %s.", summary)
	case "cancelled":
		return fmt.Sprintf("Update: the customer declined the new time for %s.", summary)
	default:
		return fmt.Sprintf("Update on %s: response unclear, please follow up.", summary)
	}
}
