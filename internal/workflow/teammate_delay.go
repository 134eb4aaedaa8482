package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/session"
)

// Teammate-Delay states.
const (
	stateGathering  = "Gathering"
	stateLookup     = "Lookup"
	stateConfirming = "Confirming"
	stateDispatching = "Dispatching"
	stateEnding     = "Ending"
)

var gatherDelayTool = llm.ToolDefinition{
	Name:        "capture_delay_details",
	Description: "Capture the delay details the teammate has given so far",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"delayMinutes":    map[string]any{"type": "integer"},
			"customerName":    map[string]any{"type": "string"},
			"alternativeTime": map[string]any{"type": "string"},
		},
	},
}

type delayDetails struct {
	DelayMinutes    int    `json:"delayMinutes"`
	CustomerName    string `json:"customerName"`
	AlternativeTime string `json:"alternativeTime"`
}

// StartTeammateDelay installs a fresh Teammate-Delay workflow.
func StartTeammateDelay(sess *session.Session) Result {
	sess.SetWorkflow(&session.WorkflowInstance{
		Kind:  session.WorkflowTeammateDelay,
		State: stateGathering,
	})
	return Result{Say: "Got it — who's the customer, and how late will you be?"}
}

func (e *Engine) stepTeammateDelay(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string, classified intent.Intent) Result {
	switch wf.State {
	case stateGathering:
		return e.delayGather(ctx, sess, wf, text)
	case stateConfirming:
		return e.delayConfirm(ctx, sess, wf, text)
	default:
		return Result{Say: "I'm sorry, something went wrong on my end.", Done: true, CallEnd: true}
	}
}

// delayGather extracts {delayMinutes, customerName, alternativeTime} via
// tool-calling, re-asking only for whatever remains missing — context
// carried across turns prevents re-asking for details already given.
func (e *Engine) delayGather(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string) Result {
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Extract delay details from the teammate's message using the capture_delay_details tool. " +
			"Only include fields actually stated; omit fields not mentioned.",
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: 0,
		MaxTokens:   100,
		Tools:       []llm.ToolDefinition{gatherDelayTool},
	})
	if err == nil {
		for _, tc := range resp.ToolCalls {
			if tc.Name != gatherDelayTool.Name {
				continue
			}
			var d delayDetails
			if jsonErr := json.Unmarshal([]byte(tc.Arguments), &d); jsonErr == nil {
				if d.DelayMinutes > 0 {
					wf.Memory.DelayMinutes = d.DelayMinutes
				}
				if d.CustomerName != "" {
					wf.Memory.CustomerName = d.CustomerName
				}
				if d.AlternativeTime != "" {
					wf.Memory.AlternativeTime = d.AlternativeTime
				}
			}
		}
	}
	sess.SetWorkflow(wf)

	switch {
	case wf.Memory.CustomerName == "":
		return Result{Say: "Which customer is this for?"}
	case wf.Memory.DelayMinutes == 0 && wf.Memory.AlternativeTime == "":
		return Result{Say: fmt.Sprintf("How late will you be for %s, or what alternative time works?", wf.Memory.CustomerName)}
	}

	return e.delayLookup(ctx, sess, wf)
}

func (e *Engine) delayLookup(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance) Result {
	wf.State = stateLookup
	appts, err := e.calendar.ListAppointments(ctx, session.Peer{Name: wf.Memory.CustomerName})
	if err != nil || len(appts) == 0 {
		wf.State = stateDone
		sess.SetWorkflow(wf)
		return Result{Say: fmt.Sprintf("I couldn't find an appointment for %s.", wf.Memory.CustomerName), Done: true, CallEnd: true}
	}

	appt := appts[0]
	wf.Memory.LookupAppointment = &appt
	wf.State = stateConfirming
	sess.SetWorkflow(wf)

	choice := ""
	if wf.Memory.DelayMinutes > 0 {
		choice = fmt.Sprintf("wait %d min", wf.Memory.DelayMinutes)
	}
	if wf.Memory.AlternativeTime != "" {
		if choice != "" {
			choice += " or "
		}
		choice += wf.Memory.AlternativeTime
	}

	return Result{Say: fmt.Sprintf("Found %s. Will call %s with: %s. Proceed?", appt.Summary, wf.Memory.CustomerName, choice)}
}

func (e *Engine) delayConfirm(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance, text string) Result {
	yes, ok := e.askYesNo(ctx, text)
	if !ok {
		return Result{Say: "Sorry, should I go ahead and call them?"}
	}
	if !yes {
		wf.State = stateDone
		sess.SetWorkflow(wf)
		return Result{Say: "Okay, I won't make the call.", Done: true, CallEnd: true}
	}

	return e.delayDispatch(ctx, sess, wf)
}

func (e *Engine) delayDispatch(ctx context.Context, sess *session.Session, wf *session.WorkflowInstance) Result {
	wf.State = stateDispatching

	appt := wf.Memory.LookupAppointment
	if appt == nil || e.dispatch == nil {
		wf.State = stateEnding
		sess.SetWorkflow(wf)
		return Result{Say: "I'm sorry, I wasn't able to reach them.", Done: true, CallEnd: true}
	}

	if appt.CustomerPhone == "" {
		wf.State = stateEnding
		sess.SetWorkflow(wf)
		return Result{Say: "I'm sorry, I don't have a phone number on file for them.", Done: true, CallEnd: true}
	}

	dr, err := e.dispatch.Dispatch(ctx, DispatchRequest{
		CustomerPhone:   appt.CustomerPhone,
		Appointment:     *appt,
		DelayMinutes:    wf.Memory.DelayMinutes,
		AlternativeTime: wf.Memory.AlternativeTime,
		ParentStreamID:  sess.StreamID,
	})
	e.emitOutboundCallAudit(ctx, sess, err)
	if err != nil {
		wf.State = stateEnding
		sess.SetWorkflow(wf)
		return Result{Say: "I'm sorry, I wasn't able to reach them right now.", Done: true, CallEnd: true}
	}

	sess.ChildStreamID = dr.ChildStreamID
	wf.State = stateEnding
	sess.SetWorkflow(wf)
	return Result{Say: "Calling them now — I'll text you their choice.", Done: true, CallEnd: true}
}

func (e *Engine) emitOutboundCallAudit(ctx context.Context, sess *session.Session, err error) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Append(ctx, audit.Record{
		SessionID:    sess.StreamID,
		Kind:         audit.KindOutboundCall,
		TimestampUTC: timeNowUTC(),
		Payload:      map[string]any{"success": err == nil},
	})
}
