// Package workflow implements the per-call finite state machines with
// memory: Customer-Reschedule, Teammate-Delay, and Outbound-Verification.
// Plain Go, no state-machine framework; mutex-guarded state lives in
// *session.Session.
package workflow

import (
	"context"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/filler"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/session"
)

// Calendar is the narrow slice of the calendar collaborator the
// workflow engine needs, letting tests substitute a fake.
type Calendar interface {
	ListAppointments(ctx context.Context, peer session.Peer) ([]session.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, start, end session.TimeSlot, status string) error
}

// Dispatcher is the Outbound Dispatcher (C8) contract the Teammate-Delay
// workflow drives from its Dispatching state.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// DispatchRequest is the tuple the Outbound Dispatcher's Dispatch needs.
type DispatchRequest struct {
	CustomerPhone   string
	Appointment     session.Appointment
	DelayMinutes    int
	AlternativeTime string
	ParentStreamID  string
}

// DispatchResult is what a successful dispatch() returns.
type DispatchResult struct {
	ChildStreamID string
	CallID        string
}

// Result is what a single Step advances the orchestrator with.
type Result struct {
	Say            string
	FillerCategory filler.Category
	WantsFiller    bool
	Done           bool
	CallEnd        bool
}

// Engine runs whichever of the three state machines a session's active
// WorkflowInstance names.
type Engine struct {
	llm      llm.Client
	calendar Calendar
	dispatch Dispatcher
	audit    audit.Store
}

// NewEngine constructs an Engine over its collaborators.
func NewEngine(llmClient llm.Client, cal Calendar, dispatcher Dispatcher, auditStore audit.Store) *Engine {
	return &Engine{llm: llmClient, calendar: cal, dispatch: dispatcher, audit: auditStore}
}

// Step advances sess's active workflow by one turn. sess.Workflow must
// already be set by one of the Start* constructors below; the caller
// (the Session Orchestrator) is responsible for choosing which workflow
// to start based on the classified intent of the first turn.
func (e *Engine) Step(ctx context.Context, sess *session.Session, utteranceText string, classified intent.Intent) Result {
	wf := sess.WorkflowSnapshot()
	if wf == nil {
		return Result{Say: "I'm sorry, something went wrong on my end.", Done: true, CallEnd: true}
	}

	var res Result
	switch wf.Kind {
	case session.WorkflowCustomerReschedule:
		res = e.stepReschedule(ctx, sess, wf, utteranceText, classified)
	case session.WorkflowTeammateDelay:
		res = e.stepTeammateDelay(ctx, sess, wf, utteranceText, classified)
	case session.WorkflowOutboundVerify:
		res = e.stepOutboundVerify(ctx, sess, wf, utteranceText, classified)
	default:
		res = Result{Say: "I'm sorry, something went wrong on my end.", Done: true, CallEnd: true}
	}

	res.Say = e.suppressDuplicate(sess, res.Say)
	return res
}

// suppressDuplicate implements the cross-workflow invariant that
// identical consecutive assistant utterances are replaced with a
// canned redirect.
func (e *Engine) suppressDuplicate(sess *session.Session, text string) string {
	if text != "" && text == sess.LastAssistantText() {
		return "Let me help you in a different way."
	}
	return text
}

// askYesNo is a tiny temperature=0 classifier for confirm/decline turns.
// Outbound-Verification does not use it; it decides on the classified
// intent instead.
func (e *Engine) askYesNo(ctx context.Context, text string) (yes bool, ok bool) {
	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Classify the reply as exactly one of: yes, no, unclear. Respond with only that word.",
		Messages:     []llm.Message{{Role: "user", Content: text}},
		Temperature:  0,
		MaxTokens:    5,
	})
	if err != nil {
		return false, false
	}
	switch normalizeWord(resp.Text) {
	case "yes":
		return true, true
	case "no":
		return false, true
	default:
		return false, false
	}
}
