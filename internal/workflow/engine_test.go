package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/session"
)

// fakeLLM returns canned text in FIFO order, one response per Complete
// call, so tests can script a multi-turn conversation.
type fakeLLM struct {
	responses []string
	calls     []llm.CompletionRequest
	err       error
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &llm.CompletionResponse{Text: "unclear"}, nil
	}
	text := f.responses[0]
	f.responses = f.responses[1:]
	return &llm.CompletionResponse{Text: text}, nil
}

type fakeCalendar struct {
	appts   []session.Appointment
	listErr error
	updated bool
	updErr  error
}

func (f *fakeCalendar) ListAppointments(ctx context.Context, peer session.Peer) ([]session.Appointment, error) {
	return f.appts, f.listErr
}

func (f *fakeCalendar) UpdateAppointment(ctx context.Context, id string, start, end session.TimeSlot, status string) error {
	f.updated = true
	return f.updErr
}

type fakeDispatcher struct {
	result DispatchResult
	err    error
	req    DispatchRequest
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	f.req = req
	return f.result, f.err
}

// fakeAuditStore records every Append call so tests can inspect the
// emitted records' payloads.
type fakeAuditStore struct {
	records []audit.Record
}

func (f *fakeAuditStore) Append(ctx context.Context, r audit.Record) error {
	f.records = append(f.records, r)
	return nil
}

func (f *fakeAuditStore) Close() error { return nil }

func TestEngineStepWithNoWorkflowInstalledReturnsErrorResult(t *testing.T) {
	e := NewEngine(&fakeLLM{}, &fakeCalendar{}, &fakeDispatcher{}, nil)
	sess := session.NewSession("s1", "c1", session.DirectionInbound, session.Peer{Role: session.RoleCustomer})

	res := e.Step(context.Background(), sess, "hello", intent.NoIntentDetected)

	if !res.Done || !res.CallEnd {
		t.Errorf("expected Done+CallEnd with no workflow installed, got %+v", res)
	}
}

func TestSuppressDuplicateReplacesRepeatedUtterance(t *testing.T) {
	e := NewEngine(&fakeLLM{}, &fakeCalendar{}, &fakeDispatcher{}, nil)
	sess := session.NewSession("s1", "c1", session.DirectionInbound, session.Peer{Role: session.RoleCustomer})
	sess.AppendTurn(session.Turn{Role: "assistant", Content: "Which appointment would you like?"})

	got := e.suppressDuplicate(sess, "Which appointment would you like?")
	if got == "Which appointment would you like?" {
		t.Errorf("expected duplicate text to be replaced, got unchanged %q", got)
	}

	got2 := e.suppressDuplicate(sess, "something new")
	if got2 != "something new" {
		t.Errorf("expected non-duplicate text to pass through, got %q", got2)
	}
}

func TestAskYesNoParsesAndFallsBackOnError(t *testing.T) {
	fl := &fakeLLM{responses: []string{"Yes."}}
	e := NewEngine(fl, &fakeCalendar{}, &fakeDispatcher{}, nil)

	yes, ok := e.askYesNo(context.Background(), "yeah sure")
	if !ok || !yes {
		t.Errorf("askYesNo() = (%v, %v), want (true, true)", yes, ok)
	}

	fl.err = errors.New("boom")
	_, ok = e.askYesNo(context.Background(), "yeah sure")
	if ok {
		t.Errorf("expected ok=false when the LLM call errors")
	}
}
