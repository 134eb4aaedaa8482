package termination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callback-agent/internal/audit"
	"github.com/lexiqai/callback-agent/internal/session"
)

type fakeMedia struct {
	mu     sync.Mutex
	closed []string
}

func (f *fakeMedia) Close(streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, streamID)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (f *fakeAudit) Append(ctx context.Context, r audit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
	return nil
}
func (f *fakeAudit) Close() error { return nil }

type fakeSMS struct {
	mu    sync.Mutex
	sent  []string
	bodys []string
}

func (f *fakeSMS) Send(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	f.bodys = append(f.bodys, body)
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestScheduleRemovesSessionAndClosesMedia(t *testing.T) {
	store := session.NewStore()
	sess := session.NewSession("s1", "", session.DirectionInbound, session.Peer{})
	store.Put(sess)

	media := &fakeMedia{}
	aud := &fakeAudit{}
	c := NewController(store, media, aud, nil, zerolog.Nop())

	c.Schedule(sess, "workflow_complete", 10)

	waitFor(t, func() bool {
		_, ok := store.Get("s1")
		return !ok
	})

	media.mu.Lock()
	defer media.mu.Unlock()
	if len(media.closed) != 1 || media.closed[0] != "s1" {
		t.Errorf("media closed = %v, want [s1]", media.closed)
	}

	aud.mu.Lock()
	defer aud.mu.Unlock()
	if len(aud.records) != 1 || aud.records[0].Kind != audit.KindWorkflowTransition {
		t.Errorf("audit records = %+v, want one workflow_transition", aud.records)
	}
}

func TestScheduleNotifiesParentForOutboundConfirmed(t *testing.T) {
	store := session.NewStore()
	sess := session.NewSession("child-1", "", session.DirectionOutbound, session.Peer{})
	sess.SetWorkflow(&session.WorkflowInstance{
		Kind: session.WorkflowOutboundVerify,
		Memory: session.WorkflowMemory{
			ParentPhoneNumber: "+14155550123",
			Appointment:       &session.Appointment{Summary: "oil change"},
		},
	})
	sess.SetOutcome("confirmed")
	store.Put(sess)

	sms := &fakeSMS{}
	c := NewController(store, &fakeMedia{}, &fakeAudit{}, sms, zerolog.Nop())

	c.Schedule(sess, "workflow_complete", 0)

	waitFor(t, func() bool {
		sms.mu.Lock()
		defer sms.mu.Unlock()
		return len(sms.sent) == 1
	})

	if sms.sent[0] != "+14155550123" {
		t.Errorf("sms sent to %q, want +14155550123", sms.sent[0])
	}
}

func TestScheduleSkipsParentNotificationForPendingFollowup(t *testing.T) {
	store := session.NewStore()
	sess := session.NewSession("child-2", "", session.DirectionOutbound, session.Peer{})
	sess.SetWorkflow(&session.WorkflowInstance{
		Kind: session.WorkflowOutboundVerify,
		Memory: session.WorkflowMemory{
			ParentPhoneNumber: "+14155550123",
		},
	})
	sess.SetOutcome("pending_manual_followup")
	store.Put(sess)

	sms := &fakeSMS{}
	c := NewController(store, &fakeMedia{}, &fakeAudit{}, sms, zerolog.Nop())
	c.Schedule(sess, "workflow_complete", 0)

	waitFor(t, func() bool {
		_, ok := store.Get("child-2")
		return !ok
	})
	// Give the (hypothetical) SMS goroutine a moment; none should fire.
	time.Sleep(50 * time.Millisecond)

	sms.mu.Lock()
	defer sms.mu.Unlock()
	if len(sms.sent) != 0 {
		t.Errorf("sms sent = %v, want none for pending_manual_followup", sms.sent)
	}
}
