package orchestrator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/media"
	"github.com/lexiqai/callback-agent/internal/session"
	"github.com/lexiqai/callback-agent/internal/stt"
	"github.com/lexiqai/callback-agent/internal/tts"
)

type fakeCalendar struct{}

func (fakeCalendar) ListAppointments(ctx context.Context, peer session.Peer) ([]session.Appointment, error) {
	return nil, nil
}

func (fakeCalendar) UpdateAppointment(ctx context.Context, id string, start, end session.TimeSlot, status string) error {
	return nil
}

func newTestOrchestrator() *Orchestrator {
	return New(Options{
		Store:    session.NewStore(),
		Calendar: fakeCalendar{},
		Logger:   zerolog.Nop(),
	})
}

func TestStartWorkflowRoutesCustomerReschedule(t *testing.T) {
	o := newTestOrchestrator()
	sess := session.NewSession("s1", "c1", session.DirectionInbound, session.Peer{Role: session.RoleCustomer})

	result, ended := o.startWorkflow(context.Background(), sess, session.RoleCustomer, intent.ShiftCancelAppointment)

	if ended {
		t.Fatalf("startWorkflow() ended = true, want false for a fresh reschedule")
	}
	wf := sess.WorkflowSnapshot()
	if wf == nil || wf.Kind != session.WorkflowCustomerReschedule {
		t.Fatalf("expected a CustomerReschedule workflow to be installed, got %+v", wf)
	}
	if !result.WantsFiller {
		t.Errorf("expected the preload turn to cue a filler")
	}
}

func TestStartWorkflowRoutesTeammateDelay(t *testing.T) {
	o := newTestOrchestrator()
	sess := session.NewSession("s2", "c2", session.DirectionInbound, session.Peer{Role: session.RoleTeammate})

	result, ended := o.startWorkflow(context.Background(), sess, session.RoleTeammate, intent.DelayNotification)

	if ended {
		t.Fatalf("startWorkflow() ended = true, want false for a fresh delay report")
	}
	wf := sess.WorkflowSnapshot()
	if wf == nil || wf.Kind != session.WorkflowTeammateDelay {
		t.Fatalf("expected a TeammateDelay workflow to be installed, got %+v", wf)
	}
	if result.Say == "" {
		t.Errorf("expected a prompt asking for delay details")
	}
}

func TestStartWorkflowCannedReplyForUnhandledIntent(t *testing.T) {
	o := newTestOrchestrator()
	sess := session.NewSession("s3", "c3", session.DirectionInbound, session.Peer{Role: session.RoleCustomer})

	result, ended := o.startWorkflow(context.Background(), sess, session.RoleCustomer, intent.InvoicingQuestion)

	if !ended || !result.CallEnd {
		t.Fatalf("startWorkflow() for an unhandled intent = (ended=%v, CallEnd=%v), want both true", ended, result.CallEnd)
	}
	if sess.WorkflowSnapshot() != nil {
		t.Errorf("expected no workflow instance for an intent with no workflow graph")
	}
	if result.Say == "" {
		t.Errorf("expected a canned out-of-scope reply")
	}
}

type nopSTT struct{ out chan *stt.TranscriptionResult }

func (n *nopSTT) Start() error                                       { return nil }
func (n *nopSTT) SendAudio([]byte) error                              { return nil }
func (n *nopSTT) GetTranscription() <-chan *stt.TranscriptionResult   { return n.out }
func (n *nopSTT) Stop() error                                         { return nil }
func (n *nopSTT) Close() error                                        { close(n.out); return nil }

type nopTTS struct{}

func (nopTTS) Synthesize(text string, language session.Language) (<-chan *tts.AudioChunk, error) {
	ch := make(chan *tts.AudioChunk)
	close(ch)
	return ch, nil
}
func (nopTTS) Stop() error     { return nil }
func (nopTTS) Close() error    { return nil }
func (nopTTS) IsActive() bool  { return false }

type nopSender struct{}

func (nopSender) SendFrame(streamID string, frame []byte) error { return nil }

func TestCloseRemovesBridgeFromRegistry(t *testing.T) {
	o := newTestOrchestrator()

	bridge, err := media.Open(media.Options{
		StreamID: "stream-close-test",
		Sender:   nopSender{},
		STT:      &nopSTT{out: make(chan *stt.TranscriptionResult)},
		TTS:      nopTTS{},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("media.Open() error = %v", err)
	}
	o.mu.Lock()
	o.bridges["stream-close-test"] = bridge
	o.mu.Unlock()

	if err := o.Close("stream-close-test"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	o.mu.Lock()
	_, ok := o.bridges["stream-close-test"]
	o.mu.Unlock()
	if ok {
		t.Errorf("expected the bridge to be removed from the registry after Close")
	}

	if err := o.Close("stream-close-test"); err != nil {
		t.Errorf("Close() on an already-closed/unknown stream should be a no-op, got error = %v", err)
	}
}

func TestRenderGreetingByRole(t *testing.T) {
	cases := []struct {
		role session.Role
	}{
		{session.RoleCustomer},
		{session.RoleTeammate},
		{session.RoleUnknown},
	}
	for _, c := range cases {
		if g := renderGreeting(c.role, session.LanguageEnglish); g == "" {
			t.Errorf("renderGreeting(%v, english) returned empty string", c.role)
		}
	}
}

func TestLanguageOrDefaultFallsBackWhenEmpty(t *testing.T) {
	if got := languageOrDefault("", session.LanguageGerman); got != session.LanguageGerman {
		t.Errorf("languageOrDefault(\"\", german) = %q, want german", got)
	}
	if got := languageOrDefault("english", session.LanguageGerman); got != session.LanguageEnglish {
		t.Errorf("languageOrDefault(\"english\", german) = %q, want english", got)
	}
}
