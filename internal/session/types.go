// Package session holds the in-memory call state shared by every
// component of a single voice-agent call: the conversation transcript,
// the active workflow instance, and the parent/child link used when an
// outbound leg is spawned.
package session

import (
	"sync"
	"time"
)

// Direction distinguishes an inbound call from a spawned outbound leg.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role classifies who is on the other end of the line.
type Role string

const (
	RoleTeammate Role = "teammate"
	RoleCustomer Role = "customer"
	RoleUnknown  Role = "unknown"
)

// Language is one of the four languages the agent can speak.
type Language string

const (
	LanguageEnglish    Language = "english"
	LanguageGerman     Language = "german"
	LanguageHindi      Language = "hindi"
	LanguageHindiMixed Language = "hindi_mixed"
)

// Peer describes the person on the other end of a Session's call.
type Peer struct {
	PhoneNumber string // E.164
	Name        string
	Role        Role
	Email       string
	Language    Language
}

// Turn is one entry in a Session's conversation transcript.
type Turn struct {
	Role      string // "user" | "assistant"
	Content   string
	Timestamp time.Time
	Kind      string // e.g. "greeting", "canned", "workflow", "filler"
}

// Appointment mirrors the calendar collaborator's appointment shape.
type Appointment struct {
	ID           string
	Summary      string
	Start        TimeSlot
	End          TimeSlot
	Status       string
	CustomerPhone string // E.164, read from the event's extended properties
}

// TimeSlot pairs an instant with the timezone it was expressed in.
type TimeSlot struct {
	DateTime time.Time
	TimeZone string
}

// Preloaded holds the background-fetched calendar for a Session, along
// with a future the workflow can block on if the fetch hasn't resolved
// by the time it's needed.
type Preloaded struct {
	mu          sync.Mutex
	Appointments []Appointment
	err          error
	done         chan struct{}
}

// NewPreloaded starts a Preloaded future. fetch runs in its own goroutine.
func NewPreloaded(fetch func() ([]Appointment, error)) *Preloaded {
	p := &Preloaded{done: make(chan struct{})}
	go func() {
		appts, err := fetch()
		p.mu.Lock()
		p.Appointments = appts
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

// Done returns a channel that is closed once the background fetch
// resolves; callers select on it alongside their own context or timeout.
func (p *Preloaded) Done() <-chan struct{} { return p.done }

// Result returns the fetched appointments and error once Done() has fired.
func (p *Preloaded) Result() ([]Appointment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Appointments, p.err
}

// WorkflowKind identifies which state machine a WorkflowInstance runs.
type WorkflowKind string

const (
	WorkflowCustomerReschedule WorkflowKind = "CustomerReschedule"
	WorkflowTeammateDelay      WorkflowKind = "TeammateDelay"
	WorkflowOutboundVerify     WorkflowKind = "OutboundVerify"
)

// WorkflowInstance is the per-call finite state machine with memory,
// driven by one of the three workflow graphs the Workflow Engine runs.
type WorkflowInstance struct {
	Kind  WorkflowKind
	State string
	Memory WorkflowMemory
	Done   bool
	CallEnd bool
}

// WorkflowMemory accumulates everything a workflow needs across turns.
// Only the fields relevant to the active Kind are populated; the rest
// stay zero-valued.
type WorkflowMemory struct {
	// Customer-Reschedule
	SelectedAppointment *Appointment
	CandidateNewTime    *TimeSlot
	ClarificationAttempts int
	MissingField        string

	// Teammate-Delay
	DelayMinutes    int
	CustomerName    string
	AlternativeTime string
	LookupAppointment *Appointment

	// Outbound-Verification
	ParentStreamID    string
	ParentPhoneNumber string
	ProposedTime      TimeSlot
	UnclearReplies    int

	// Shared
	Appointment *Appointment
	NewTime     *TimeSlot
}

// Session is the unit of state owned exclusively by the Session Store.
// Lifecycle: created on media-stream open, destroyed after termination.
type Session struct {
	mu sync.RWMutex

	StreamID  string
	CallID    string
	Direction Direction
	Peer      Peer

	Conversation  []Turn
	LastAssistant string
	TurnCount     int

	Workflow *WorkflowInstance

	Preloaded *Preloaded

	FillerSent bool

	ParentStreamID string
	ChildStreamID  string

	Outcome string // set by the Outbound-Verification workflow: confirmed|cancelled|pending_manual_followup

	pendingSay string // consumed once, the first thing to speak once the media stream opens

	EndRequested bool

	CreatedAt time.Time

	mediaOpen     chan struct{}
	mediaOpenOnce sync.Once
}

// NewSession constructs a Session in its initial, workflow-less state.
func NewSession(streamID, callID string, direction Direction, peer Peer) *Session {
	return &Session{
		StreamID:  streamID,
		CallID:    callID,
		Direction: direction,
		Peer:      peer,
		CreatedAt: time.Now(),
		mediaOpen: make(chan struct{}),
	}
}

// SetCallID records the provider call id once it's known, e.g. after the
// Outbound Dispatcher places the call that created this session's (not
// yet open) media stream.
func (s *Session) SetCallID(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallID = callID
}

// SetOutcome records the final disposition of an Outbound-Verification
// workflow, read by the Termination Controller to decide whether to text
// the parent.
func (s *Session) SetOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outcome = outcome
}

// GetOutcome returns the outcome recorded by SetOutcome, or "".
func (s *Session) GetOutcome() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Outcome
}

// SetPendingSay records the utterance the Session Orchestrator should
// speak the moment this session's media stream opens, used by the
// Outbound Dispatcher to carry StartOutboundVerify's courtesy-call
// script from dispatch time (before the callee has even answered) to
// the point the bridge exists to speak it.
func (s *Session) SetPendingSay(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingSay = text
}

// TakePendingSay returns and clears the pending utterance, or "" if none
// was set.
func (s *Session) TakePendingSay() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.pendingSay
	s.pendingSay = ""
	return text
}

// MarkMediaOpen signals that this session's bidirectional media stream
// has opened. Safe to call more than once; only the first call has an
// effect.
func (s *Session) MarkMediaOpen() {
	s.mediaOpenOnce.Do(func() { close(s.mediaOpen) })
}

// MediaOpen returns a channel that closes the moment this session's
// media stream opens, used by the Outbound Dispatcher to bound how long
// it waits for a spawned outbound leg to actually connect.
func (s *Session) MediaOpen() <-chan struct{} {
	return s.mediaOpen
}

// AppendTurn records one conversation turn and updates LastAssistant when
// the turn is an assistant utterance, feeding the cross-workflow
// duplicate-suppression check in the Workflow Engine.
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Conversation = append(s.Conversation, t)
	if t.Role == "assistant" {
		s.LastAssistant = t.Content
	}
	if t.Role == "user" {
		s.TurnCount++
	}
}

// ConversationSnapshot returns a copy of the transcript so far, safe to
// pass to a collaborator call without holding the Session lock across it.
func (s *Session) ConversationSnapshot() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.Conversation))
	copy(out, s.Conversation)
	return out
}

// LastAssistantText returns the most recently spoken assistant text.
func (s *Session) LastAssistantText() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastAssistant
}

// SetFillerSent flips the fillerSent flag; returns the previous value so
// callers can tell whether they were first to claim it this turn.
func (s *Session) SetFillerSent(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.FillerSent
	s.FillerSent = v
	return prev
}

// IsFillerSent reports whether the filler clip for the current pending
// workflow turn has already been played, guarding the Session
// Orchestrator against playing it twice.
func (s *Session) IsFillerSent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FillerSent
}

// SetWorkflow installs a new workflow instance, replacing any previous
// one. Exactly one workflow instance exists per session at a time.
func (s *Session) SetWorkflow(w *WorkflowInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Workflow = w
}

// WorkflowSnapshot returns the current workflow instance, or nil.
func (s *Session) WorkflowSnapshot() *WorkflowInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Workflow
}
