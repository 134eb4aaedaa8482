// Package orchestrator implements the Session Orchestrator (C10): the
// top-level supervisor that drives a single media stream's
// open/preload/greet/loop/end sequence, wiring together every other
// collaborator package built around it.
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/callback-agent/internal/audio"
	"github.com/lexiqai/callback-agent/internal/filler"
	"github.com/lexiqai/callback-agent/internal/intent"
	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/media"
	"github.com/lexiqai/callback-agent/internal/phonebook"
	"github.com/lexiqai/callback-agent/internal/session"
	"github.com/lexiqai/callback-agent/internal/stt"
	"github.com/lexiqai/callback-agent/internal/telephony"
	"github.com/lexiqai/callback-agent/internal/transcript"
	"github.com/lexiqai/callback-agent/internal/tts"
	"github.com/lexiqai/callback-agent/internal/workflow"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Terminator is the narrow slice of the Termination Controller (C9) this
// package drives, letting tests substitute a fake.
type Terminator interface {
	Schedule(sess *session.Session, reason string, graceMillis int)
}

// Orchestrator is the process-wide, single instance wiring the Session
// Store and every collaborator to Twilio Media Streams connections.
type Orchestrator struct {
	store      *session.Store
	phonebook  *phonebook.Phonebook
	fillers    *filler.Library
	classifier *intent.Classifier
	engine     *workflow.Engine
	calendar   workflow.Calendar
	llm        llm.Client
	terminator Terminator

	newSTT func() stt.STTClient
	newTTS func() tts.TTSClient

	graceMillis int

	vadEnabled bool
	vadConfig  *audio.VADConfig

	mu      sync.Mutex
	bridges map[string]*media.Bridge

	logger zerolog.Logger
}

// Options configures New.
type Options struct {
	Store       *session.Store
	Phonebook   *phonebook.Phonebook
	Fillers     *filler.Library
	Classifier  *intent.Classifier
	Engine      *workflow.Engine
	Calendar    workflow.Calendar
	LLM         llm.Client
	NewSTT      func() stt.STTClient
	NewTTS      func() tts.TTSClient
	GraceMillis int
	VADEnabled  bool
	VADConfig   *audio.VADConfig
	Logger      zerolog.Logger
}

// New constructs an Orchestrator. SetTerminator must be called before
// any connection is served, since the Termination Controller itself
// needs this Orchestrator as its MediaCloser.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		store:       opts.Store,
		phonebook:   opts.Phonebook,
		fillers:     opts.Fillers,
		classifier:  opts.Classifier,
		engine:      opts.Engine,
		calendar:    opts.Calendar,
		llm:         opts.LLM,
		newSTT:      opts.NewSTT,
		newTTS:      opts.NewTTS,
		graceMillis: opts.GraceMillis,
		vadEnabled:  opts.VADEnabled,
		vadConfig:   opts.VADConfig,
		bridges:     make(map[string]*media.Bridge),
		logger:      opts.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// SetTerminator wires the Termination Controller in after construction,
// breaking the cycle where the controller's MediaCloser is this
// Orchestrator.
func (o *Orchestrator) SetTerminator(t Terminator) {
	o.terminator = t
}

// Close implements termination.MediaCloser: it closes and forgets the
// Media Bridge for a terminated stream.
func (o *Orchestrator) Close(streamID string) error {
	o.mu.Lock()
	b, ok := o.bridges[streamID]
	delete(o.bridges, streamID)
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Close("session terminated")
}

// MediaStreamHandler upgrades a Twilio Media Streams connection and runs
// the full session lifecycle for it.
func (o *Orchestrator) MediaStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			o.logger.Error().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		childStreamID := r.URL.Query().Get("stream_id")

		start, err := readStartEvent(conn)
		if err != nil {
			o.logger.Warn().Err(err).Msg("did not receive a start event")
			return
		}

		sess, bridge, err := o.openSession(childStreamID, start, conn)
		if err != nil {
			o.logger.Error().Err(err).Msg("failed to open session")
			return
		}

		o.runSession(r.Context(), sess, bridge, conn)
	}
}

// twilioStart is the subset of Twilio's "start" event payload this
// package needs.
type twilioStart struct {
	CallSid   string
	StreamSid string
	From      string
	To        string
}

func readStartEvent(conn *websocket.Conn) (twilioStart, error) {
	for {
		var msg telephony.TwilioMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return twilioStart{}, err
		}
		switch msg.Event {
		case "connected":
			continue
		case "start":
			if msg.Start == nil {
				return twilioStart{}, fmt.Errorf("orchestrator: start event missing start payload")
			}
			ts := twilioStart{CallSid: msg.Start.CallSid, StreamSid: msg.Start.StreamSid}
			if params := msg.Start.CustomParameters; params != nil {
				if from, ok := params["from"].(string); ok {
					ts.From = from
				}
				if to, ok := params["to"].(string); ok {
					ts.To = to
				}
			}
			return ts, nil
		default:
			return twilioStart{}, fmt.Errorf("orchestrator: unexpected event %q before start", msg.Event)
		}
	}
}

// openSession resolves a media-stream connection to a Session — either
// one the Outbound Dispatcher already pre-created (childStreamID is
// non-empty) or a fresh inbound Session — and opens its Media Bridge.
func (o *Orchestrator) openSession(childStreamID string, start twilioStart, conn *websocket.Conn) (*session.Session, *media.Bridge, error) {
	sender := telephony.NewTwilioFrameSender(conn, start.StreamSid)

	if childStreamID != "" {
		sess, ok := o.store.Get(childStreamID)
		if !ok {
			return nil, nil, fmt.Errorf("orchestrator: no pending outbound session for stream %q", childStreamID)
		}
		sess.SetCallID(start.CallSid)

		bridge, err := o.newBridge(sess, sender)
		if err != nil {
			return nil, nil, err
		}
		sess.MarkMediaOpen()
		return sess, bridge, nil
	}

	entry := o.phonebook.Lookup(start.From)
	peer := session.Peer{
		PhoneNumber: start.From,
		Name:        entry.Name,
		Role:        entry.Role,
		Language:    session.LanguageEnglish,
	}

	sess := session.NewSession(start.StreamSid, start.CallSid, session.DirectionInbound, peer)
	if err := o.store.Put(sess); err != nil {
		return nil, nil, err
	}
	sess.MarkMediaOpen()

	if peer.Role != session.RoleUnknown {
		sess.Preloaded = session.NewPreloaded(func() ([]session.Appointment, error) {
			return o.calendar.ListAppointments(context.Background(), peer)
		})
	}

	bridge, err := o.newBridge(sess, sender)
	if err != nil {
		o.store.Delete(sess.StreamID)
		return nil, nil, err
	}
	return sess, bridge, nil
}

func (o *Orchestrator) newBridge(sess *session.Session, sender media.FrameSender) (*media.Bridge, error) {
	bridge, err := media.Open(media.Options{
		StreamID:   sess.StreamID,
		Codec:      media.ExpectedCodec,
		Sender:     sender,
		STT:        o.newSTT(),
		TTS:        o.newTTS(),
		VADEnabled: o.vadEnabled,
		VADConfig:  o.vadConfig,
		OnBargeIn: func() {
			o.logger.Debug().Str("stream_id", sess.StreamID).Msg("vad detected early barge-in")
		},
		Logger: o.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: open media bridge: %w", err)
	}

	o.mu.Lock()
	o.bridges[sess.StreamID] = bridge
	o.mu.Unlock()
	return bridge, nil
}

// runSession pumps inbound WebSocket frames into the bridge, speaks the
// initial greeting, and drives the per-utterance loop until the
// connection closes or a workflow ends the call.
func (o *Orchestrator) runSession(ctx context.Context, sess *session.Session, bridge *media.Bridge, conn *websocket.Conn) {
	go o.readFrames(conn, bridge)

	o.speakOpening(sess, bridge)

	agg := transcript.New()
	go func() {
		for t := range bridge.Transcripts() {
			agg.Feed(*t)
		}
		agg.Close()
	}()

	var pendingFiller filler.Category
	for u := range agg.Utterances() {
		language := languageOrDefault(u.Language, sess.Peer.Language)
		sess.AppendTurn(session.Turn{Role: "user", Content: u.Text, Timestamp: u.Timestamp})
		bridge.StopSpeaking()

		if pendingFiller != "" {
			if !sess.IsFillerSent() {
				clip, ok := o.fillers.Get(language, pendingFiller)
				if !ok && language != session.LanguageEnglish {
					clip, ok = o.fillers.Get(session.LanguageEnglish, pendingFiller)
				}
				if ok {
					bridge.PlayBytes(clip.Payload, media.PriorityNormal)
				}
				sess.SetFillerSent(true)
			}
			pendingFiller = ""
		}

		result, ended := o.handleUtterance(ctx, sess, language, u.Text)
		if result.WantsFiller {
			pendingFiller = result.FillerCategory
			sess.SetFillerSent(false)
		}

		if result.Say != "" {
			sess.AppendTurn(session.Turn{Role: "assistant", Content: result.Say, Kind: "workflow"})
			bridge.Speak(result.Say, language, nil)
		}

		if ended || result.CallEnd {
			o.terminator.Schedule(sess, "workflow_complete", o.graceMillis)
			return
		}
	}
}

func (o *Orchestrator) readFrames(conn *websocket.Conn, bridge *media.Bridge) {
	for {
		var msg telephony.TwilioMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			frame, err := decodeMediaPayload(msg.Media)
			if err != nil {
				continue
			}
			bridge.FeedInbound(frame)
		case "stop":
			return
		}
	}
}

// decodeMediaPayload decodes a Twilio "media" event's base64 audio,
// accepting either field name the provider has used for it historically.
func decodeMediaPayload(m *telephony.TwilioMedia) ([]byte, error) {
	raw := m.Payload
	if raw == "" {
		raw = m.Chunk
	}
	return base64.StdEncoding.DecodeString(raw)
}

func (o *Orchestrator) speakOpening(sess *session.Session, bridge *media.Bridge) {
	if sess.Direction == session.DirectionOutbound {
		say := sess.TakePendingSay()
		if say == "" {
			return
		}
		sess.AppendTurn(session.Turn{Role: "assistant", Content: say, Kind: "workflow"})
		bridge.Speak(say, sess.Peer.Language, nil)
		return
	}

	greeting := renderGreeting(sess.Peer.Role, sess.Peer.Language)
	sess.AppendTurn(session.Turn{Role: "assistant", Content: greeting, Kind: "greeting"})
	bridge.Speak(greeting, sess.Peer.Language, nil)
}

// handleUtterance runs one turn of the per-utterance loop: pre-filter,
// classify, then dispatch to an existing workflow or start a new one
// based on the classified intent.
func (o *Orchestrator) handleUtterance(ctx context.Context, sess *session.Session, language session.Language, text string) (workflow.Result, bool) {
	wf := sess.WorkflowSnapshot()
	role := sess.Peer.Role

	// Teammates and unknown callers skip the pre-filter on their first
	// turn, since their very first utterance is what establishes intent;
	// customers are pre-filtered on every turn.
	skipPreFilterThisTurn := role != session.RoleCustomer && sess.TurnCount <= 1
	if !skipPreFilterThisTurn {
		pf := intent.PreFilter(ctx, o.llm, text, language)
		if pf.Skip {
			return workflow.Result{Say: cannedAck(language)}, false
		}
	}

	isOutboundVerify := wf != nil && wf.Kind == session.WorkflowOutboundVerify
	classified, _, _ := o.classifier.Classify(ctx, sess.StreamID, text, role, isOutboundVerify)

	if wf == nil {
		return o.startWorkflow(ctx, sess, role, classified)
	}

	result := o.engine.Step(ctx, sess, text, classified)
	return result, result.Done
}

// startWorkflow installs whichever of the three workflows the classified
// intent names, or produces a canned out-of-scope reply and ends the
// call when no workflow graph exists for the intent.
func (o *Orchestrator) startWorkflow(ctx context.Context, sess *session.Session, role session.Role, classified intent.Intent) (workflow.Result, bool) {
	switch {
	case role == session.RoleCustomer && classified == intent.ShiftCancelAppointment:
		preload := sess.Preloaded
		if preload == nil {
			preload = session.NewPreloaded(func() ([]session.Appointment, error) {
				return o.calendar.ListAppointments(ctx, sess.Peer)
			})
		}
		result := workflow.StartCustomerReschedule(sess, preload)
		return result, result.Done

	case role == session.RoleTeammate && classified == intent.DelayNotification:
		result := workflow.StartTeammateDelay(sess)
		return result, result.Done
	}

	return workflow.Result{
		Say:     "I can help with rescheduling appointments or a teammate calling in a delay. For anything else, I'll have someone reach out to you directly.",
		Done:    true,
		CallEnd: true,
	}, true
}

func languageOrDefault(raw string, fallback session.Language) session.Language {
	if raw == "" {
		return fallback
	}
	return session.Language(raw)
}

func cannedAck(language session.Language) string {
	switch language {
	case session.LanguageGerman:
		return "Alles klar, wie kann ich Ihnen sonst helfen?"
	case session.LanguageHindi, session.LanguageHindiMixed:
		return "Theek hai, aur kaise madad kar sakta hoon?"
	default:
		return "Okay, what else can I help you with?"
	}
}

func renderGreeting(role session.Role, language session.Language) string {
	switch role {
	case session.RoleTeammate:
		return teammateGreeting(language)
	case session.RoleCustomer:
		return customerGreeting(language)
	default:
		return unknownGreeting(language)
	}
}

func teammateGreeting(language session.Language) string {
	switch language {
	case session.LanguageGerman:
		return "Hallo, hier ist Ihr Terminassistent. Sind Sie verspätet für einen Kundentermin?"
	default:
		return "Hi, this is the scheduling assistant. Are you calling about running late for an appointment?"
	}
}

func customerGreeting(language session.Language) string {
	switch language {
	case session.LanguageGerman:
		return "Hallo, hier ist der Terminassistent. Wie kann ich Ihnen mit Ihrem Termin helfen?"
	default:
		return "Hi, this is the scheduling assistant. How can I help with your appointment today?"
	}
}

func unknownGreeting(language session.Language) string {
	switch language {
	case session.LanguageGerman:
		return "Hallo, hier ist der Terminassistent. Womit kann ich Ihnen helfen?"
	default:
		return "Hi, this is the scheduling assistant. What can I help you with?"
	}
}
