// Package media implements the Media Bridge (C4): the full-duplex byte
// channel between a telephony provider and this process's STT/TTS
// collaborators. One goroutine pumps inbound audio into STT, another
// pumps outbound audio to the provider, generalized around the open/
// feedInbound/playBytes/speak/stopSpeaking/close contract instead of the
// teacher's fixed Twilio-event switch.
package media

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/callback-agent/internal/audio"
	"github.com/lexiqai/callback-agent/internal/session"
	"github.com/lexiqai/callback-agent/internal/stt"
	"github.com/lexiqai/callback-agent/internal/tts"
)

// ExpectedCodec is the only codec this bridge knows how to bridge:
// 8kHz G.711 µ-law, the codec Twilio (and every provider this repo
// targets) negotiates for Media Streams.
const ExpectedCodec = "audio/x-mulaw;rate=8000"

// ErrBadCodec is returned by Open when the provider negotiated anything
// other than ExpectedCodec.
var ErrBadCodec = errors.New("media: provider negotiated an unsupported codec")

// frameBytes is one 20ms frame of 8kHz µ-law audio.
const frameBytes = 160

// framePeriod paces the outbound pump to real time so the provider
// receives audio no faster than it can play it.
const framePeriod = 20 * time.Millisecond

// Priority selects how playBytes treats audio already queued for
// playback.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityInterrupt
)

// FrameSender is the narrow slice of the telephony transport a Bridge
// writes outbound frames to; letting tests substitute a fake instead of
// a live WebSocket.
type FrameSender interface {
	SendFrame(streamID string, frame []byte) error
}

// Bridge is one call's Media Bridge.
type Bridge struct {
	streamID string
	sender   FrameSender
	stt      stt.STTClient
	tts      tts.TTSClient
	logger   zerolog.Logger

	vad        *audio.VADDetector
	vadEnabled bool
	onBargeIn  func() // invoked once per detected early barge-in

	inbound  chan []byte
	outbound *audio.RingBuffer
	transcripts chan *stt.TranscriptionResult

	mu         sync.Mutex
	speaking   bool
	speakToken int
	closed     bool

	done chan struct{}
}

// Options configures Open.
type Options struct {
	StreamID   string
	Codec      string
	Sender     FrameSender
	STT        stt.STTClient
	TTS        tts.TTSClient
	BufferSize int
	VADEnabled bool
	VADConfig  *audio.VADConfig
	// OnBargeIn is invoked from the inbound pump when VAD detects speech
	// onset while the bridge is speaking, ahead of the STT final that
	// would otherwise trigger stopSpeaking.
	OnBargeIn func()
	Logger    zerolog.Logger
}

// Open initializes a Bridge for a newly-started media stream and starts
// its STT session and pump goroutines.
func Open(opts Options) (*Bridge, error) {
	if opts.Codec != "" && opts.Codec != ExpectedCodec {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrBadCodec, opts.Codec, ExpectedCodec)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 8192
	}

	b := &Bridge{
		streamID:    opts.StreamID,
		sender:      opts.Sender,
		stt:         opts.STT,
		tts:         opts.TTS,
		logger:      opts.Logger.With().Str("stream_id", opts.StreamID).Logger(),
		vadEnabled:  opts.VADEnabled,
		onBargeIn:   opts.OnBargeIn,
		inbound:     make(chan []byte, 100),
		outbound:    audio.NewRingBuffer(opts.BufferSize),
		transcripts: make(chan *stt.TranscriptionResult, 50),
		done:        make(chan struct{}),
	}
	if opts.VADEnabled {
		cfg := opts.VADConfig
		if cfg == nil {
			cfg = audio.DefaultVADConfig()
		}
		b.vad = audio.NewVADDetector(cfg)
	}

	if err := b.stt.Start(); err != nil {
		return nil, fmt.Errorf("media: start stt: %w", err)
	}

	go b.pumpInbound()
	go b.pumpOutbound()
	go b.pumpTranscripts()

	return b, nil
}

// FeedInbound pushes one frame from the provider to the attached STT.
// Never blocks the telephony read loop longer than a single frame
// period: the channel send is non-blocking, dropping the frame under
// sustained backpressure rather than stalling the caller.
func (b *Bridge) FeedInbound(frame []byte) {
	select {
	case b.inbound <- frame:
	default:
		b.logger.Warn().Msg("inbound frame dropped, stt pump backed up")
	}
}

// Transcripts exposes the STT client's result stream for the orchestrator
// to hand to the Transcript Aggregator (C5).
func (b *Bridge) Transcripts() <-chan *stt.TranscriptionResult {
	return b.transcripts
}

func (b *Bridge) pumpInbound() {
	for {
		select {
		case frame := <-b.inbound:
			if err := b.stt.SendAudio(frame); err != nil {
				b.logger.Error().Err(err).Msg("send audio to stt failed")
			}
			b.checkBargeIn(frame)
		case <-b.done:
			return
		}
	}
}

// checkBargeIn runs the optional VAD faster-than-STT barge-in signal.
// Running a full classifier model per frame would defeat the latency
// budget VAD exists to protect, so this stays a cheap RMS-energy check
// over the decoded frame.
func (b *Bridge) checkBargeIn(frame []byte) {
	if !b.vadEnabled || b.vad == nil {
		return
	}
	if !b.IsSpeaking() {
		return
	}

	pcm, err := audio.ConvertPCMUToPCM(frame)
	if err != nil || len(pcm)%2 != 0 {
		return
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}

	_, speechStarted, _ := b.vad.ProcessFrame(samples)
	if speechStarted {
		b.StopSpeaking()
		if b.onBargeIn != nil {
			b.onBargeIn()
		}
	}
}

func (b *Bridge) pumpOutbound() {
	ticker := time.NewTicker(framePeriod)
	defer ticker.Stop()

	frame := make([]byte, frameBytes)
	for {
		select {
		case <-ticker.C:
			n := b.outbound.Read(frame)
			if n == 0 {
				continue
			}
			if err := b.sender.SendFrame(b.streamID, frame[:n]); err != nil {
				b.logger.Error().Err(err).Msg("send frame to provider failed")
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bridge) pumpTranscripts() {
	src := b.stt.GetTranscription()
	for {
		select {
		case r, ok := <-src:
			if !ok {
				return
			}
			select {
			case b.transcripts <- r:
			default:
				b.logger.Warn().Msg("transcript dropped, aggregator backed up")
			}
		case <-b.done:
			return
		}
	}
}

// PlayBytes enqueues pre-encoded µ-law bytes for playback.
// priority=interrupt drains whatever is already queued first.
func (b *Bridge) PlayBytes(clip []byte, priority Priority) {
	if priority == PriorityInterrupt {
		b.outbound.Clear()
	}
	if n := b.outbound.Write(clip); n < len(clip) {
		b.logger.Warn().Int("dropped_bytes", len(clip)-n).Msg("outbound buffer full, clip truncated")
	}
}

// Speak invokes the TTS collaborator and pipes its encoded chunks into
// the outbound queue as they arrive, surfacing the first chunk via
// firstAudio once synthesis starts producing audio.
func (b *Bridge) Speak(text string, language session.Language, firstAudio func()) error {
	audioChan, err := b.tts.Synthesize(text, language)
	if err != nil {
		return fmt.Errorf("media: synthesize: %w", err)
	}

	b.mu.Lock()
	b.speaking = true
	b.speakToken++
	token := b.speakToken
	b.mu.Unlock()

	go func() {
		first := true
		for chunk := range audioChan {
			b.mu.Lock()
			current := b.speakToken == token
			b.mu.Unlock()
			if !current {
				continue // a newer Speak or a StopSpeaking superseded this one
			}
			if first && firstAudio != nil {
				firstAudio()
				first = false
			}
			b.outbound.Write(chunk.Data)
		}
		b.mu.Lock()
		if b.speakToken == token {
			b.speaking = false
		}
		b.mu.Unlock()
	}()

	return nil
}

// StopSpeaking drains the outbound queue and signals the TTS client to
// cancel, invoked by the orchestrator's barge-in policy whenever the
// Transcript Aggregator reports a user final utterance.
func (b *Bridge) StopSpeaking() {
	b.mu.Lock()
	b.speakToken++
	b.speaking = false
	b.mu.Unlock()

	if err := b.tts.Stop(); err != nil {
		b.logger.Error().Err(err).Msg("stop tts failed")
	}
	b.outbound.Clear()
}

// IsSpeaking reports whether a Speak call is still actively streaming.
func (b *Bridge) IsSpeaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Close stops the bridge's pumps and closes the STT and TTS sessions.
// Audio still queued for playback is discarded, not flushed, and the
// provider connection itself is not closed here. reason is logged only;
// it has no bearing on shutdown sequencing.
func (b *Bridge) Close(reason string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)

	var errs []error
	if err := b.stt.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := b.stt.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := b.tts.Close(); err != nil {
		errs = append(errs, err)
	}

	b.logger.Info().Str("reason", reason).Msg("media bridge closed")
	if len(errs) > 0 {
		return fmt.Errorf("media: close: %v", errs)
	}
	return nil
}
