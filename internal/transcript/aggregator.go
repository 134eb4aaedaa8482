// Package transcript turns STT partial/final events into utterance
// boundaries.
package transcript

import (
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/callback-agent/internal/stt"
)

// Utterance is one complete, non-empty user turn ready for the Intent
// Classifier.
type Utterance struct {
	Text      string
	Language  string
	Timestamp time.Time
}

// dualFinalWindow is how long after a final we wait to see if a second
// final arrives to concatenate with it.
const dualFinalWindow = 250 * time.Millisecond

// Aggregator consumes a stream of stt.TranscriptionResult and emits
// Utterances, applying the 250ms dual-final concatenation rule and
// suppressing empty finals. Partials pass through on a separate channel
// for observability only; they never reach the workflow.
type Aggregator struct {
	mu       sync.Mutex
	pending  *pendingFinal
	timer    *time.Timer
	out      chan Utterance
	partials chan stt.TranscriptionResult
}

type pendingFinal struct {
	text     string
	language string
}

// New constructs an Aggregator with unbuffered-enough output channels for
// a single session's lifetime.
func New() *Aggregator {
	return &Aggregator{
		out:      make(chan Utterance, 16),
		partials: make(chan stt.TranscriptionResult, 32),
	}
}

// Utterances returns the channel of completed utterances.
func (a *Aggregator) Utterances() <-chan Utterance { return a.out }

// Partials returns the channel of interim results, observability-only.
func (a *Aggregator) Partials() <-chan stt.TranscriptionResult { return a.partials }

// Feed processes one STT result. Call this from the goroutine reading
// the STT client's transcription channel.
func (a *Aggregator) Feed(r stt.TranscriptionResult) {
	if !r.IsFinal {
		select {
		case a.partials <- r:
		default:
		}
		return
	}

	text := strings.TrimSpace(r.Text)
	if text == "" {
		return // empty finals are suppressed
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending != nil {
		a.pending.text = strings.TrimSpace(a.pending.text + " " + text)
		if a.timer != nil {
			a.timer.Stop()
		}
		a.flushLocked()
		return
	}

	a.pending = &pendingFinal{text: text, language: string(r.Language)}
	a.timer = time.AfterFunc(dualFinalWindow, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.flushLocked()
	})
}

// flushLocked emits the pending final as an Utterance. Caller holds mu.
func (a *Aggregator) flushLocked() {
	if a.pending == nil {
		return
	}
	u := Utterance{Text: a.pending.text, Language: a.pending.language, Timestamp: time.Now()}
	a.pending = nil
	a.timer = nil

	select {
	case a.out <- u:
	default:
	}
}

// Close releases the aggregator's timer and channels. Any final still
// pending concatenation is dropped, since the session is ending anyway.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.mu.Unlock()
	close(a.out)
	close(a.partials)
}
