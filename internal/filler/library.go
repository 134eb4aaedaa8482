// Package filler loads pre-recorded latency-hiding clips at startup and
// serves them by {language, category}.
package filler

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zaf/g711"

	"github.com/lexiqai/callback-agent/internal/session"
)

// Category is one of the ten filler categories the agent can cue.
type Category string

const (
	CategoryLookup         Category = "lookup"
	CategoryShiftCancel    Category = "shift_cancel"
	CategoryBook           Category = "book"
	CategoryGeneric        Category = "generic"
	CategoryDelayLookup    Category = "delay_lookup"
	CategoryCalendarUpdate Category = "calendar_update"
	CategoryCalendarFetch  Category = "calendar_fetch"
	CategoryConfirm        Category = "confirm"
	CategoryReschedule     Category = "reschedule"
	CategoryDecline        Category = "decline"
)

// Clip is one pre-synthesized, codec-ready filler utterance.
type Clip struct {
	ID       string
	Language session.Language
	Category Category
	Payload  []byte // µ-law/8kHz, ready for direct frame-queue injection
}

type key struct {
	language session.Language
	category Category
}

// Library is the process-wide, read-only-after-startup filler clip table,
// shared by every session's Media Bridge.
type Library struct {
	mu     sync.RWMutex // guards rng only; clips map is never mutated after Load
	clips  map[key][]Clip
	rng    *rand.Rand
	logger zerolog.Logger
}

// Load walks dir for WAV files named "<language>_<category>_<id>.wav" and
// builds the in-memory clip table. Clips directory layout is flat; the
// filename encodes language and category so no separate manifest file is
// required.
func Load(dir string, logger zerolog.Logger) (*Library, error) {
	lib := &Library{
		clips:  make(map[key][]Clip),
		rng:    rand.New(rand.NewSource(1)),
		logger: logger,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("filler: read clips dir %q: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}

		lang, cat, id, err := parseClipName(e.Name())
		if err != nil {
			logger.Warn().Str("file", e.Name()).Err(err).Msg("filler: skipping unparseable clip filename")
			continue
		}

		path := filepath.Join(dir, e.Name())
		payload, err := loadClipPayload(path)
		if err != nil {
			return nil, fmt.Errorf("filler: load clip %q: %w", path, err)
		}

		k := key{language: lang, category: cat}
		lib.clips[k] = append(lib.clips[k], Clip{ID: id, Language: lang, Category: cat, Payload: payload})
	}

	logger.Info().Int("families", len(lib.clips)).Msg("filler: library loaded")
	return lib, nil
}

// knownLanguages is checked longest-prefix-first so "hindi_mixed" isn't
// mistaken for "hindi" followed by a category starting with "mixed".
var knownLanguages = []session.Language{
	session.LanguageHindiMixed,
	session.LanguageEnglish,
	session.LanguageGerman,
	session.LanguageHindi,
}

// parseClipName splits "english_reschedule_03.wav" into its parts.
func parseClipName(name string) (session.Language, Category, string, error) {
	base := strings.TrimSuffix(name, ".wav")

	var lang session.Language
	var rest string
	for _, l := range knownLanguages {
		prefix := string(l) + "_"
		if strings.HasPrefix(base, prefix) {
			lang = l
			rest = strings.TrimPrefix(base, prefix)
			break
		}
	}
	if lang == "" {
		return "", "", "", fmt.Errorf("expected <language>_<category...>.wav with a known language prefix, got %q", name)
	}

	idx := strings.LastIndex(rest, "_")
	if idx < 0 {
		return lang, Category(rest), rest, nil
	}
	return lang, Category(rest[:idx]), rest[idx+1:], nil
}

// loadClipPayload reads a WAV file, resamples it to 8kHz mono PCM, and
// encodes it to µ-law, mirroring how the media bridge treats any other
// outbound audio.
func loadClipPayload(path string) ([]byte, error) {
	af, err := readWAVFile(path)
	if err != nil {
		return nil, err
	}
	pcm8k, err := resampleTo8kMono(af)
	if err != nil {
		return nil, err
	}
	return g711.EncodeUlaw(pcm8k), nil
}

// Get returns a random clip for {language, category}, or false if none is
// loaded. Unknown-language fallback to english happens in the caller, not
// here, since the caller (the Session Orchestrator) knows the active session.
func (l *Library) Get(language session.Language, category Category) (Clip, bool) {
	l.mu.RLock()
	clips := l.clips[key{language: language, category: category}]
	l.mu.RUnlock()

	if len(clips) == 0 {
		return Clip{}, false
	}

	l.mu.Lock()
	idx := l.rng.Intn(len(clips))
	l.mu.Unlock()
	return clips[idx], true
}

// HealthCheck reports whether any clips loaded at all, used by /ready.
func (l *Library) HealthCheck() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clips) > 0
}

type wavFile struct {
	numChannels   uint16
	sampleRate    uint32
	bitsPerSample uint16
	pcmData       []byte
}

// readWAVFile parses a RIFF/WAVE file's fmt and data chunks.
func readWAVFile(path string) (*wavFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	riffID := make([]byte, 4)
	if _, err := io.ReadFull(f, riffID); err != nil || string(riffID) != "RIFF" {
		return nil, fmt.Errorf("not a RIFF file")
	}
	var riffSize uint32
	if err := binary.Read(f, binary.LittleEndian, &riffSize); err != nil {
		return nil, fmt.Errorf("read riff size: %w", err)
	}
	waveID := make([]byte, 4)
	if _, err := io.ReadFull(f, waveID); err != nil || string(waveID) != "WAVE" {
		return nil, fmt.Errorf("not a WAVE file")
	}

	wf := &wavFile{}
	for {
		chunkID := make([]byte, 4)
		if _, err := io.ReadFull(f, chunkID); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("read chunk id: %w", err)
		}
		var chunkSize uint32
		if err := binary.Read(f, binary.LittleEndian, &chunkSize); err != nil {
			return nil, fmt.Errorf("read chunk size: %w", err)
		}

		switch string(chunkID) {
		case "fmt ":
			var audioFormat uint16
			if err := binary.Read(f, binary.LittleEndian, &audioFormat); err != nil {
				return nil, fmt.Errorf("read audio format: %w", err)
			}
			if audioFormat != 1 {
				return nil, fmt.Errorf("only PCM wav supported, got format %d", audioFormat)
			}
			if err := binary.Read(f, binary.LittleEndian, &wf.numChannels); err != nil {
				return nil, fmt.Errorf("read channels: %w", err)
			}
			if err := binary.Read(f, binary.LittleEndian, &wf.sampleRate); err != nil {
				return nil, fmt.Errorf("read sample rate: %w", err)
			}
			if _, err := f.Seek(6, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("seek past byte rate/block align: %w", err)
			}
			if err := binary.Read(f, binary.LittleEndian, &wf.bitsPerSample); err != nil {
				return nil, fmt.Errorf("read bits per sample: %w", err)
			}
			if chunkSize > 16 {
				if _, err := f.Seek(int64(chunkSize-16), io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("seek past fmt extension: %w", err)
				}
			}
		case "data":
			data := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, fmt.Errorf("read data chunk: %w", err)
			}
			wf.pcmData = data
			return wf, nil
		default:
			if _, err := f.Seek(int64(chunkSize), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skip chunk %q: %w", string(chunkID), err)
			}
		}
	}
	return nil, fmt.Errorf("data chunk not found")
}

// resampleTo8kMono converts to mono (averaging stereo channels) and
// linear-interpolation-resamples to 8kHz, the same algorithm the audio
// package uses for inbound/outbound telephony audio.
func resampleTo8kMono(wf *wavFile) ([]byte, error) {
	const targetRate = 8000

	var mono []byte
	switch wf.numChannels {
	case 1:
		mono = wf.pcmData
	case 2:
		mono = make([]byte, len(wf.pcmData)/2)
		for i := 0; i+3 < len(wf.pcmData); i += 4 {
			left := int16(wf.pcmData[i]) | int16(wf.pcmData[i+1])<<8
			right := int16(wf.pcmData[i+2]) | int16(wf.pcmData[i+3])<<8
			m := int16((int32(left) + int32(right)) / 2)
			mono[i/2] = byte(m)
			mono[i/2+1] = byte(m >> 8)
		}
	default:
		return nil, fmt.Errorf("unsupported channel count %d", wf.numChannels)
	}

	if wf.sampleRate == targetRate {
		return mono, nil
	}

	ratio := float64(wf.sampleRate) / float64(targetRate)
	outSamples := int(float64(len(mono)/2) / ratio)
	out := make([]byte, 0, outSamples*2)

	for i := 0; i < outSamples; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		if (srcIdx+1)*2+1 >= len(mono) {
			break
		}
		frac := srcPos - float64(srcIdx)
		s1 := int16(mono[srcIdx*2]) | int16(mono[srcIdx*2+1])<<8
		s2 := int16(mono[(srcIdx+1)*2]) | int16(mono[(srcIdx+1)*2+1])<<8
		interp := int16(float64(s1)*(1-frac) + float64(s2)*frac)
		out = append(out, byte(interp), byte(interp>>8))
	}
	return out, nil
}
