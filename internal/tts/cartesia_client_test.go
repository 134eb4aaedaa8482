package tts

import (
	"testing"

	"github.com/lexiqai/callback-agent/internal/config"
	"github.com/lexiqai/callback-agent/internal/session"
)

func TestStreamFramesChunksIntoTwentyMillisecondFrames(t *testing.T) {
	c := NewCartesiaClient(&config.Config{
		TTSVoiceID:                 "sonic-english",
		TTSModelID:                 "sonic",
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	})
	c.isActive = true

	// 24kHz, 20ms of silence = 480 samples = 960 bytes -> resampled to
	// 160 samples (8kHz) -> 160 PCMU bytes, exactly one frame.
	pcm := make([]byte, 960)

	audioChan := make(chan *AudioChunk, 16)
	c.streamFrames(audioChan, pcm)

	var frames []*AudioChunk
	for chunk := range audioChan {
		frames = append(frames, chunk)
	}

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if len(frames[0].Data) != frameBytes {
		t.Errorf("frame size = %d, want %d", len(frames[0].Data), frameBytes)
	}
	if frames[0].SampleRate != 8000 {
		t.Errorf("frame sample rate = %d, want 8000", frames[0].SampleRate)
	}
	if c.IsActive() {
		t.Errorf("IsActive() = true after stream drained, want false")
	}
}

func TestVoiceIDsCoverAllLanguages(t *testing.T) {
	for _, lang := range []session.Language{
		session.LanguageEnglish,
		session.LanguageGerman,
		session.LanguageHindi,
		session.LanguageHindiMixed,
	} {
		if voiceIDs[lang] == "" {
			t.Errorf("voiceIDs missing entry for %q", lang)
		}
		if languageCodes[lang] == "" {
			t.Errorf("languageCodes missing entry for %q", lang)
		}
	}
}
