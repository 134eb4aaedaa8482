package stt

import "github.com/lexiqai/callback-agent/internal/session"

// TranscriptionResult represents a transcription result from the STT
// collaborator.
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64

	// Language is the detected language of this utterance, one of the
	// four the agent speaks. Detection happens per-utterance, not once
	// per call, since a caller may switch mid-conversation.
	Language session.Language
}

// STTClient is the interface for speech-to-text clients
type STTClient interface {
	// Start begins a new transcription session
	Start() error
	
	// SendAudio sends an audio chunk to the STT service
	SendAudio(audioData []byte) error
	
	// GetTranscription returns the channel on which transcription
	// results are delivered
	GetTranscription() <-chan *TranscriptionResult
	
	// Stop stops the transcription session
	Stop() error
	
	// Close closes the client and cleans up resources
	Close() error
}

