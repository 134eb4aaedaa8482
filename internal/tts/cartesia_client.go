package tts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/lexiqai/callback-agent/internal/audio"
	"github.com/lexiqai/callback-agent/internal/config"
	"github.com/lexiqai/callback-agent/internal/resilience"
	"github.com/lexiqai/callback-agent/internal/session"
)

// frameBytes is one 20ms µ-law/8kHz frame (160 samples, 1 byte/sample),
// the unit the Media Bridge's outbound queue expects.
const frameBytes = 160

// CartesiaClient implements TTSClient using Cartesia's TTS API.
type CartesiaClient struct {
	config     *config.Config
	apiKey     string
	apiURL     string
	httpClient *http.Client
	cb         *resilience.CircuitBreaker
	mu         sync.RWMutex
	isActive   bool
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	Language        string  `json:"language,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// voiceIDs maps our four languages onto Cartesia voice ids. Unset
// entries fall back to the configured default voice.
var voiceIDs = map[session.Language]string{
	session.LanguageEnglish:    "sonic-english",
	session.LanguageGerman:     "sonic-german",
	session.LanguageHindi:      "sonic-hindi",
	session.LanguageHindiMixed: "sonic-hindi",
}

// languageCodes maps our four languages onto Cartesia's language field.
var languageCodes = map[session.Language]string{
	session.LanguageEnglish:    "en",
	session.LanguageGerman:     "de",
	session.LanguageHindi:      "hi",
	session.LanguageHindiMixed: "hi",
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config) *CartesiaClient {
	return &CartesiaClient{
		config: cfg,
		apiKey: cfg.TTSAPIKey,
		apiURL: "https://api.cartesia.ai/v1/tts",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cb:       resilience.NewCircuitBreaker("tts", cfg.CircuitBreakerMaxFailures, time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
		isActive: false,
	}
}

// Synthesize converts text to audio for the given language and streams it
// back as a sequence of 20ms PCMU frames. The whole utterance is fetched
// in one request and read in full before the first frame is sent; frames
// are not produced while the provider's response is still arriving.
func (c *CartesiaClient) Synthesize(text string, language session.Language) (<-chan *AudioChunk, error) {
	c.mu.Lock()
	if c.isActive {
		c.mu.Unlock()
		return nil, fmt.Errorf("cartesia client is already synthesizing")
	}
	c.isActive = true
	c.mu.Unlock()

	voiceID := voiceIDs[language]
	if voiceID == "" {
		voiceID = c.config.TTSVoiceID
	}

	reqBody := CartesiaRequest{
		Text:            text,
		VoiceID:         voiceID,
		ModelID:         c.config.TTSModelID,
		Language:        languageCodes[language],
		OutputFormat:    "pcm",
		SampleRate:      24000,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}

	var audioData []byte
	err := c.cb.Call(func() error {
		data, err := c.fetchAudio(reqBody)
		if err != nil {
			return err
		}
		audioData = data
		return nil
	})
	if err != nil {
		c.mu.Lock()
		c.isActive = false
		c.mu.Unlock()
		return nil, err
	}

	audioChan := make(chan *AudioChunk, 64)
	go c.streamFrames(audioChan, audioData)
	return audioChan, nil
}

func (c *CartesiaClient) fetchAudio(reqBody CartesiaRequest) ([]byte, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cartesia API returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading cartesia audio response: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio data")
	}
	return data, nil
}

// streamFrames converts the full PCM response to PCMU once, then dribbles
// it out in 20ms frames so downstream playback can start interleaving
// with any filler clip still draining.
func (c *CartesiaClient) streamFrames(audioChan chan<- *AudioChunk, pcmData []byte) {
	defer func() {
		close(audioChan)
		c.mu.Lock()
		c.isActive = false
		c.mu.Unlock()
	}()

	pcmuData, err := audio.ConvertPCMToPCMU(pcmData, 24000, 8000)
	if err != nil {
		log.Printf("tts: error converting audio format: %v", err)
		return
	}

	for offset := 0; offset < len(pcmuData); offset += frameBytes {
		end := offset + frameBytes
		if end > len(pcmuData) {
			end = len(pcmuData)
		}
		frame := make([]byte, end-offset)
		copy(frame, pcmuData[offset:end])

		c.mu.RLock()
		active := c.isActive
		c.mu.RUnlock()
		if !active {
			return // Stop() was called mid-stream
		}

		select {
		case audioChan <- &AudioChunk{Data: frame, SampleRate: 8000, Channels: 1}:
		default:
			log.Printf("tts: audio channel full, dropping frame")
		}
	}
}

// Stop stops any ongoing synthesis
func (c *CartesiaClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return nil
	}
	c.isActive = false
	return nil
}

// Close closes the client and cleans up resources
func (c *CartesiaClient) Close() error {
	return c.Stop()
}

// IsActive returns whether the client is currently synthesizing
func (c *CartesiaClient) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive
}
