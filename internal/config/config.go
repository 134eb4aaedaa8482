package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the callback agent service.
type Config struct {
	// Server configuration
	Port string `envconfig:"HTTP_PORT" default:"8080"`

	// Public URLs this service is reachable at. BaseURL fronts the
	// Twilio voice webhook; WebSocketURL is the wss:// the webhook's
	// TwiML <Connect><Stream> points the media stream at.
	BaseURL      string `envconfig:"BASE_URL" default:""`
	WebSocketURL string `envconfig:"WEBSOCKET_URL" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey string `envconfig:"STT_API_KEY" required:"true"`
	DeepgramModel  string `envconfig:"STT_MODEL" default:"nova-2"`

	// TTS (Cartesia-shaped) API configuration
	TTSAPIKey  string `envconfig:"TTS_API_KEY" required:"true"`
	TTSVoiceID string `envconfig:"TTS_VOICE_ID" default:"sonic-english"`
	TTSModelID string `envconfig:"TTS_MODEL_ID" default:"sonic"`

	// LLM (OpenAI-shaped) configuration, used by the Intent Classifier
	// and every workflow's entity/time parsing and tool-calling.
	LLMAPIKey string `envconfig:"LLM_API_KEY" required:"true"`
	LLMModel  string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`

	// Telephony (Twilio-shaped) configuration for inbound webhook
	// validation and the Outbound Dispatcher / SMS collaborator.
	TelephonyAccountSID string `envconfig:"TELEPHONY_ACCOUNT_SID" required:"true"`
	TelephonyAuthToken  string `envconfig:"TELEPHONY_AUTH_TOKEN" required:"true"`
	TelephonyFromNumber string `envconfig:"TELEPHONY_FROM_NUMBER" required:"true"`

	// Calendar collaborator configuration.
	CalendarCredentialsJSON string `envconfig:"CALENDAR_CREDENTIALS_JSON" default:""`
	CalendarID              string `envconfig:"CALENDAR_ID" default:"primary"`

	// Process-wide shared resources.
	PhonebookPath  string `envconfig:"PHONEBOOK_PATH" required:"true"`
	FillerClipsDir string `envconfig:"FILLER_CLIPS_DIR" required:"true"`
	AuditDBURI     string `envconfig:"AUDIT_DB_URI" default:"./audit.db"`

	// Outbound-call and termination timing.
	OutboundCooldownSeconds int `envconfig:"OUTBOUND_COOLDOWN_SECONDS" default:"20"`
	TerminationGraceMillis  int `envconfig:"TERMINATION_GRACE_MILLIS" default:"3000"`

	// Audio processing configuration
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"`
	VADEnabled         bool    `envconfig:"VAD_ENABLED" default:"false"` // opt-in early barge-in signal, see DESIGN.md
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`

	// Resilience configuration, shared by every collaborator client.
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"`
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables, first attempting
// to populate the process environment from a .env file if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
