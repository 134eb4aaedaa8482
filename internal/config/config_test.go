package config

import (
	"os"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	vars := map[string]string{
		"STT_API_KEY":            "test-stt-key",
		"TTS_API_KEY":            "test-tts-key",
		"LLM_API_KEY":            "test-llm-key",
		"TELEPHONY_ACCOUNT_SID":  "ACtest",
		"TELEPHONY_AUTH_TOKEN":   "test-auth-token",
		"TELEPHONY_FROM_NUMBER":  "+15550000000",
		"PHONEBOOK_PATH":         "/tmp/phonebook.json",
		"FILLER_CLIPS_DIR":       "/tmp/fillers",
	}
	for k, v := range vars {
		os.Setenv(k, v)
		t.Cleanup(func(k string) func() { return func() { os.Unsetenv(k) } }(k))
	}
}

func TestLoad(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-stt-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-stt-key', got '%s'", cfg.DeepgramAPIKey)
	}
	if cfg.TTSAPIKey != "test-tts-key" {
		t.Errorf("Expected TTSAPIKey 'test-tts-key', got '%s'", cfg.TTSAPIKey)
	}
	if cfg.LLMAPIKey != "test-llm-key" {
		t.Errorf("Expected LLMAPIKey 'test-llm-key', got '%s'", cfg.LLMAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("STT_API_KEY")
	os.Unsetenv("TTS_API_KEY")
	os.Unsetenv("LLM_API_KEY")
	os.Unsetenv("TELEPHONY_ACCOUNT_SID")
	os.Unsetenv("TELEPHONY_AUTH_TOKEN")
	os.Unsetenv("TELEPHONY_FROM_NUMBER")
	os.Unsetenv("PHONEBOOK_PATH")
	os.Unsetenv("FILLER_CLIPS_DIR")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}
	if cfg.TTSVoiceID != "sonic-english" {
		t.Errorf("Expected default TTSVoiceID 'sonic-english', got '%s'", cfg.TTSVoiceID)
	}
	if cfg.TTSModelID != "sonic" {
		t.Errorf("Expected default TTSModelID 'sonic', got '%s'", cfg.TTSModelID)
	}
	if cfg.LLMModel != "gpt-4o-mini" {
		t.Errorf("Expected default LLMModel 'gpt-4o-mini', got '%s'", cfg.LLMModel)
	}
	if cfg.CalendarID != "primary" {
		t.Errorf("Expected default CalendarID 'primary', got '%s'", cfg.CalendarID)
	}
	if cfg.OutboundCooldownSeconds != 20 {
		t.Errorf("Expected default OutboundCooldownSeconds 20, got %d", cfg.OutboundCooldownSeconds)
	}
	if cfg.TerminationGraceMillis != 3000 {
		t.Errorf("Expected default TerminationGraceMillis 3000, got %d", cfg.TerminationGraceMillis)
	}
	if cfg.AudioBufferSize != 8192 {
		t.Errorf("Expected default AudioBufferSize 8192, got %d", cfg.AudioBufferSize)
	}
	if cfg.VADEnabled {
		t.Error("Expected default VADEnabled false, got true")
	}
	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}
	if cfg.VADSilenceFrames != 10 {
		t.Errorf("Expected default VADSilenceFrames 10, got %d", cfg.VADSilenceFrames)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.DeepgramAPIKey != "test-stt-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-stt-key', got '%s'", cfg.DeepgramAPIKey)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredEnv(t)
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
