package intent

import (
	"context"
	"testing"

	"github.com/lexiqai/callback-agent/internal/session"
)

func TestPreFilterDiscardsGreeting(t *testing.T) {
	r := PreFilter(context.Background(), nil, "hello", session.LanguageEnglish)
	if !r.Skip {
		t.Errorf("PreFilter(greeting) Skip = false, want true")
	}
}

func TestPreFilterDiscardsShortUtterance(t *testing.T) {
	r := PreFilter(context.Background(), nil, "ok", session.LanguageEnglish)
	if !r.Skip {
		t.Errorf("PreFilter(short) Skip = false, want true")
	}
}

func TestPreFilterDiscardsCommunicationCheck(t *testing.T) {
	r := PreFilter(context.Background(), nil, "hello can you hear me", session.LanguageEnglish)
	if !r.Skip {
		t.Errorf("PreFilter(communication check) Skip = false, want true")
	}
}

func TestPreFilterPassesActionableUtterance(t *testing.T) {
	r := PreFilter(context.Background(), nil, "I need to reschedule my appointment for next week please", session.LanguageEnglish)
	if r.Skip {
		t.Errorf("PreFilter(actionable) Skip = true, want false")
	}
}
