package intent

import (
	"context"
	"strings"

	"github.com/lexiqai/callback-agent/internal/llm"
	"github.com/lexiqai/callback-agent/internal/session"
)

// greetings and communicationChecks are cheap pattern tables per
// language, checked before any LLM call.
var greetings = map[session.Language][]string{
	session.LanguageEnglish:    {"hi", "hello", "hey", "ok", "okay", "thanks", "thank you"},
	session.LanguageGerman:     {"hallo", "hi", "danke", "ok", "okay", "servus"},
	session.LanguageHindi:      {"नमस्ते", "हैलो", "धन्यवाद", "ठीक है"},
	session.LanguageHindiMixed: {"namaste", "hello", "thank you", "theek hai", "ok"},
}

var communicationChecks = map[session.Language][]string{
	session.LanguageEnglish:    {"can you hear me", "hello are you there", "are you there"},
	session.LanguageGerman:     {"können sie mich hören", "hallo sind sie da"},
	session.LanguageHindi:      {"क्या आप सुन सकते हैं", "क्या आप वहां हैं"},
	session.LanguageHindiMixed: {"can you hear me", "kya aap sun sakte hain"},
}

// PreFilterResult is what the Utterance Pre-Filter decides about a turn.
type PreFilterResult struct {
	Skip           bool // true: small-talk, never reaches the classifier
	IntentStrength float64
}

// PreFilter discards trivial utterances before the classifier runs.
// Only customers are pre-filtered on every turn; the caller skips this
// for teammates/unknowns on their first turn, whose first utterance is
// what establishes intent.
func PreFilter(ctx context.Context, c llm.Client, text string, language session.Language) PreFilterResult {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 3 {
		return PreFilterResult{Skip: true}
	}

	lower := strings.ToLower(trimmed)
	for _, g := range greetings[language] {
		if lower == strings.ToLower(g) {
			return PreFilterResult{Skip: true}
		}
	}
	for _, cc := range communicationChecks[language] {
		if strings.Contains(lower, strings.ToLower(cc)) {
			return PreFilterResult{Skip: true}
		}
	}

	strength := intentStrength(trimmed)
	if strength < 0.2 {
		return PreFilterResult{Skip: true, IntentStrength: strength}
	}
	if strength <= 0.6 && c != nil {
		if shouldClassify(ctx, c, trimmed) {
			return PreFilterResult{Skip: false, IntentStrength: strength}
		}
		return PreFilterResult{Skip: true, IntentStrength: strength}
	}

	return PreFilterResult{Skip: false, IntentStrength: strength}
}

// intentStrength is a cheap length/punctuation heuristic: longer
// utterances with question marks or task verbs score higher. This isn't
// a model call — the ambiguous band (0.2-0.6) is what triggers one.
func intentStrength(text string) float64 {
	words := strings.Fields(text)
	score := 0.1 * float64(len(words))
	if strings.ContainsAny(text, "?") {
		score += 0.2
	}
	for _, verb := range []string{"need", "want", "can", "could", "please", "reschedule", "cancel", "book"} {
		if strings.Contains(strings.ToLower(text), verb) {
			score += 0.3
			break
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// shouldClassify asks the LLM a cheap yes/no gate question for
// ambiguous-strength utterances.
func shouldClassify(ctx context.Context, c llm.Client, text string) bool {
	resp, err := c.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "Does this utterance express an actionable request or question, as opposed to small talk? Respond with only yes or no.",
		Messages:     []llm.Message{{Role: "user", Content: text}},
		Temperature:  0,
		MaxTokens:    5,
	})
	if err != nil {
		return true // fail open: let the classifier take a shot rather than silently dropping the turn
	}
	return strings.Contains(strings.ToLower(resp.Text), "yes")
}
