package services

import (
	"context"
	"errors"
	"testing"

	"pulsewatch/internal/clients"
	"pulsewatch/internal/models"
)

type scriptedLLM struct {
	response string
	err      error
	calls    int
}

func (s *scriptedLLM) Complete(context.Context, []clients.ChatMessage, clients.CompleteOptions) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestClassify_LLMPath(t *testing.T) {
	c := NewIntentClassifier(&scriptedLLM{response: "social_search"})

	got := c.Classify(context.Background(), "busca que se dice del congreso", nil)
	if got.Intent != models.IntentSocialSearch {
		t.Errorf("intent = %s, want social_search", got.Intent)
	}
	if got.Method != methodLLM || got.Confidence != llmClassifyConfidence {
		t.Errorf("llm path metadata wrong: %+v", got)
	}
}

func TestClassify_OutOfEnumerationFallsBack(t *testing.T) {
	// An invented label is a classifier failure, not a new intent
	c := NewIntentClassifier(&scriptedLLM{response: "super_special_intent"})

	got := c.Classify(context.Background(), "busca tweets sobre el transporte", nil)
	if got.Method != methodRegexFallback {
		t.Fatalf("expected regex fallback, got %+v", got)
	}
	if got.Intent != models.IntentSocialSearch {
		t.Errorf("fallback intent = %s, want social_search", got.Intent)
	}
}

func TestClassify_LLMErrorFallsBack(t *testing.T) {
	c := NewIntentClassifier(&scriptedLLM{err: errors.New("provider down")})

	got := c.Classify(context.Background(), "hola, como estas", nil)
	if got.Intent != models.IntentCasualConversation {
		t.Errorf("intent = %s, want casual_conversation", got.Intent)
	}
	if got.Method != methodRegexFallback {
		t.Errorf("method = %s, want regex_fallback", got.Method)
	}
}

func TestClassifyFallback_Ordering(t *testing.T) {
	c := NewIntentClassifier(&scriptedLLM{err: errors.New("down")})

	cases := []struct {
		message string
		want    models.Intent
	}{
		{"hola, como estas", models.IntentCasualConversation},
		{"que puedes hacer?", models.IntentCapabilityQuestion},
		{"ayuda", models.IntentHelpRequest},
		{"analiza el sentimiento sobre la nueva ley", models.IntentSocialAnalysis},
		{"revisa el perfil de @CongresoGuate", models.IntentProfileLookup},
		{"muestrame mis documentos", models.IntentDocumentSearch},
		{"como van mis proyectos", models.IntentProjectSearch},
		{"busca tweets sobre el transmetro", models.IntentSocialSearch},
		{"investiga las noticias del dia", models.IntentWebResearch},
		{"zzz qqq", models.IntentUnknown},
	}
	for _, tc := range cases {
		got := c.Classify(context.Background(), tc.message, nil)
		if got.Intent != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.message, got.Intent, tc.want)
		}
	}
}

func TestClassifyFallback_UnknownHasLowConfidence(t *testing.T) {
	c := NewIntentClassifier(&scriptedLLM{err: errors.New("down")})

	got := c.Classify(context.Background(), "xyzzy", nil)
	if got.Intent != models.IntentUnknown || got.Confidence >= 0.5 {
		t.Errorf("unknown should have low confidence, got %+v", got)
	}
}

func TestConversationalReply_LLMAndFallback(t *testing.T) {
	c := NewIntentClassifier(&scriptedLLM{response: "¡Hola! ¿En qué te ayudo?"})
	reply := c.ConversationalReply(context.Background(), models.IntentCasualConversation, "hola", "Ana")
	if reply != "¡Hola! ¿En qué te ayudo?" {
		t.Errorf("unexpected llm reply %q", reply)
	}

	c = NewIntentClassifier(&scriptedLLM{err: errors.New("down")})
	reply = c.ConversationalReply(context.Background(), models.IntentCapabilityQuestion, "que haces", "")
	if reply == "" {
		t.Fatal("fallback reply must not be empty")
	}
	if reply != cannedReplies[models.IntentCapabilityQuestion] {
		t.Errorf("expected canned capability reply, got %q", reply)
	}
}
