// Package services contains the orchestration core: intent classification,
// routing, conversation management, the per-turn orchestrator state machine
// and response aggregation.
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"pulsewatch/internal/clients"
	"pulsewatch/internal/models"
)

const (
	methodLLM           = "llm"
	methodRegexFallback = "regex_fallback"

	llmClassifyConfidence = 0.85
)

// regexMatcher is one ordered fallback rule. First match wins.
type regexMatcher struct {
	pattern    *regexp.Regexp
	intent     models.Intent
	confidence float64
}

// fallbackMatchers mirror the LLM label set with deterministic rules. The
// order is significant: specific task patterns come before generic ones.
var fallbackMatchers = []regexMatcher{
	{regexp.MustCompile(`(?i)^(hola|buenos dias|buenas tardes|buenas noches|que tal|saludos)`), models.IntentCasualConversation, 0.7},
	{regexp.MustCompile(`(?i)como estas|cómo estás|como te va`), models.IntentCasualConversation, 0.7},
	{regexp.MustCompile(`(?i)(que|qué) (puedes|sabes) hacer|tus (capacidades|funciones)`), models.IntentCapabilityQuestion, 0.7},
	{regexp.MustCompile(`(?i)^ayuda\b|ayudame|ayúdame|como (uso|funciona)`), models.IntentHelpRequest, 0.7},
	{regexp.MustCompile(`(?i)gracias|perfecto|excelente$|buen trabajo`), models.IntentSmallTalk, 0.6},

	{regexp.MustCompile(`(?i)sentimiento|percepcion|percepción|que (opina|piensa) la gente`), models.IntentSocialAnalysis, 0.7},
	{regexp.MustCompile(`(?i)perfil de|cuenta de|@\w+|quien es @`), models.IntentProfileLookup, 0.7},
	{regexp.MustCompile(`(?i)(mis|los) documentos|transcripcion|transcripción|codex`), models.IntentDocumentSearch, 0.7},
	{regexp.MustCompile(`(?i)analiza el documento|resume el documento`), models.IntentDocumentAnalyze, 0.7},
	{regexp.MustCompile(`(?i)(mis|los) proyectos|mi proyecto`), models.IntentProjectSearch, 0.7},
	{regexp.MustCompile(`(?i)(redes|tweets|twitter|x\.com).*(proyecto|documento)|proyecto.*(redes|tweets)`), models.IntentMixedAnalysis, 0.6},
	{regexp.MustCompile(`(?i)busca|buscar|tweets|redes sociales|que se dice|tendencia`), models.IntentSocialSearch, 0.7},
	{regexp.MustCompile(`(?i)investiga|noticias|informacion sobre|información sobre|contexto de`), models.IntentWebResearch, 0.6},
}

// IntentClassifier maps raw user text to the closed intent enumeration.
// Primary path is one low-temperature LLM completion; anything outside the
// enumeration (or a failed call) falls back to the regex rules. Fallback is
// a normal outcome, never an error the caller sees.
type IntentClassifier struct {
	llm clients.LLM
	log *logrus.Entry
}

// NewIntentClassifier creates the classifier
func NewIntentClassifier(llm clients.LLM) *IntentClassifier {
	return &IntentClassifier{
		llm: llm,
		log: logrus.WithField("component", "intent_classifier"),
	}
}

// classifierLabels lists the labels offered to the LLM, conversational first
var classifierLabels = []models.Intent{
	models.IntentCasualConversation,
	models.IntentCapabilityQuestion,
	models.IntentHelpRequest,
	models.IntentSmallTalk,
	models.IntentSocialSearch,
	models.IntentSocialAnalysis,
	models.IntentProfileLookup,
	models.IntentWebResearch,
	models.IntentDocumentSearch,
	models.IntentProjectSearch,
	models.IntentDocumentAnalyze,
	models.IntentMixedAnalysis,
}

// Classify returns the intent of one user turn
func (c *IntentClassifier) Classify(ctx context.Context, message string, history []string) models.IntentClassification {
	if intent, ok := c.classifyLLM(ctx, message, history); ok {
		return models.IntentClassification{
			Intent:     intent,
			Confidence: llmClassifyConfidence,
			Method:     methodLLM,
		}
	}
	return c.classifyFallback(message)
}

func (c *IntentClassifier) classifyLLM(ctx context.Context, message string, history []string) (models.Intent, bool) {
	labels := make([]string, len(classifierLabels))
	for i, l := range classifierLabels {
		labels[i] = string(l)
	}

	system := fmt.Sprintf(`Clasifica el mensaje del usuario en EXACTAMENTE una de estas categorías:
%s

Responde SOLO con el nombre de la categoría, sin explicación.`, strings.Join(labels, "\n"))

	user := message
	if len(history) > 0 {
		recent := history
		if len(recent) > 4 {
			recent = recent[len(recent)-4:]
		}
		user = fmt.Sprintf("Conversación reciente:\n%s\n\nMensaje a clasificar: %s",
			strings.Join(recent, "\n"), message)
	}

	raw, err := c.llm.Complete(ctx, []clients.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, clients.CompleteOptions{Temperature: 0.1, MaxTokens: 20})
	if err != nil {
		c.log.WithError(err).Debug("llm classification failed, using fallback")
		return "", false
	}

	label := models.Intent(strings.ToLower(strings.TrimSpace(strings.Trim(raw, `"'.`))))
	if !models.ValidIntents[label] || label == models.IntentUnknown {
		c.log.WithField("label", raw).Debug("llm returned out-of-enumeration label")
		return "", false
	}
	return label, true
}

// classifyFallback applies the ordered regex rules
func (c *IntentClassifier) classifyFallback(message string) models.IntentClassification {
	for _, m := range fallbackMatchers {
		if m.pattern.MatchString(message) {
			return models.IntentClassification{
				Intent:     m.intent,
				Confidence: m.confidence,
				Method:     methodRegexFallback,
			}
		}
	}
	return models.IntentClassification{
		Intent:     models.IntentUnknown,
		Confidence: 0.3,
		Method:     methodRegexFallback,
	}
}

// cannedReplies are the deterministic conversational answers used when the
// LLM is unavailable.
var cannedReplies = map[models.Intent]string{
	models.IntentCasualConversation: "¡Hola! Soy tu asistente de monitoreo. ¿Qué tema te interesa hoy?",
	models.IntentCapabilityQuestion: "Puedo buscar y analizar contenido en redes sociales, investigar temas de actualidad, revisar perfiles públicos y consultar tus proyectos y documentos.",
	models.IntentHelpRequest:        "Pídeme cosas como: \"busca qué se dice del transporte urbano\", \"analiza el perfil de @cuenta\" o \"muéstrame mis proyectos\".",
	models.IntentSmallTalk:          "¡Con gusto! ¿Hay algo más que quieras revisar?",
}

// ConversationalReply generates the direct answer for a conversational
// intent. Free-form LLM first, canned text when that fails.
func (c *IntentClassifier) ConversationalReply(ctx context.Context, intent models.Intent, message, userName string) string {
	system := "Eres el asistente conversacional de una plataforma de monitoreo social y político en Guatemala. Responde en español, breve y cordial. No inventes datos ni resultados de análisis."
	user := message
	if userName != "" {
		user = fmt.Sprintf("(El usuario se llama %s)\n%s", userName, message)
	}

	reply, err := c.llm.Complete(ctx, []clients.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, clients.CompleteOptions{Temperature: 0.7, MaxTokens: 300})
	if err == nil && strings.TrimSpace(reply) != "" {
		return strings.TrimSpace(reply)
	}

	if canned, ok := cannedReplies[intent]; ok {
		return canned
	}
	return cannedReplies[models.IntentCasualConversation]
}
