// Package engines contains the analytic sub-engines the social agent
// composes: lexicon sentiment scoring, trend momentum/virality detection,
// social content analysis and identity-handle discovery.
package engines

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"pulsewatch/internal/models"
)

var positiveWords = makeSet(
	"bueno", "excelente", "genial", "increíble", "fantástico", "maravilloso",
	"perfecto", "amor", "feliz", "alegría", "éxito", "victoria", "ganar",
	"logro", "progreso", "mejora", "esperanza", "optimista", "positivo",
	"bendición", "agradecido", "orgulloso", "satisfecho", "contento",
	"celebrar", "triunfo", "gloria", "honor",
)

var negativeWords = makeSet(
	"malo", "terrible", "horrible", "pésimo", "desastre", "fracaso",
	"error", "problema", "crisis", "conflicto", "guerra", "violencia",
	"odio", "tristeza", "dolor", "sufrimiento", "corrupción", "robo",
	"mentira", "traición", "injusticia", "preocupado", "triste", "enojado",
	"furioso", "decepcionado", "frustrado", "desesperado", "perdida",
)

var neutralWords = makeSet(
	"normal", "regular", "común", "estándar", "típico", "promedio",
	"usual", "ordinario", "neutro", "balanceado", "equilibrado",
)

var intensifiers = map[string]float64{
	"muy":            1.5,
	"extremadamente": 2.0,
	"súper":          1.8,
	"bastante":       1.3,
	"realmente":      1.4,
	"totalmente":     1.6,
	"absolutamente":  1.8,
	"completamente":  1.7,
}

var diminishers = map[string]float64{
	"poco":          0.5,
	"apenas":        0.3,
	"ligeramente":   0.4,
	"algo":          0.6,
	"relativamente": 0.7,
}

var negationWords = makeSet("no", "nunca", "jamás", "sin", "ni")

var emojiSentiment = map[string]float64{
	"😊": 1, "😃": 1, "😄": 1, "😁": 1, "🙂": 0.5, "😉": 0.5,
	"😍": 1.5, "🥰": 1.5, "😘": 1, "💕": 1, "❤": 1.2, "💖": 1.2,
	"👍": 1, "👏": 1, "🎉": 1.5, "🥳": 1.5, "✨": 1, "⭐": 1,
	"😢": -1, "😭": -1.5, "😞": -1, "😔": -1, "😩": -1.2, "😫": -1.2,
	"😡": -1.5, "😠": -1.3, "🤬": -2, "😤": -1, "💔": -1.5, "😰": -1,
	"🤔": 0, "😐": 0, "😑": 0, "🤷": 0,
}

// suffixes stripped by the simple Spanish stemmer, longest first
var stemSuffixes = []string{"mente", "ando", "endo", "ado", "ido", "ar", "er", "ir", "es", "s"}

// SentimentEngine scores short Spanish-language text against the lexicons
// above. Scoring is pure: the engine carries no mutable state.
type SentimentEngine struct{}

// NewSentimentEngine creates a sentiment engine
func NewSentimentEngine() *SentimentEngine {
	return &SentimentEngine{}
}

// Score analyzes one text and returns a score in [-2, 2].
// Token sentiment is modified by a preceding intensifier/diminisher,
// negated when a negation word appears within the previous 3 tokens, then
// combined with emoji and punctuation contributions, normalized by the
// count of sentiment-bearing tokens and scaled by a length factor that
// damps very short texts.
func (e *SentimentEngine) Score(text string) float64 {
	if text == "" {
		return 0
	}

	words := tokenize(text)

	var score float64
	wordCount := 0
	for i, word := range words {
		ws := wordSentiment(word)
		if ws == 0 {
			continue
		}
		if i > 0 {
			prev := words[i-1]
			if mult, ok := intensifiers[prev]; ok {
				ws *= mult
			} else if mult, ok := diminishers[prev]; ok {
				ws *= mult
			}
		}
		if hasNegation(words, i) {
			ws = -ws
		}
		score += ws
		wordCount++
	}

	score += emojiContribution(text)
	score += punctuationContribution(text)

	if wordCount > 0 {
		score /= float64(wordCount)
	}

	lengthFactor := math.Min(1, float64(len(text))/100)
	score *= lengthFactor

	return clamp(score, -2, 2)
}

// Aggregate averages per-item scores over a collection, clamped to [-1, 1]
func (e *SentimentEngine) Aggregate(texts []string) float64 {
	if len(texts) == 0 {
		return 0
	}
	var total float64
	valid := 0
	for _, t := range texts {
		if t == "" {
			continue
		}
		total += e.Score(t)
		valid++
	}
	if valid == 0 {
		return 0
	}
	return clamp(total/float64(valid), -1, 1)
}

// Classify bins a score into one of the five sentiment categories
func (e *SentimentEngine) Classify(score float64) models.SentimentCategory {
	switch {
	case score >= 0.5:
		return models.SentimentVeryPositive
	case score >= 0.1:
		return models.SentimentPositive
	case score >= -0.1:
		return models.SentimentNeutral
	case score >= -0.5:
		return models.SentimentNegative
	default:
		return models.SentimentVeryNegative
	}
}

// Distribution counts items per sentiment category
func (e *SentimentEngine) Distribution(texts []string) map[models.SentimentCategory]int {
	dist := map[models.SentimentCategory]int{
		models.SentimentVeryPositive: 0,
		models.SentimentPositive:     0,
		models.SentimentNeutral:      0,
		models.SentimentNegative:     0,
		models.SentimentVeryNegative: 0,
	}
	for _, t := range texts {
		if t == "" {
			continue
		}
		dist[e.Classify(e.Score(t))]++
	}
	return dist
}

// Extremes returns the most positive and most negative items, up to limit
// each side, ordered from most extreme inward.
func (e *SentimentEngine) Extremes(texts []string, limit int) (mostPositive, mostNegative []models.ScoredText) {
	scored := make([]models.ScoredText, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		scored = append(scored, models.ScoredText{Text: t, Score: e.Score(t)})
	}
	if len(scored) == 0 {
		return nil, nil
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	n := limit
	if n > len(scored) {
		n = len(scored)
	}
	mostPositive = append(mostPositive, scored[:n]...)

	for i := len(scored) - 1; i >= len(scored)-n; i-- {
		mostNegative = append(mostNegative, scored[i])
	}
	return mostPositive, mostNegative
}

// Summarize produces the full aggregate view over a collection
func (e *SentimentEngine) Summarize(texts []string) models.SentimentSummary {
	avg := e.Aggregate(texts)
	pos, neg := e.Extremes(texts, 3)
	return models.SentimentSummary{
		Average:      avg,
		Category:     e.Classify(avg),
		Distribution: e.Distribution(texts),
		MostPositive: pos,
		MostNegative: neg,
	}
}

// wordSentiment returns the base lexicon score of one normalized token.
// Stemmed matches count at reduced weight.
func wordSentiment(word string) float64 {
	if positiveWords[word] {
		return 1
	}
	if negativeWords[word] {
		return -1
	}
	if neutralWords[word] {
		return 0
	}
	stemmed := stemWord(word)
	if positiveWords[stemmed] {
		return 0.8
	}
	if negativeWords[stemmed] {
		return -0.8
	}
	return 0
}

// stemWord strips one common Spanish suffix when enough stem remains
func stemWord(word string) string {
	runes := []rune(word)
	for _, suffix := range stemSuffixes {
		sr := []rune(suffix)
		if len(runes) > len(sr)+2 && strings.HasSuffix(word, suffix) {
			return string(runes[:len(runes)-len(sr)])
		}
	}
	return word
}

// hasNegation looks for a negation token within the 3 tokens before index i
func hasNegation(words []string, i int) bool {
	start := i - 3
	if start < 0 {
		start = 0
	}
	for j := start; j < i; j++ {
		if negationWords[words[j]] {
			return true
		}
	}
	return false
}

// emojiContribution averages the sentiment of recognized emoji in the text
func emojiContribution(text string) float64 {
	var total float64
	count := 0
	for _, r := range text {
		if s, ok := emojiSentiment[string(r)]; ok {
			total += s
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// punctuationContribution scores exclamation intensity against shouting,
// repeated question marks and trailing ellipses.
func punctuationContribution(text string) float64 {
	var score float64

	if n := strings.Count(text, "!"); n > 0 {
		score += math.Min(0.5, float64(n)*0.1)
	}
	score -= 0.2 * float64(countRuns(text, '?', 2))
	score -= 0.1 * float64(countRuns(text, '.', 3))

	for _, field := range strings.Fields(text) {
		if isShouted(field) {
			score -= 0.3
		}
	}
	return score
}

// countRuns counts maximal runs of ch with length >= minLen
func countRuns(text string, ch rune, minLen int) int {
	count, run := 0, 0
	for _, r := range text {
		if r == ch {
			run++
			continue
		}
		if run >= minLen {
			count++
		}
		run = 0
	}
	if run >= minLen {
		count++
	}
	return count
}

// isShouted reports whether a token is 3+ uppercase letters
func isShouted(token string) bool {
	token = strings.TrimFunc(token, func(r rune) bool { return !unicode.IsLetter(r) })
	runes := []rune(token)
	if len(runes) < 3 {
		return false
	}
	for _, r := range runes {
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}

// tokenize lowercases the text and splits on anything that is not a letter
// or digit, preserving accented characters.
func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func makeSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
