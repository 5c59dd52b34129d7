package engines

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pulsewatch/internal/clients"
	"pulsewatch/internal/models"
)

var (
	mentionRe = regexp.MustCompile(`@(\w+)`)
	topicTag  = regexp.MustCompile(`#(\w+)`)
)

// queryStopwords are filler words dropped when shortening long queries
var queryStopwords = makeSet(
	"que", "del", "las", "los", "una", "uno", "para", "con", "por", "desde",
)

// topicStopwords are filler words excluded from topic frequency extraction
var topicStopwords = makeSet(
	"que", "del", "las", "los", "una", "uno", "para", "con", "por", "desde",
	"hasta", "como", "muy", "mas", "todo", "esta", "este", "son", "fue",
	"ser", "han", "hay", "pero", "solo", "sin", "bien", "vez", "año", "dia",
	"hoy", "ayer",
)

// contextualFilters attach topic-specific include terms to a query. Checked
// in order; first match wins.
var contextualFilters = []struct {
	triggers []string
	include  []string
}{
	{[]string{"ley", "proteccion", "animal"}, []string{"ley", "protección", "animal", "Guatemala"}},
	{[]string{"sismo", "terremoto"}, []string{"sismo", "terremoto", "Guatemala"}},
	{[]string{"eleccion", "politica"}, []string{"elección", "política", "Guatemala"}},
}

// KeyActor is a frequently mentioned account or hashtag
type KeyActor struct {
	Type     string `json:"type"` // "user" or "hashtag"
	Name     string `json:"name"`
	Mentions int    `json:"mentions"`
}

// KeyTopic is a frequently used content word
type KeyTopic struct {
	Topic     string `json:"topic"`
	Frequency int    `json:"frequency"`
}

// SocialAnalysisEngine filters retrieved content, scores relevance and
// extracts actors and topics. The LLM is only used for the conversational
// summary; all scoring is deterministic.
type SocialAnalysisEngine struct {
	llm clients.LLM
	log *logrus.Entry
}

// NewSocialAnalysisEngine creates a social analysis engine
func NewSocialAnalysisEngine(llm clients.LLM) *SocialAnalysisEngine {
	return &SocialAnalysisEngine{
		llm: llm,
		log: logrus.WithField("component", "social_analysis"),
	}
}

// OptimizeQuery shortens long queries to their key terms and attaches
// topic-specific include terms plus the default geographic scope.
func (e *SocialAnalysisEngine) OptimizeQuery(query string) string {
	short := shortenQuery(query)
	lowered := strings.ToLower(short)

	for _, filter := range contextualFilters {
		for _, trigger := range filter.triggers {
			if strings.Contains(lowered, trigger) {
				return buildContextualQuery(short, filter.include)
			}
		}
	}
	return short + " Guatemala"
}

// shortenQuery keeps at most 8 meaningful words of a long query
func shortenQuery(query string) string {
	if len(query) <= 50 {
		return query
	}
	var kept []string
	for _, word := range strings.Fields(query) {
		if len(word) > 2 && !queryStopwords[strings.ToLower(word)] {
			kept = append(kept, word)
		}
		if len(kept) == 8 {
			break
		}
	}
	return strings.Join(kept, " ")
}

// buildContextualQuery appends include terms not already present
func buildContextualQuery(base string, include []string) string {
	lowered := strings.ToLower(base)
	parts := []string{base}
	for _, term := range include {
		if !strings.Contains(lowered, strings.ToLower(term)) {
			parts = append(parts, term)
		}
	}
	return strings.Join(parts, " ")
}

// ItemRelevance scores one item against the query: a point per matched
// query word, engagement tier bonuses, a mention/hashtag bonus and a spam
// penalty for short link-only content. Never negative.
func (e *SocialAnalysisEngine) ItemRelevance(item models.SocialItem, query string) float64 {
	if item.Text == "" || query == "" {
		return 0
	}
	text := strings.ToLower(item.Text)

	var score float64
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if len(word) > 2 && strings.Contains(text, word) {
			score++
		}
	}

	// Reposts weigh double: they spread content, likes only endorse it
	engagement := item.Likes + item.Reposts*2
	switch {
	case engagement > 100:
		score += 3
	case engagement > 50:
		score += 2
	case engagement > 10:
		score += 1
	}

	if strings.Contains(text, "@") || strings.Contains(text, "#") {
		score++
	}
	if strings.Contains(text, "http") && len(item.Text) < 50 {
		score -= 2
	}

	if score < 0 {
		return 0
	}
	return score
}

// FilterAndRank scores items against the query and returns up to 50,
// ordered by relevance then recency.
func (e *SocialAnalysisEngine) FilterAndRank(items []models.SocialItem, query string) []models.SocialItem {
	ranked := make([]models.SocialItem, len(items))
	copy(ranked, items)
	for i := range ranked {
		ranked[i].Relevance = e.ItemRelevance(ranked[i], query)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Relevance != ranked[j].Relevance {
			return ranked[i].Relevance > ranked[j].Relevance
		}
		return ranked[i].Timestamp.After(ranked[j].Timestamp)
	})
	if len(ranked) > 50 {
		ranked = ranked[:50]
	}
	return ranked
}

// AssessRelevance grades a whole result set 0-10: average item relevance
// plus volume and date-diversity bonuses.
func (e *SocialAnalysisEngine) AssessRelevance(items []models.SocialItem, query string) float64 {
	if len(items) == 0 {
		return 0
	}

	var total float64
	for _, item := range items {
		total += e.ItemRelevance(item, query)
	}
	score := total / float64(len(items))

	if len(items) >= 20 {
		score += 2
	} else if len(items) >= 10 {
		score += 1
	}

	days := make(map[string]bool)
	for _, item := range items {
		if !item.Timestamp.IsZero() {
			days[item.Timestamp.Format("2006-01-02")] = true
		}
	}
	if len(days) >= 5 {
		score += 1
	}

	return clamp(score, 0, 10)
}

// RelevanceTier buckets a 0-10 assessment into alta/media/baja
func RelevanceTier(score float64) models.RelevanceTier {
	switch {
	case score >= 7:
		return models.RelevanceAlta
	case score >= 4:
		return models.RelevanceMedia
	default:
		return models.RelevanceBaja
	}
}

// ExtractKeyActors returns the top 5 mentioned accounts and top 5 hashtags
func (e *SocialAnalysisEngine) ExtractKeyActors(items []models.SocialItem) []KeyActor {
	if len(items) == 0 {
		return nil
	}

	mentions := make(map[string]int)
	hashtags := make(map[string]int)
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		for _, m := range mentionRe.FindAllStringSubmatch(item.Text, -1) {
			mentions[m[1]]++
		}
		for _, h := range topicTag.FindAllString(item.Text, -1) {
			hashtags[h]++
		}
	}

	actors := topCounts(mentions, 5, func(name string, count int) KeyActor {
		return KeyActor{Type: "user", Name: "@" + name, Mentions: count}
	})
	actors = append(actors, topCounts(hashtags, 5, func(name string, count int) KeyActor {
		return KeyActor{Type: "hashtag", Name: name, Mentions: count}
	})...)
	return actors
}

// ExtractKeyTopics returns the 10 most frequent content words
func (e *SocialAnalysisEngine) ExtractKeyTopics(items []models.SocialItem) []KeyTopic {
	if len(items) == 0 {
		return nil
	}

	freq := make(map[string]int)
	for _, item := range items {
		for _, word := range tokenize(item.Text) {
			if len([]rune(word)) > 3 && !topicStopwords[word] {
				freq[word]++
			}
		}
	}

	return topCounts(freq, 10, func(word string, count int) KeyTopic {
		return KeyTopic{Topic: word, Frequency: count}
	})
}

// Summarize asks the LLM for a conversational analyst summary over the top
// items. On failure a deterministic fallback summary is produced instead.
func (e *SocialAnalysisEngine) Summarize(ctx context.Context, items []models.SocialItem, query string) string {
	limit := len(items)
	if limit > 15 {
		limit = 15
	}

	var sb strings.Builder
	for i, item := range items[:limit] {
		fmt.Fprintf(&sb, "%d. %s: %s (%d likes, %d RTs)\n",
			i+1, item.Timestamp.Format(time.RFC3339), item.Text, item.Likes, item.Reposts)
	}

	prompt := fmt.Sprintf(`Analiza %d publicaciones encontradas sobre "%s":

PUBLICACIONES:
%s
Genera una respuesta conversacional como analista experto. Comienza con "Lo encontrado sobre..." y destaca los temas recurrentes, actores y patrones. Responde en español, NO en JSON.`,
		len(items), query, sb.String())

	summary, err := e.llm.Complete(ctx, []clients.ChatMessage{
		{Role: "user", Content: prompt},
	}, clients.CompleteOptions{Temperature: 0.3, MaxTokens: 1000})
	if err != nil {
		e.log.WithError(err).Warn("llm summary failed, using deterministic fallback")
		return e.fallbackSummary(items, query)
	}
	return summary
}

// fallbackSummary builds a plain summary from the deterministic extractions
func (e *SocialAnalysisEngine) fallbackSummary(items []models.SocialItem, query string) string {
	topics := e.ExtractKeyTopics(items)
	var names []string
	for i, t := range topics {
		if i == 3 {
			break
		}
		names = append(names, t.Topic)
	}
	if len(names) == 0 {
		return fmt.Sprintf("Se encontraron %d publicaciones sobre \"%s\".", len(items), query)
	}
	return fmt.Sprintf("Se encontraron %d publicaciones sobre \"%s\". Los temas más mencionados son: %s.",
		len(items), query, strings.Join(names, ", "))
}

// topCounts sorts a frequency map descending and maps the top n entries
func topCounts[T any](counts map[string]int, n int, build func(string, int) T) []T {
	type entry struct {
		key   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for k, c := range counts {
		entries = append(entries, entry{k, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].key < entries[j].key
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = build(e.key, e.count)
	}
	return out
}
