package engines

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pulsewatch/internal/clients"
	"pulsewatch/internal/models"
)

// fakeLLM returns scripted responses in order, or an error
type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) Complete(_ context.Context, _ []clients.ChatMessage, _ clients.CompleteOptions) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func TestOptimizeQuery_ShortQueryGetsScope(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})

	got := e.OptimizeQuery("marchas hoy")
	if !strings.Contains(got, "Guatemala") {
		t.Errorf("expected geographic scope appended, got %q", got)
	}
}

func TestOptimizeQuery_LongQueryShortened(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})

	long := "quisiera saber que se comenta en redes sociales sobre la nueva iniciativa del congreso respecto al transporte urbano capitalino"
	got := e.OptimizeQuery(long)
	if len(strings.Fields(got)) > 9 { // 8 kept terms + scope
		t.Errorf("long query not shortened: %q", got)
	}
}

func TestOptimizeQuery_ContextualFilter(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})

	got := e.OptimizeQuery("sismo en la capital")
	if !strings.Contains(got, "terremoto") {
		t.Errorf("expected seismic include terms, got %q", got)
	}
}

func TestItemRelevance_Scoring(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})
	query := "transporte urbano"

	matched := models.SocialItem{Text: "el transporte urbano colapsó otra vez #trafico", Likes: 60, Reposts: 30}
	unrelated := models.SocialItem{Text: "receta de tamales para el fin de semana"}
	spam := models.SocialItem{Text: "http://bit.ly/xyz mira esto"}

	if e.ItemRelevance(matched, query) <= e.ItemRelevance(unrelated, query) {
		t.Error("matching item should outscore unrelated item")
	}
	if e.ItemRelevance(spam, query) != 0 {
		t.Errorf("spam-like item should floor at 0, got %f", e.ItemRelevance(spam, query))
	}
}

func TestFilterAndRank_OrdersByRelevance(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})

	items := []models.SocialItem{
		{Text: "nada que ver aqui", Timestamp: time.Now()},
		{Text: "el transporte urbano y sus problemas @muni #transporte", Likes: 80, Reposts: 40, Timestamp: time.Now()},
	}
	ranked := e.FilterAndRank(items, "transporte urbano")
	if !strings.Contains(ranked[0].Text, "transporte") {
		t.Errorf("most relevant item should rank first, got %q", ranked[0].Text)
	}
	if ranked[0].Relevance <= 0 {
		t.Error("ranked items should carry their relevance score")
	}
}

func TestAssessRelevance_BoundsAndBonuses(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})

	if got := e.AssessRelevance(nil, "algo"); got != 0 {
		t.Errorf("empty set should assess 0, got %f", got)
	}

	// 20 matching items across 5 days: volume and diversity bonuses apply
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	var items []models.SocialItem
	for i := 0; i < 20; i++ {
		items = append(items, models.SocialItem{
			Text:      "debate sobre transporte urbano #transporte",
			Likes:     20,
			Timestamp: base.AddDate(0, 0, i%5),
		})
	}
	score := e.AssessRelevance(items, "transporte urbano")
	if score < 0 || score > 10 {
		t.Fatalf("assessment %f out of [0,10]", score)
	}
	if RelevanceTier(score) == models.RelevanceBaja {
		t.Errorf("rich matching set should not be baja (score %f)", score)
	}
}

func TestExtractKeyActors(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})

	items := []models.SocialItem{
		{Text: "@congreso debe responder #transparencia"},
		{Text: "lo dijo @congreso y @prensa #transparencia #ya"},
		{Text: "apoyo total a @prensa"},
	}
	actors := e.ExtractKeyActors(items)

	var topUser, topTag string
	for _, a := range actors {
		if a.Type == "user" && topUser == "" {
			topUser = a.Name
		}
		if a.Type == "hashtag" && topTag == "" {
			topTag = a.Name
		}
	}
	if topUser != "@congreso" {
		t.Errorf("top mention = %q, want @congreso", topUser)
	}
	if topTag != "#transparencia" {
		t.Errorf("top hashtag = %q, want #transparencia", topTag)
	}
}

func TestExtractKeyTopics_FiltersStopwords(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{})

	items := []models.SocialItem{
		{Text: "la corrupcion institucional preocupa a todos"},
		{Text: "corrupcion institucional otra vez en agenda"},
	}
	topics := e.ExtractKeyTopics(items)
	if len(topics) == 0 {
		t.Fatal("expected topics extracted")
	}
	if topics[0].Topic != "corrupcion" && topics[0].Topic != "institucional" {
		t.Errorf("unexpected top topic %q", topics[0].Topic)
	}
	for _, topic := range topics {
		if topicStopwords[topic.Topic] {
			t.Errorf("stopword %q leaked into topics", topic.Topic)
		}
	}
}

func TestSummarize_FallsBackWhenLLMFails(t *testing.T) {
	e := NewSocialAnalysisEngine(&fakeLLM{err: errors.New("provider down")})

	items := []models.SocialItem{{Text: "transporte urbano en crisis permanente"}}
	summary := e.Summarize(context.Background(), items, "transporte")
	if summary == "" {
		t.Fatal("fallback summary must not be empty")
	}
	if !strings.Contains(summary, "transporte") {
		t.Errorf("fallback should reference the query, got %q", summary)
	}
}
