package engines

import (
	"fmt"
	"testing"
	"time"

	"pulsewatch/internal/models"
)

func newTrendEngine() *TrendEngine {
	return NewTrendEngine(0.5, 0.7)
}

// itemsAt builds count items inside the window starting at base
func itemsAt(base time.Time, count int, likes, reposts int) []models.SocialItem {
	items := make([]models.SocialItem, count)
	for i := range items {
		items[i] = models.SocialItem{
			Author:    fmt.Sprintf("user%d", i),
			Text:      "contenido de prueba",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Likes:     likes,
			Reposts:   reposts,
		}
	}
	return items
}

func TestMomentum_Bounds(t *testing.T) {
	e := newTrendEngine()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	var items []models.SocialItem
	// Sharply accelerating series
	for w := 0; w < 5; w++ {
		items = append(items, itemsAt(base.Add(time.Duration(w)*DefaultWindowSize), (w+1)*(w+1)*10, 50, 20)...)
	}

	m := e.Momentum(items)
	if m < 0 || m > 1 {
		t.Errorf("momentum %f out of [0,1]", m)
	}
}

func TestMomentum_IncreasingSeriesIsPositive(t *testing.T) {
	e := newTrendEngine()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	var items []models.SocialItem
	// Monotonically increasing activity over 4 windows
	for w := 0; w < 4; w++ {
		items = append(items, itemsAt(base.Add(time.Duration(w)*DefaultWindowSize), (w+1)*5, 10, 2)...)
	}

	if m := e.Momentum(items); m <= 0 {
		t.Errorf("increasing series should have momentum > 0, got %f", m)
	}
}

func TestMomentum_TooFewWindows(t *testing.T) {
	e := newTrendEngine()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	items := itemsAt(base, 10, 5, 1)
	if m := e.Momentum(items); m != 0 {
		t.Errorf("single window should yield momentum 0, got %f", m)
	}
	if m := e.Momentum(nil); m != 0 {
		t.Errorf("empty input should yield momentum 0, got %f", m)
	}
}

func TestDetectViral_QuietDatasetNotViral(t *testing.T) {
	e := newTrendEngine()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	// Few items, low engagement, irregular spacing, single author, no hashtags
	items := []models.SocialItem{
		{Author: "solo", Text: "sin novedades", Timestamp: base, Likes: 1},
		{Author: "solo", Text: "otro dia normal", Timestamp: base.Add(7 * time.Hour), Likes: 2},
		{Author: "solo", Text: "nada que ver", Timestamp: base.Add(8 * time.Hour), Likes: 0},
	}

	v := e.DetectViral(items)
	if v.IsViral {
		t.Errorf("quiet dataset flagged viral: %+v", v)
	}
	if v.ViralScore >= 0.5 {
		t.Errorf("quiet dataset score %f should be < 0.5", v.ViralScore)
	}
}

func TestDetectViral_ThresholdBoundary(t *testing.T) {
	e := newTrendEngine()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	// High engagement + retweet dominance + tight timing + diverse authors
	// + hashtags: all five heuristics fire.
	var items []models.SocialItem
	for i := 0; i < 20; i++ {
		items = append(items, models.SocialItem{
			Author:    fmt.Sprintf("cuenta%d", i),
			Text:      "#urgente se viraliza el tema",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Likes:     80,
			Reposts:   120,
		})
	}

	v := e.DetectViral(items)
	if !v.IsViral {
		t.Fatalf("expected viral dataset, got %+v", v)
	}
	if v.ViralScore <= 0.5 {
		t.Errorf("viral dataset score %f should exceed 0.5", v.ViralScore)
	}
	// isViral must hold exactly when the score exceeds the threshold
	if v.IsViral != (v.ViralScore > 0.5) {
		t.Errorf("isViral inconsistent with score: %+v", v)
	}
}

func TestDetectViral_EmptyInput(t *testing.T) {
	e := newTrendEngine()
	v := e.DetectViral(nil)
	if v.IsViral || v.ViralScore != 0 {
		t.Errorf("empty input should yield zero analysis, got %+v", v)
	}
}

func TestPredictPeak_InsufficientData(t *testing.T) {
	e := newTrendEngine()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	if p := e.PredictPeak(itemsAt(base, 5, 10, 2), base); p != nil {
		t.Errorf("fewer than 10 items should not predict, got %+v", p)
	}
}

func TestPredictPeak_DetectsRecurringHour(t *testing.T) {
	e := newTrendEngine()
	loc := time.UTC

	// Heavy activity at 18h across three days, sparse elsewhere
	var items []models.SocialItem
	for day := 10; day <= 12; day++ {
		burst := time.Date(2026, 3, day, 18, 0, 0, 0, loc)
		items = append(items, itemsAt(burst, 8, 30, 5)...)
		quiet := time.Date(2026, 3, day, 9, 0, 0, 0, loc)
		items = append(items, itemsAt(quiet, 1, 1, 0)...)
	}

	now := time.Date(2026, 3, 13, 10, 0, 0, 0, loc)
	p := e.PredictPeak(items, now)
	if p == nil {
		t.Fatal("expected a peak prediction")
	}

	found := false
	for _, h := range p.PeakHours {
		if h == 18 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 18h among peak hours, got %v", p.PeakHours)
	}
	if p.NextPeak.Hour() != 18 || !p.NextPeak.After(now) {
		t.Errorf("next peak should be the upcoming 18h, got %v", p.NextPeak)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		t.Errorf("confidence %f out of [0,1]", p.Confidence)
	}
}

func TestReport_Composes(t *testing.T) {
	e := newTrendEngine()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	var items []models.SocialItem
	for w := 0; w < 4; w++ {
		items = append(items, itemsAt(base.Add(time.Duration(w)*DefaultWindowSize), (w+1)*4, 10, 3)...)
	}

	r := e.Report(items, base.Add(24*time.Hour))
	if r.Momentum <= 0 {
		t.Errorf("expected positive momentum, got %f", r.Momentum)
	}
	if len(r.WindowActivity) != 4 {
		t.Errorf("expected 4 activity windows, got %d", len(r.WindowActivity))
	}
	if r.IsViral != (r.ViralScore > 0.5) {
		t.Errorf("report viral flag inconsistent with score")
	}
}
