package engines

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"pulsewatch/internal/models"
)

// Viral heuristic weights. Each heuristic contributes its weight when its
// threshold is met; the sum decides virality. Calibration is empirical.
const (
	weightHighEngagement    = 0.3
	weightRetweetDominant   = 0.25
	weightTimeConcentration = 0.2
	weightUserDiversity     = 0.15
	weightHashtagDensity    = 0.1

	highEngagementFloor  = 100
	retweetDominantFloor = 10
)

// DefaultWindowSize is the time-window width used for momentum grouping
const DefaultWindowSize = 2 * time.Hour

var hashtagRe = regexp.MustCompile(`#\w+`)

// TrendEngine computes momentum, viral patterns and peak predictions over
// timestamped social items.
type TrendEngine struct {
	ViralThreshold float64 // viral when the weighted sum exceeds this
	PeakHourRatio  float64 // hours at this share of peak average count as peaks
	WindowSize     time.Duration
}

// NewTrendEngine creates a trend engine with the given tunables
func NewTrendEngine(viralThreshold, peakHourRatio float64) *TrendEngine {
	return &TrendEngine{
		ViralThreshold: viralThreshold,
		PeakHourRatio:  peakHourRatio,
		WindowSize:     DefaultWindowSize,
	}
}

type timeWindow struct {
	start      time.Time
	count      int
	engagement int
}

// activity is the per-window activity metric: item count plus a tenth of
// the accumulated engagement.
func (w timeWindow) activity() float64 {
	return float64(w.count) + float64(w.engagement)/10
}

// groupByWindows buckets items into fixed-size windows sorted by time
func (e *TrendEngine) groupByWindows(items []models.SocialItem, size time.Duration) []timeWindow {
	buckets := make(map[int64]*timeWindow)
	for _, item := range items {
		if item.Timestamp.IsZero() {
			continue
		}
		key := item.Timestamp.UnixMilli() / size.Milliseconds()
		w, ok := buckets[key]
		if !ok {
			w = &timeWindow{start: time.UnixMilli(key * size.Milliseconds())}
			buckets[key] = w
		}
		w.count++
		w.engagement += item.Likes + item.Reposts
	}

	windows := make([]timeWindow, 0, len(buckets))
	for _, w := range buckets {
		windows = append(windows, *w)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].start.Before(windows[j].start) })
	return windows
}

// Momentum returns the normalized acceleration of activity across time
// windows, clamped to [0,1]. At least 3 windows are required; fewer yields 0.
func (e *TrendEngine) Momentum(items []models.SocialItem) float64 {
	if len(items) == 0 {
		return 0
	}
	windows := e.groupByWindows(items, e.WindowSize)
	if len(windows) < 3 {
		return 0
	}

	var total float64
	comparisons := 0
	for i := 2; i < len(windows); i++ {
		cur := windows[i].activity()
		prev := windows[i-1].activity()
		before := windows[i-2].activity()

		total += ((cur - prev) + (prev - before)) / 2
		comparisons++
	}
	if comparisons == 0 {
		return 0
	}

	normalized := total / float64(comparisons) / 10
	return clamp(normalized, 0, 1)
}

// ViralAnalysis is the output of viral pattern detection
type ViralAnalysis struct {
	IsViral    bool     `json:"is_viral"`
	ViralScore float64  `json:"viral_score"`
	Patterns   []string `json:"patterns"`

	HighEngagementCount  int     `json:"high_engagement_count"`
	RetweetDominantCount int     `json:"retweet_dominant_count"`
	TimeConcentration    float64 `json:"time_concentration"`
	UserDiversityRatio   float64 `json:"user_diversity_ratio"`
	HashtagDensity       float64 `json:"hashtag_density"`
}

// DetectViral runs the five independent viral heuristics and combines their
// weights. IsViral holds exactly when the weighted sum exceeds the threshold.
func (e *TrendEngine) DetectViral(items []models.SocialItem) ViralAnalysis {
	if len(items) == 0 {
		return ViralAnalysis{}
	}

	var analysis ViralAnalysis
	var score float64
	n := float64(len(items))

	for _, item := range items {
		if item.Likes+item.Reposts > highEngagementFloor {
			analysis.HighEngagementCount++
		}
		if item.Reposts > item.Likes && item.Reposts > retweetDominantFloor {
			analysis.RetweetDominantCount++
		}
	}
	if float64(analysis.HighEngagementCount) > n*0.1 {
		analysis.Patterns = append(analysis.Patterns, "high_engagement_ratio")
		score += weightHighEngagement
	}
	if float64(analysis.RetweetDominantCount) > n*0.05 {
		analysis.Patterns = append(analysis.Patterns, "retweet_dominant")
		score += weightRetweetDominant
	}

	analysis.TimeConcentration = timeConcentration(items)
	if analysis.TimeConcentration > 0.7 {
		analysis.Patterns = append(analysis.Patterns, "time_concentration")
		score += weightTimeConcentration
	}

	analysis.UserDiversityRatio = float64(uniqueAuthors(items)) / n
	if analysis.UserDiversityRatio > 0.8 && len(items) > 10 {
		analysis.Patterns = append(analysis.Patterns, "user_diversity")
		score += weightUserDiversity
	}

	analysis.HashtagDensity = hashtagDensity(items)
	if analysis.HashtagDensity > 0.3 {
		analysis.Patterns = append(analysis.Patterns, "hashtag_trending")
		score += weightHashtagDensity
	}

	analysis.ViralScore = math.Min(1, score)
	analysis.IsViral = score > e.ViralThreshold
	return analysis
}

// timeConcentration measures how tightly items cluster in time: 1 minus
// half the coefficient of variation of inter-item intervals, clamped [0,1].
func timeConcentration(items []models.SocialItem) float64 {
	stamps := make([]int64, 0, len(items))
	for _, item := range items {
		if !item.Timestamp.IsZero() {
			stamps = append(stamps, item.Timestamp.UnixMilli())
		}
	}
	if len(stamps) < 2 {
		return 0
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	intervals := make([]float64, 0, len(stamps)-1)
	for i := 1; i < len(stamps); i++ {
		intervals = append(intervals, float64(stamps[i]-stamps[i-1]))
	}

	var sum float64
	for _, iv := range intervals {
		sum += iv
	}
	mean := sum / float64(len(intervals))
	if mean == 0 {
		return 1
	}

	var variance float64
	for _, iv := range intervals {
		variance += (iv - mean) * (iv - mean)
	}
	variance /= float64(len(intervals))
	cv := math.Sqrt(variance) / mean

	return clamp(1-cv/2, 0, 1)
}

func uniqueAuthors(items []models.SocialItem) int {
	authors := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Author != "" {
			authors[strings.ToLower(item.Author)] = true
		}
	}
	return len(authors)
}

// hashtagDensity is the average number of hashtags per item with text
func hashtagDensity(items []models.SocialItem) float64 {
	total, counted := 0, 0
	for _, item := range items {
		if item.Text == "" {
			continue
		}
		total += len(hashtagRe.FindAllString(item.Text, -1))
		counted++
	}
	if counted == 0 {
		return 0
	}
	return float64(total) / float64(counted)
}

type hourlyStat struct {
	hour        int
	total       float64
	occurrences int
	average     float64
}

// PredictPeak buckets historical activity by hour of day and predicts the
// next occurrence of a peak hour. Requires at least 10 items spanning at
// least 5 one-hour windows; otherwise returns nil.
func (e *TrendEngine) PredictPeak(items []models.SocialItem, now time.Time) *models.PeakForecast {
	if len(items) < 10 {
		return nil
	}
	windows := e.groupByWindows(items, time.Hour)
	if len(windows) < 5 {
		return nil
	}

	stats := make([]hourlyStat, 24)
	for i := range stats {
		stats[i].hour = i
	}
	for _, w := range windows {
		h := w.start.Hour()
		stats[h].total += w.activity()
		stats[h].occurrences++
	}
	for i := range stats {
		if stats[i].occurrences > 0 {
			stats[i].average = stats[i].total / float64(stats[i].occurrences)
		}
	}

	var maxAvg float64
	for _, s := range stats {
		if s.average > maxAvg {
			maxAvg = s.average
		}
	}
	threshold := maxAvg * e.PeakHourRatio

	var peakHours []int
	for _, s := range stats {
		if s.average >= threshold && s.occurrences >= 2 {
			peakHours = append(peakHours, s.hour)
		}
	}
	if len(peakHours) == 0 {
		return nil
	}
	sort.Ints(peakHours)

	currentHour := now.Hour()
	nextHour := -1
	for _, h := range peakHours {
		if h > currentHour {
			nextHour = h
			break
		}
	}
	nextDay := false
	if nextHour < 0 {
		nextHour = peakHours[0]
		nextDay = true
	}

	predicted := time.Date(now.Year(), now.Month(), now.Day(), nextHour, 0, 0, 0, now.Location())
	if nextDay {
		predicted = predicted.AddDate(0, 0, 1)
	}

	return &models.PeakForecast{
		NextPeak:   predicted,
		PeakHours:  peakHours,
		Confidence: patternConfidence(stats),
	}
}

// patternConfidence combines pattern-variation strength with data
// sufficiency: strong hourly contrast and broad hour coverage both raise it.
func patternConfidence(stats []hourlyStat) float64 {
	var valid []hourlyStat
	for _, s := range stats {
		if s.occurrences >= 2 {
			valid = append(valid, s)
		}
	}
	if len(valid) < 5 {
		return 0.1
	}

	var sum float64
	for _, s := range valid {
		sum += s.average
	}
	mean := sum / float64(len(valid))

	var variance float64
	for _, s := range valid {
		variance += (s.average - mean) * (s.average - mean)
	}
	variance /= float64(len(valid))

	variationConfidence := 0.0
	if mean > 0 {
		variationConfidence = math.Min(1, math.Sqrt(variance)/mean)
	}
	dataConfidence := math.Min(1, float64(len(valid))/24)

	return (variationConfidence + dataConfidence) / 2
}

// Report runs all trend analyses over one collection
func (e *TrendEngine) Report(items []models.SocialItem, now time.Time) models.TrendReport {
	viral := e.DetectViral(items)

	windows := e.groupByWindows(items, e.WindowSize)
	activity := make([]float64, len(windows))
	for i, w := range windows {
		activity[i] = w.activity()
	}

	return models.TrendReport{
		Momentum:       e.Momentum(items),
		IsViral:        viral.IsViral,
		ViralScore:     viral.ViralScore,
		ViralPatterns:  viral.Patterns,
		PeakPrediction: e.PredictPeak(items, now),
		WindowActivity: activity,
	}
}
