package models

import "time"

// RelevanceTier buckets the 0-10 relevance assessment of a result set
type RelevanceTier string

const (
	RelevanceAlta  RelevanceTier = "alta"
	RelevanceMedia RelevanceTier = "media"
	RelevanceBaja  RelevanceTier = "baja"
)

// SocialItem is one retrieved social post with engagement counts
type SocialItem struct {
	ID        string    `json:"id,omitempty"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Likes     int       `json:"likes"`
	Reposts   int       `json:"reposts"`
	Replies   int       `json:"replies"`
	Relevance float64   `json:"relevance,omitempty"`
	Sentiment float64   `json:"sentiment,omitempty"`
}

// Engagement is the combined engagement count of an item
func (s SocialItem) Engagement() int {
	return s.Likes + s.Reposts + s.Replies
}

// SentimentCategory bins a sentiment score into five levels
type SentimentCategory string

const (
	SentimentVeryPositive SentimentCategory = "muy_positivo"
	SentimentPositive     SentimentCategory = "positivo"
	SentimentNeutral      SentimentCategory = "neutral"
	SentimentNegative     SentimentCategory = "negativo"
	SentimentVeryNegative SentimentCategory = "muy_negativo"
)

// SentimentSummary aggregates per-item sentiment over a collection
type SentimentSummary struct {
	Average      float64                   `json:"average"` // clamped to [-1,1]
	Category     SentimentCategory         `json:"category"`
	Distribution map[SentimentCategory]int `json:"distribution"`
	MostPositive []ScoredText              `json:"most_positive,omitempty"`
	MostNegative []ScoredText              `json:"most_negative,omitempty"`
}

// ScoredText pairs a text excerpt with its sentiment score
type ScoredText struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// TrendReport is the trend monitoring engine output
type TrendReport struct {
	Momentum       float64        `json:"momentum"` // [0,1]
	IsViral        bool           `json:"is_viral"`
	ViralScore     float64        `json:"viral_score"` // [0,1]
	ViralPatterns  []string       `json:"viral_patterns,omitempty"`
	PeakPrediction *PeakForecast  `json:"peak_prediction,omitempty"`
	WindowActivity []float64      `json:"window_activity,omitempty"`
}

// PeakForecast predicts the next high-activity hour from hourly history
type PeakForecast struct {
	NextPeak   time.Time `json:"next_peak"`
	PeakHours  []int     `json:"peak_hours"`
	Confidence float64   `json:"confidence"`
}

// AnalysisResult is the combined engine output attached to task results
type AnalysisResult struct {
	Sentiment      float64           `json:"sentiment"` // [-1,1]
	SentimentLabel SentimentCategory `json:"sentiment_label"`
	Momentum       float64           `json:"momentum"` // [0,1]
	IsViral        bool              `json:"is_viral"`
	ViralScore     float64           `json:"viral_score"`
	Topics         []string          `json:"topics,omitempty"`
	Actors         []string          `json:"actors,omitempty"`
	Relevance      float64           `json:"relevance"` // 0-10
	RelevanceTier  RelevanceTier     `json:"relevance_tier"`
}
