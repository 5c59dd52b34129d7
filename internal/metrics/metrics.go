package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the orchestration core
type Metrics struct {
	// Turn metrics
	Turns       prometheus.Counter
	TurnLatency prometheus.Histogram
	TurnErrors  *prometheus.CounterVec

	// Classification and routing
	Intents        *prometheus.CounterVec
	ClassifierPath *prometheus.CounterVec

	// Task execution
	Tasks        *prometheus.CounterVec
	TaskLatency  prometheus.Histogram
	Handoffs     *prometheus.CounterVec
	Evictions    prometheus.Counter
}

// New initializes the Prometheus metrics
func New() *Metrics {
	return &Metrics{
		Turns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulsewatch_turns_total",
			Help: "Total number of orchestrated conversation turns",
		}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsewatch_turn_duration_seconds",
			Help:    "Turn latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		TurnErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_turn_errors_total",
			Help: "Total number of turn-level errors by type",
		}, []string{"error_type"}),

		Intents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_intents_total",
			Help: "Total classified intents by label",
		}, []string{"intent"}),
		ClassifierPath: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_classifier_path_total",
			Help: "Classification outcomes by method (llm or regex_fallback)",
		}, []string{"method"}),

		Tasks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_agent_tasks_total",
			Help: "Total agent tasks by agent and outcome",
		}, []string{"agent", "outcome"}),
		TaskLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulsewatch_agent_task_duration_seconds",
			Help:    "Agent task latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		Handoffs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulsewatch_handoffs_total",
			Help: "Total agent handoffs by outcome",
		}, []string{"outcome"}),
		Evictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulsewatch_conversation_evictions_total",
			Help: "Total idle conversations evicted",
		}),
	}
}
