package jobs

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"

	"pulsewatch/internal/agents"
	"pulsewatch/internal/bus"
	"pulsewatch/internal/metrics"
	"pulsewatch/internal/services"
	"pulsewatch/internal/store"
)

// MaintenanceScheduler owns the background housekeeping: idle conversation
// eviction with archive write-back, and stale task pruning. Archiving is
// best effort; an unreachable archive never blocks eviction.
type MaintenanceScheduler struct {
	scheduler     gocron.Scheduler
	bus           *bus.Bus
	conversations *services.ConversationManager
	social        *agents.SocialAgent
	archive       *store.ConversationArchive
	metrics       *metrics.Metrics

	maxAge time.Duration
	log    *logrus.Entry
}

// NewMaintenanceScheduler creates the housekeeping scheduler. archive and m
// may be nil.
func NewMaintenanceScheduler(
	b *bus.Bus,
	conversations *services.ConversationManager,
	social *agents.SocialAgent,
	archive *store.ConversationArchive,
	m *metrics.Metrics,
	maxAge time.Duration,
) (*MaintenanceScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}
	return &MaintenanceScheduler{
		scheduler:     scheduler,
		bus:           b,
		conversations: conversations,
		social:        social,
		archive:       archive,
		metrics:       m,
		maxAge:        maxAge,
		log:           logrus.WithField("component", "maintenance"),
	}, nil
}

// Start registers the cleanup job and begins the scheduler
func (s *MaintenanceScheduler) Start(interval time.Duration) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.RunCleanup),
		gocron.WithName("conversation_cleanup"),
	)
	if err != nil {
		return err
	}
	s.scheduler.Start()
	s.log.WithField("interval", interval).Info("maintenance scheduler started")
	return nil
}

// RunCleanup performs one housekeeping pass
func (s *MaintenanceScheduler) RunCleanup() {
	records := s.bus.EvictIdle(s.maxAge)
	for i := range records {
		records[i].Messages = s.conversations.History(records[i].ConversationID, 0)
		records[i].MessageCount = len(records[i].Messages)
		s.conversations.Drop(records[i].ConversationID)
	}
	// Conversational-only sessions have no bus state and are swept directly
	records = append(records, s.conversations.EvictIdle(s.maxAge)...)
	if len(records) > 0 {
		if s.metrics != nil {
			s.metrics.Evictions.Add(float64(len(records)))
		}
		s.log.WithField("evicted", len(records)).Info("idle conversations evicted")

		if s.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.archive.SaveAll(ctx, records); err != nil {
				s.log.WithError(err).Warn("conversation archive write failed")
			}
			cancel()
		}
	}

	if s.social != nil {
		if removed := s.social.PruneTasks(); removed > 0 {
			s.log.WithField("pruned", removed).Debug("stale tasks pruned")
		}
	}
}

// Shutdown stops the scheduler and waits for running jobs
func (s *MaintenanceScheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
