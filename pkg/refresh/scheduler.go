package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-newscache/pkg/entrystore"
)

// EntryArchiver receives successfully refreshed entries for archival. An
// archiver failure never affects the refresh outcome.
type EntryArchiver interface {
	ArchiveEntry(ctx context.Context, entry entrystore.CacheEntry) error
}

// SchedulerConfig holds configuration for the refresh scheduler.
type SchedulerConfig struct {
	// Interval between scheduled refreshes of every topic. Defaults to one
	// hour, matching the entry TTL.
	Interval time.Duration
}

// Scheduler refreshes every configured topic on a fixed interval. It is an
// owned object with an explicit Start/Stop lifecycle, not ambient state.
//
// Ticks for different topics run concurrently; ticks for the same topic
// never overlap. If a prior refresh of a topic is still running when the
// next tick fires, that topic's tick is skipped, never queued.
type Scheduler struct {
	cfg       SchedulerConfig
	topics    []Topic
	refresher Refresher
	archiver  EntryArchiver
	logger    zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]bool

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewScheduler creates a Scheduler for the given topics. The archiver is
// optional and may be nil.
func NewScheduler(
	cfg SchedulerConfig,
	topics []Topic,
	refresher Refresher,
	archiver EntryArchiver,
	logger zerolog.Logger,
) (*Scheduler, error) {
	if len(topics) == 0 {
		return nil, errors.New("at least one topic is required")
	}
	if refresher == nil {
		return nil, errors.New("refresher cannot be nil")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Scheduler{
		cfg:       cfg,
		topics:    topics,
		refresher: refresher,
		archiver:  archiver,
		logger:    logger.With().Str("component", "Scheduler").Logger(),
		inFlight:  make(map[string]bool),
	}, nil
}

// Start begins the scheduling loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.logger.Info().Dur("interval", s.cfg.Interval).Int("topics", len(s.topics)).Msg("Scheduler started.")
		for {
			select {
			case <-runCtx.Done():
				s.logger.Info().Msg("Scheduler loop stopping.")
				return
			case <-ticker.C:
				s.TriggerAll(runCtx)
			}
		}
	}()
	return nil
}

// TriggerAll starts a refresh for every configured topic, skipping topics
// whose previous scheduled refresh is still running. It returns without
// waiting for the refreshes to complete.
func (s *Scheduler) TriggerAll(ctx context.Context) {
	for _, topic := range s.topics {
		s.triggerLocked(ctx, topic)
	}
}

// TriggerTopic starts a refresh for a single topic by ID, subject to the
// same overlap guard as scheduled ticks. Unknown IDs are logged and ignored.
func (s *Scheduler) TriggerTopic(ctx context.Context, topicID string) {
	for _, topic := range s.topics {
		if topic.ID == topicID {
			s.triggerLocked(ctx, topic)
			return
		}
	}
	s.logger.Warn().Str("topic", topicID).Msg("Trigger for unconfigured topic ignored.")
}

// triggerLocked launches one guarded refresh goroutine for a topic.
func (s *Scheduler) triggerLocked(ctx context.Context, topic Topic) {
	s.mu.Lock()
	if s.inFlight[topic.ID] {
		s.mu.Unlock()
		s.logger.Warn().Str("topic", topic.ID).Msg("Previous refresh still running, skipping tick.")
		return
	}
	s.inFlight[topic.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, topic.ID)
			s.mu.Unlock()
		}()

		entry, err := s.refresher.Refresh(ctx, topic)
		if err != nil {
			// Scheduled refresh failures are logged, never propagated; the
			// cached entry, if any, remains untouched.
			s.logger.Error().Err(err).Str("topic", topic.ID).Msg("Scheduled refresh failed.")
			return
		}
		s.logger.Info().Str("topic", topic.ID).Int("articles", len(entry.Articles)).Msg("Scheduled refresh succeeded.")

		if s.archiver != nil {
			if err := s.archiver.ArchiveEntry(ctx, entry); err != nil {
				s.logger.Error().Err(err).Str("topic", topic.ID).Msg("Failed to archive refreshed entry.")
			}
		}
	}()
}

// Stop halts the scheduling loop and waits for in-flight refreshes to
// finish, bounded by the provided context's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Info().Msg("Stopping scheduler...")
		if s.cancel != nil {
			s.cancel()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info().Msg("Scheduler stopped.")
		case <-ctx.Done():
			s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for in-flight refreshes to finish.")
			err = ctx.Err()
		}
	})
	return err
}
