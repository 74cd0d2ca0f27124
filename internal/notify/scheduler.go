package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"epl-engine/internal/config"
	"epl-engine/internal/models"
	"epl-engine/pkg/utils"
)

// delivery is one queued notification with its target channel filter.
type delivery struct {
	notification Notification
	primaryOnly  bool
	passiveOnly  bool
}

// Scheduler routes decision results to channels by priority class.
// Critical decisions go to every channel immediately, high-priority ones
// to primary channels after a short delay, medium-priority ones to
// passive channels after a longer delay, and low-priority ones only into
// the end-of-day digest.
type Scheduler struct {
	cfg      config.NotificationConfig
	logger   zerolog.Logger
	channels []Channel
	queue    chan delivery
	retry    utils.RetryConfig
	cron     *cron.Cron

	mu     sync.Mutex
	digest []*models.EPLDecisionResult

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler builds the scheduler with all channels enabled in the
// configuration.
func NewScheduler(cfg config.NotificationConfig, logger zerolog.Logger) *Scheduler {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	s := &Scheduler{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan delivery, queueSize),
		retry:  utils.DefaultRetryConfig(),
		done:   make(chan struct{}),
	}

	if cfg.Webhook.Enabled {
		s.channels = append(s.channels, NewWebhookNotifier(cfg.Webhook))
	}
	if cfg.Telegram.Enabled {
		s.channels = append(s.channels, NewTelegramNotifier(cfg.Telegram))
	}
	if cfg.Terminal.Enabled {
		s.channels = append(s.channels, NewTerminalNotifier(cfg.Terminal))
	}

	return s
}

// AddChannel registers an extra delivery channel. Must be called before
// Start.
func (s *Scheduler) AddChannel(ch Channel) {
	s.channels = append(s.channels, ch)
}

// Start launches the dispatcher and the digest cron.
func (s *Scheduler) Start() error {
	s.wg.Add(1)
	go s.dispatch()

	if s.cfg.DigestCron != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cfg.DigestCron, s.flushDigest); err != nil {
			return fmt.Errorf("scheduling digest: %w", err)
		}
		s.cron.Start()
	}
	return nil
}

// Stop drains the dispatcher and stops the digest cron. A pending digest
// is flushed on shutdown.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		s.flushDigest()
		close(s.done)
		s.wg.Wait()
	})
}

// Schedule accepts a finalized decision result. It never blocks the
// caller; when the queue is full the notification is dropped with a log.
func (s *Scheduler) Schedule(result *models.EPLDecisionResult) {
	if !s.cfg.Enabled || result == nil {
		return
	}

	switch result.Priority {
	case models.PriorityCritical:
		s.enqueue(delivery{notification: FormatResult(result)})
	case models.PriorityHigh:
		s.enqueueAfter(delivery{notification: FormatResult(result), primaryOnly: true}, s.cfg.HighDelay)
	case models.PriorityMedium:
		s.enqueueAfter(delivery{notification: FormatResult(result), passiveOnly: true}, s.cfg.MediumDelay)
	default:
		s.mu.Lock()
		s.digest = append(s.digest, result)
		s.mu.Unlock()
	}
}

func (s *Scheduler) enqueue(d delivery) {
	select {
	case s.queue <- d:
	default:
		s.logger.Warn().
			Str("title", d.notification.Title).
			Msg("Notification queue full, dropping")
	}
}

// enqueueAfter delays the hand-off without blocking a dispatcher slot.
func (s *Scheduler) enqueueAfter(d delivery, delay time.Duration) {
	if delay <= 0 {
		s.enqueue(d)
		return
	}
	timer := time.AfterFunc(delay, func() {
		select {
		case <-s.done:
		default:
			s.enqueue(d)
		}
	})
	_ = timer
}

func (s *Scheduler) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case d := <-s.queue:
					s.deliver(d)
				default:
					return
				}
			}
		case d := <-s.queue:
			s.deliver(d)
		}
	}
}

// deliver fans one notification out to the matching channels, retrying
// transient failures with backoff.
func (s *Scheduler) deliver(d delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, ch := range s.channels {
		if !ch.IsEnabled() {
			continue
		}
		if d.primaryOnly && !ch.Primary() {
			continue
		}
		if d.passiveOnly && ch.Primary() {
			continue
		}

		ch := ch
		err := utils.Retry(ctx, s.retry, func() error {
			return ch.Send(ctx, d.notification)
		})
		if err != nil {
			s.logger.Error().Err(err).
				Str("channel", ch.Name()).
				Str("title", d.notification.Title).
				Msg("Notification delivery failed")
		}
	}
}

// flushDigest sends the accumulated low-priority decisions as one daily
// summary and resets the buffer.
func (s *Scheduler) flushDigest() {
	s.mu.Lock()
	pending := s.digest
	s.digest = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	s.enqueue(delivery{notification: formatDigest(pending), passiveOnly: true})
}

// formatDigest summarizes a batch of low-priority decisions.
func formatDigest(results []*models.EPLDecisionResult) Notification {
	byDecision := make(map[models.EPLDecision]int)
	var ignored, executed int
	for _, r := range results {
		byDecision[r.Decision]++
		if r.Ignored() {
			ignored++
		} else {
			executed++
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Decisions: %d\n", len(results)))
	sb.WriteString(fmt.Sprintf("Actionable: %d | Ignored: %d\n", executed, ignored))
	for decision, count := range byDecision {
		sb.WriteString(fmt.Sprintf("%s: %d\n", decision, count))
	}

	sb.WriteString("\nRecent:")
	limit := len(results)
	if limit > 10 {
		limit = 10
	}
	for _, r := range results[len(results)-limit:] {
		sb.WriteString(fmt.Sprintf("\n%s %s %s (score %.2f)", r.Decision, r.Direction, r.Symbol, r.Score))
	}

	return Notification{
		Title:     fmt.Sprintf("📊 Daily Digest - %s", time.Now().Format("2006-01-02")),
		Message:   sb.String(),
		Timestamp: time.Now(),
	}
}
