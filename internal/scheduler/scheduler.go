package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/notification"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const schedulerActor = "scheduler"

// Scheduler owns the in-process timers that turn approved templates into
// dispatches. Exactly one timer exists per template; arming always replaces
// any previous registration. Actual send exclusivity comes from the
// conditional claim on the template row, so a timer firing late or twice is
// harmless.
type Scheduler struct {
	templates    repository.TemplateRepository
	orchestrator *notification.Orchestrator
	clock        clock.Clock
	lookback     time.Duration
	logger       zerolog.Logger

	mu     sync.Mutex
	timers map[int64]*clock.Timer
	cron   *cron.Cron
}

func New(templates repository.TemplateRepository, orchestrator *notification.Orchestrator, clk clock.Clock, lookback time.Duration, logger zerolog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if lookback <= 0 {
		lookback = 15 * time.Minute
	}
	return &Scheduler{
		templates:    templates,
		orchestrator: orchestrator,
		clock:        clk,
		lookback:     lookback,
		logger:       logger.With().Str("component", "scheduler").Logger(),
		timers:       make(map[int64]*clock.Timer),
	}
}

// Start re-arms every approved, unsent template and begins the minute sweep
// that catches timers lost to restarts.
func (s *Scheduler) Start(ctx context.Context) error {
	templates, err := s.templates.ListApprovedUnsent(ctx)
	if err != nil {
		return err
	}
	for _, tpl := range templates {
		s.Arm(tpl)
	}
	s.logger.Info().Int("rearmed", len(templates)).Msg("scheduler started")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron = cron.New()
	if _, err := s.cron.AddFunc("* * * * *", func() {
		s.Sweep(s.clock.Now())
	}); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.logger.Info().Msg("scheduler stopped")
}

// Arm registers a timer for an approved template. Any existing timer for
// the same template is cancelled first.
func (s *Scheduler) Arm(tpl models.Template) {
	s.Disarm(tpl.ID)

	switch tpl.SendType {
	case models.SendTypeSchedule:
		if tpl.SendSchedule == nil {
			return
		}
		delay := tpl.SendSchedule.Sub(s.clock.Now())
		if delay < 0 {
			delay = 0
		}
		s.register(tpl.ID, delay, func() { s.fireScheduled(tpl.ID) })
		s.logger.Info().
			Int64("template_id", tpl.ID).
			Time("fire_at", *tpl.SendSchedule).
			Msg("scheduled template armed")

	case models.SendTypeInterval:
		s.armInterval(tpl)
	}
}

// Disarm cancels the template's timer if one is registered.
func (s *Scheduler) Disarm(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) register(id int64, delay time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[id] = s.clock.AfterFunc(delay, fire)
}

// Sweep claims and dispatches scheduled templates whose timer never fired,
// typically after a restart. Templates overdue beyond the lookback window
// are abandoned: claimed so they never send, but not dispatched.
func (s *Scheduler) Sweep(now time.Time) {
	ctx := context.Background()

	due, err := s.templates.ListDueScheduled(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep query failed")
		return
	}

	for _, tpl := range due {
		if tpl.SendSchedule == nil {
			continue
		}
		if now.Sub(*tpl.SendSchedule) > s.lookback {
			s.abandon(ctx, tpl, now)
			continue
		}
		s.fireScheduled(tpl.ID)
	}
}

// abandon claims an overdue template without dispatching it. Sending a
// notification long after its intended time would do more harm than the
// missed send.
func (s *Scheduler) abandon(ctx context.Context, tpl models.Template, now time.Time) {
	claimed, err := s.templates.ClaimForSend(ctx, tpl.ID)
	if err != nil {
		s.logger.Error().Err(err).Int64("template_id", tpl.ID).Msg("failed to claim overdue template")
		return
	}
	if !claimed {
		return
	}
	s.Disarm(tpl.ID)
	s.logger.Warn().
		Int64("template_id", tpl.ID).
		Time("send_schedule", *tpl.SendSchedule).
		Dur("overdue", now.Sub(*tpl.SendSchedule)).
		Msg("overdue scheduled template abandoned without dispatch")
}

// fireScheduled performs the claimed, exactly-once dispatch of a scheduled
// template.
func (s *Scheduler) fireScheduled(id int64) {
	ctx := context.Background()
	s.Disarm(id)

	claimed, err := s.templates.ClaimForSend(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("template_id", id).Msg("failed to claim template for sending")
		return
	}
	if !claimed {
		// Another path already sent it.
		return
	}

	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("template_id", id).Msg("failed to load claimed template")
		if relErr := s.templates.ReleaseClaim(ctx, id); relErr != nil {
			s.logger.Error().Err(relErr).Int64("template_id", id).Msg("failed to release send claim")
		}
		return
	}

	if tpl.ApprovalStatus != models.ApprovalApproved {
		if err := s.templates.ReleaseClaim(ctx, id); err != nil {
			s.logger.Error().Err(err).Int64("template_id", id).Msg("failed to release send claim")
		}
		s.logger.Error().
			Int64("template_id", id).
			Str("approval_status", string(tpl.ApprovalStatus)).
			Msg("CRITICAL: unapproved template reached the dispatch path, claim reverted")
		return
	}

	result, err := s.orchestrator.DispatchNow(ctx, tpl, notification.TriggerSchedule, schedulerActor)
	if err != nil {
		// The claim stands: a scheduled template that reached nobody is
		// still spent for its scheduled time.
		s.logger.Warn().Err(err).Int64("template_id", id).Msg("scheduled dispatch reached nobody")
		return
	}
	s.logger.Info().
		Int64("template_id", id).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Msg("scheduled template dispatched")
}

// armInterval registers the next firing of a recurring template. The timer
// re-arms itself after every firing until the window closes, then the
// template is deactivated.
func (s *Scheduler) armInterval(tpl models.Template) {
	if tpl.SendInterval == nil {
		return
	}
	schedule, err := cron.ParseStandard(tpl.SendInterval.Cron)
	if err != nil {
		s.logger.Error().Err(err).Int64("template_id", tpl.ID).Msg("invalid interval cron expression")
		return
	}
	if _, err := tpl.SendInterval.StepMinutes(); err != nil {
		s.logger.Error().Err(err).Int64("template_id", tpl.ID).Msg("unsupported interval cron expression")
		return
	}

	now := s.clock.Now()
	from := now
	if tpl.SendInterval.StartAt.After(from) {
		from = tpl.SendInterval.StartAt
	}
	next := schedule.Next(from)
	if next.After(tpl.SendInterval.EndAt) {
		s.deactivateInterval(tpl)
		return
	}

	s.register(tpl.ID, next.Sub(now), func() { s.fireInterval(tpl.ID) })
	s.logger.Info().
		Int64("template_id", tpl.ID).
		Time("fire_at", next).
		Msg("interval template armed")
}

func (s *Scheduler) fireInterval(id int64) {
	ctx := context.Background()
	s.Disarm(id)

	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Int64("template_id", id).Msg("failed to load interval template")
		return
	}
	if tpl.ApprovalStatus != models.ApprovalApproved || tpl.IsSent || tpl.SendInterval == nil {
		return
	}

	now := s.clock.Now()
	if now.After(tpl.SendInterval.EndAt) {
		s.deactivateInterval(tpl)
		return
	}
	if !now.Before(tpl.SendInterval.StartAt) {
		if _, err := s.orchestrator.DispatchNow(ctx, tpl, notification.TriggerInterval, schedulerActor); err != nil {
			s.logger.Warn().Err(err).Int64("template_id", id).Msg("interval dispatch reached nobody")
		}
	}

	s.armInterval(tpl)
}

// deactivateInterval retires a recurring template whose window has closed.
func (s *Scheduler) deactivateInterval(tpl models.Template) {
	ctx := context.Background()
	s.Disarm(tpl.ID)
	claimed, err := s.templates.ClaimForSend(ctx, tpl.ID)
	if err != nil {
		s.logger.Error().Err(err).Int64("template_id", tpl.ID).Msg("failed to deactivate interval template")
		return
	}
	if claimed {
		s.logger.Info().Int64("template_id", tpl.ID).Msg("interval template window closed, deactivated")
	}
}
