package template

import (
	"context"
	"errors"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/notification"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/rs/zerolog"
)

// Scheduler is the slice of the dispatch scheduler the approval flow needs:
// arming approved templates and disarming deleted ones.
type Scheduler interface {
	Arm(tpl models.Template)
	Disarm(id int64)
}

// Input carries the editable fields of a template.
type Input struct {
	Name          string
	Platforms     []models.Platform
	AppVariant    *models.AppVariant
	Category      *string
	SendType      models.SendType
	SendSchedule  *time.Time
	SendInterval  *models.SendInterval
	ShowPerDay    int
	MaxDayShowing int
	IsFlash       bool
	Translations  []models.Translation
}

type Service interface {
	Create(ctx context.Context, input Input, actor string) (models.Template, error)
	Update(ctx context.Context, id int64, input Input, actor string) (models.Template, error)
	Get(ctx context.Context, id int64) (models.Template, error)
	List(ctx context.Context, filter repository.ListTemplatesFilter) ([]models.Template, error)
	Delete(ctx context.Context, id int64) error

	// Submit moves a template into review. Accompanying edits are persisted
	// before the audience guard runs, so a failed guard still saves the work.
	Submit(ctx context.Context, id int64, edits *Input, actor string) (models.Template, error)
	Approve(ctx context.Context, id int64, actor string) (models.Template, error)
	Reject(ctx context.Context, id int64, actor, reason string) (models.Template, error)
}

const (
	expiredScheduleReason  = "Scheduled time has passed. Please update the schedule and submit again."
	expiredIntervalReason  = "The interval window has already ended. Please update the window and submit again."
	noRecipientsReason     = "No users matched the notification audience."
	allTokensInvalidReason = "Users matched but every device token was invalid."
	allSendsFailedReason   = "Users matched but all sends failed."
)

type service struct {
	templates    repository.TemplateRepository
	audience     *notification.AudienceResolver
	orchestrator *notification.Orchestrator
	sched        Scheduler
	clock        clock.Clock
	approveGrace time.Duration
	logger       zerolog.Logger
}

func NewService(
	templates repository.TemplateRepository,
	audience *notification.AudienceResolver,
	orchestrator *notification.Orchestrator,
	sched Scheduler,
	clk clock.Clock,
	approveGrace time.Duration,
	logger zerolog.Logger,
) Service {
	if clk == nil {
		clk = clock.New()
	}
	if approveGrace <= 0 {
		approveGrace = time.Minute
	}
	return &service{
		templates:    templates,
		audience:     audience,
		orchestrator: orchestrator,
		sched:        sched,
		clock:        clk,
		approveGrace: approveGrace,
		logger:       logger.With().Str("component", "template_service").Logger(),
	}
}

func (s *service) Create(ctx context.Context, input Input, actor string) (models.Template, error) {
	tpl := applyInput(models.Template{CreatedBy: actor}, input)
	if err := validateBasics(tpl); err != nil {
		return models.Template{}, err
	}
	return s.templates.Create(ctx, tpl)
}

func (s *service) Update(ctx context.Context, id int64, input Input, actor string) (models.Template, error) {
	current, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return models.Template{}, err
	}

	tpl := applyInput(current, input)
	tpl.UpdatedBy = &actor
	if err := validateBasics(tpl); err != nil {
		return models.Template{}, err
	}

	// Edits never move the approval status: pending templates stay pending,
	// and published templates are edited in place without re-dispatching.
	updated, err := s.templates.Update(ctx, tpl)
	if err != nil {
		return models.Template{}, err
	}

	// An armed template's timer follows its edits. Editing away from a
	// scheduled or interval send cancels the pending timer.
	if updated.ApprovalStatus == models.ApprovalApproved && !updated.IsSent {
		s.sched.Disarm(id)
		switch updated.SendType {
		case models.SendTypeSchedule, models.SendTypeInterval:
			s.sched.Arm(updated)
		}
	}
	return updated, nil
}

func (s *service) Get(ctx context.Context, id int64) (models.Template, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return models.Template{}, err
	}
	notification.SortTranslations(tpl.Translations)
	return tpl, nil
}

func (s *service) List(ctx context.Context, filter repository.ListTemplatesFilter) ([]models.Template, error) {
	templates, err := s.templates.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		notification.SortTranslations(templates[i].Translations)
	}
	return templates, nil
}

func (s *service) Delete(ctx context.Context, id int64) error {
	s.sched.Disarm(id)
	return s.templates.Delete(ctx, id)
}

func (s *service) Submit(ctx context.Context, id int64, edits *Input, actor string) (models.Template, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return models.Template{}, err
	}
	if !canTransition(tpl.ApprovalStatus, ActionSubmit) {
		return models.Template{}, &IllegalTransitionError{From: tpl.ApprovalStatus, Action: ActionSubmit}
	}

	if edits != nil {
		updated := applyInput(tpl, *edits)
		updated.UpdatedBy = &actor
		if err := validateBasics(updated); err != nil {
			return models.Template{}, err
		}
		tpl, err = s.templates.Update(ctx, updated)
		if err != nil {
			return models.Template{}, err
		}
	}

	if err := validateForReview(tpl, s.clock.Now(), s.approveGrace); err != nil {
		return tpl, err
	}

	matched, err := s.audience.Count(ctx, tpl)
	if err != nil {
		return tpl, err
	}
	if matched == 0 {
		return tpl, notification.ErrNoRecipients
	}

	return s.templates.UpdateApproval(ctx, id, repository.ApprovalUpdate{
		Status:    models.ApprovalPending,
		Actor:     actor,
		ResetSent: true,
	})
}

func (s *service) Approve(ctx context.Context, id int64, actor string) (models.Template, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return models.Template{}, err
	}
	if !canTransition(tpl.ApprovalStatus, ActionApprove) {
		return models.Template{}, &IllegalTransitionError{From: tpl.ApprovalStatus, Action: ActionApprove}
	}

	now := s.clock.Now()

	switch tpl.SendType {
	case models.SendTypeSchedule:
		// A schedule that slipped past review keeps its time so the author
		// can see what was missed; the template expires instead of sending.
		if tpl.SendSchedule == nil || now.After(tpl.SendSchedule.Add(s.approveGrace)) {
			reason := expiredScheduleReason
			return s.templates.UpdateApproval(ctx, id, repository.ApprovalUpdate{
				Status:          models.ApprovalExpired,
				Actor:           actor,
				RejectionReason: &reason,
			})
		}
		approved, err := s.markApproved(ctx, id, actor, now)
		if err != nil {
			return models.Template{}, err
		}
		s.sched.Arm(approved)
		return approved, nil

	case models.SendTypeInterval:
		if tpl.SendInterval == nil || now.After(tpl.SendInterval.EndAt) {
			reason := expiredIntervalReason
			return s.templates.UpdateApproval(ctx, id, repository.ApprovalUpdate{
				Status:          models.ApprovalExpired,
				Actor:           actor,
				RejectionReason: &reason,
			})
		}
		approved, err := s.markApproved(ctx, id, actor, now)
		if err != nil {
			return models.Template{}, err
		}
		s.sched.Arm(approved)
		return approved, nil

	default:
		return s.approveAndSendNow(ctx, tpl, actor, now)
	}
}

// approveAndSendNow handles SEND_NOW approval: claim, approve, dispatch. A
// dispatch that reaches nobody demotes the template to rejected with a
// reason describing what went wrong.
func (s *service) approveAndSendNow(ctx context.Context, tpl models.Template, actor string, now time.Time) (models.Template, error) {
	claimed, err := s.templates.ClaimForSend(ctx, tpl.ID)
	if err != nil {
		return models.Template{}, err
	}
	if !claimed {
		return models.Template{}, notification.ErrClaimLost
	}

	approved, err := s.markApproved(ctx, tpl.ID, actor, now)
	if err != nil {
		if relErr := s.templates.ReleaseClaim(ctx, tpl.ID); relErr != nil {
			s.logger.Error().Err(relErr).Int64("template_id", tpl.ID).Msg("failed to release send claim")
		}
		return models.Template{}, err
	}

	result, dispatchErr := s.orchestrator.DispatchNow(ctx, approved, notification.TriggerApproval, actor)
	if dispatchErr != nil && !errors.Is(dispatchErr, notification.ErrNoRecipients) {
		if err := s.templates.ReleaseClaim(ctx, tpl.ID); err != nil {
			s.logger.Error().Err(err).Int64("template_id", tpl.ID).Msg("failed to release send claim")
		}
		return models.Template{}, dispatchErr
	}

	if errors.Is(dispatchErr, notification.ErrNoRecipients) || result.AllFailed() {
		reason := rejectionReasonFor(result, dispatchErr)
		s.logger.Warn().
			Int64("template_id", tpl.ID).
			Str("reason", reason).
			Msg("immediate send reached nobody, rejecting template")
		return s.templates.UpdateApproval(ctx, tpl.ID, repository.ApprovalUpdate{
			Status:          models.ApprovalRejected,
			Actor:           actor,
			RejectionReason: &reason,
			ResetSent:       true,
		})
	}

	return s.templates.GetByID(ctx, tpl.ID)
}

func (s *service) Reject(ctx context.Context, id int64, actor, reason string) (models.Template, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return models.Template{}, err
	}
	if !canTransition(tpl.ApprovalStatus, ActionReject) {
		return models.Template{}, &IllegalTransitionError{From: tpl.ApprovalStatus, Action: ActionReject}
	}
	if reason == "" {
		return models.Template{}, validationErrorf("a rejection reason is required")
	}
	return s.templates.UpdateApproval(ctx, id, repository.ApprovalUpdate{
		Status:          models.ApprovalRejected,
		Actor:           actor,
		RejectionReason: &reason,
	})
}

func (s *service) markApproved(ctx context.Context, id int64, actor string, now time.Time) (models.Template, error) {
	return s.templates.UpdateApproval(ctx, id, repository.ApprovalUpdate{
		Status:     models.ApprovalApproved,
		Actor:      actor,
		ApprovedAt: &now,
	})
}

func rejectionReasonFor(result notification.DispatchResult, dispatchErr error) string {
	if errors.Is(dispatchErr, notification.ErrNoRecipients) {
		return noRecipientsReason
	}
	if result.AllInvalidTokens() {
		return allTokensInvalidReason
	}
	return allSendsFailedReason
}

func applyInput(tpl models.Template, input Input) models.Template {
	tpl.Name = input.Name
	tpl.Platforms = models.NormalizePlatforms(input.Platforms)
	tpl.AppVariant = input.AppVariant
	tpl.Category = input.Category
	tpl.SendType = input.SendType
	tpl.SendSchedule = input.SendSchedule
	tpl.SendInterval = input.SendInterval
	tpl.IsFlash = input.IsFlash
	tpl.ShowPerDay = input.ShowPerDay
	if tpl.ShowPerDay <= 0 {
		tpl.ShowPerDay = 1
	}
	tpl.MaxDayShowing = input.MaxDayShowing
	if tpl.MaxDayShowing <= 0 {
		tpl.MaxDayShowing = 1
	}
	tpl.Translations = input.Translations
	return tpl
}

// validateBasics checks the fields every save needs; drafts may still be
// incomplete beyond these.
func validateBasics(tpl models.Template) error {
	if tpl.Name == "" {
		return validationErrorf("template name is required")
	}
	switch tpl.SendType {
	case models.SendTypeNow, models.SendTypeSchedule, models.SendTypeInterval:
	default:
		return validationErrorf("unknown send type %q", tpl.SendType)
	}
	for _, p := range tpl.Platforms {
		switch p {
		case models.PlatformAll, models.PlatformIOS, models.PlatformAndroid:
		default:
			return validationErrorf("unknown platform %q", p)
		}
	}
	seen := make(map[models.Language]bool, len(tpl.Translations))
	for _, tr := range tpl.Translations {
		if !models.IsValidLanguage(tr.Language) {
			return validationErrorf("unknown language %q", tr.Language)
		}
		if seen[tr.Language] {
			return validationErrorf("duplicate %s translation", tr.Language)
		}
		seen[tr.Language] = true
	}
	return nil
}

// validateForReview checks everything a template needs before it can be
// submitted for approval.
func validateForReview(tpl models.Template, now time.Time, grace time.Duration) error {
	if len(tpl.Translations) == 0 {
		return validationErrorf("at least one translation is required")
	}
	for _, tr := range tpl.Translations {
		if tr.Title == "" || tr.Content == "" {
			return validationErrorf("the %s translation needs both a title and content", tr.Language)
		}
	}

	switch tpl.SendType {
	case models.SendTypeSchedule:
		if tpl.SendSchedule == nil {
			return validationErrorf("a scheduled template needs a send time")
		}
		if now.After(tpl.SendSchedule.Add(grace)) {
			return validationErrorf("the scheduled send time has already passed")
		}
	case models.SendTypeInterval:
		if tpl.SendInterval == nil {
			return validationErrorf("an interval template needs an interval definition")
		}
		if _, err := tpl.SendInterval.StepMinutes(); err != nil {
			return &ValidationError{Msg: err.Error()}
		}
		if !tpl.SendInterval.StartAt.Before(tpl.SendInterval.EndAt) {
			return validationErrorf("the interval window must start before it ends")
		}
		if now.After(tpl.SendInterval.EndAt) {
			return validationErrorf("the interval window has already ended")
		}
	}
	return nil
}
