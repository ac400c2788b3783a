package notification

import (
	"context"

	"github.com/facebookgo/clock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/rs/zerolog"
)

// Trigger identifies what initiated a dispatch.
type Trigger string

const (
	TriggerApproval Trigger = "approval"
	TriggerSchedule Trigger = "schedule"
	TriggerInterval Trigger = "interval"
	TriggerManual   Trigger = "manual"
	TriggerFlash    Trigger = "flash"
)

// Orchestrator runs a full dispatch: resolve the audience, fan out through
// the dispatcher, and record publication on the template.
type Orchestrator struct {
	templates  repository.TemplateRepository
	audience   *AudienceResolver
	dispatcher *Dispatcher
	clock      clock.Clock
	logger     zerolog.Logger
}

func NewOrchestrator(templates repository.TemplateRepository, audience *AudienceResolver, dispatcher *Dispatcher, clk clock.Clock, logger zerolog.Logger) *Orchestrator {
	if clk == nil {
		clk = clock.New()
	}
	return &Orchestrator{
		templates:  templates,
		audience:   audience,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// DispatchNow sends the template to its audience. It returns ErrNoRecipients
// when the audience filter matches nobody; the zero-valued result still
// carries the template id in that case.
//
// Recurring interval sends never mark the template as published, since that
// would stop the recurrence.
func (o *Orchestrator) DispatchNow(ctx context.Context, tpl models.Template, trigger Trigger, actor string) (DispatchResult, error) {
	recipients, err := o.audience.Resolve(ctx, tpl)
	if err != nil {
		return DispatchResult{TemplateID: tpl.ID}, err
	}
	if len(recipients) == 0 {
		o.logger.Warn().
			Int64("template_id", tpl.ID).
			Str("trigger", string(trigger)).
			Msg("dispatch matched no recipients")
		return DispatchResult{TemplateID: tpl.ID}, ErrNoRecipients
	}

	result := o.dispatcher.Dispatch(ctx, tpl, recipients)

	if trigger != TriggerInterval && result.Sent > 0 {
		if err := o.templates.MarkPublished(ctx, tpl.ID, actor, o.clock.Now()); err != nil {
			o.logger.Error().Err(err).
				Int64("template_id", tpl.ID).
				Msg("failed to mark template as published")
		}
	}
	return result, nil
}
