package notification

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/rs/zerolog"
)

// FlashService serves on-demand "flash" notifications. Unlike scheduled
// sends, a flash push is requested by the client app for one account and
// picks the freshest published flash template that is not capped for that
// account.
type FlashService struct {
	templates  repository.TemplateRepository
	recipients repository.RecipientRepository
	dispatcher *Dispatcher
	limiter    *RateLimiter
	logger     zerolog.Logger
}

func NewFlashService(templates repository.TemplateRepository, recipients repository.RecipientRepository, dispatcher *Dispatcher, limiter *RateLimiter, logger zerolog.Logger) *FlashService {
	return &FlashService{
		templates:  templates,
		recipients: recipients,
		dispatcher: dispatcher,
		limiter:    limiter,
		logger:     logger.With().Str("component", "flash").Logger(),
	}
}

// ShowNow picks and sends the best flash template for the account. It
// returns ErrDailyLimitReached when templates target the account but all of
// them hit their rolling-window cap, and ErrNoTemplateAvailable when nothing
// targets the account in the first place.
func (s *FlashService) ShowNow(ctx context.Context, accountID string) (models.DeliveryRecord, error) {
	rec, err := s.recipients.GetByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DeliveryRecord{}, ErrNoTemplateAvailable
		}
		return models.DeliveryRecord{}, err
	}

	templates, err := s.templates.ListPublishedFlash(ctx)
	if err != nil {
		return models.DeliveryRecord{}, err
	}

	targeted := false
	for _, tpl := range templates {
		if !Targets(tpl, rec) {
			continue
		}
		targeted = true

		allowed, err := s.limiter.AllowFlash(ctx, tpl, accountID)
		if err != nil {
			return models.DeliveryRecord{}, err
		}
		if !allowed {
			continue
		}
		allowed, err = s.limiter.Allow(ctx, tpl, accountID)
		if err != nil {
			return models.DeliveryRecord{}, err
		}
		if !allowed {
			continue
		}

		record, err := s.dispatcher.SendOne(ctx, tpl, rec)
		if err != nil {
			if errors.Is(err, ErrNoTranslation) {
				s.logger.Warn().Int64("template_id", tpl.ID).Msg("flash template has no translations")
				continue
			}
			return record, err
		}
		return record, nil
	}

	if targeted {
		return models.DeliveryRecord{}, ErrDailyLimitReached
	}
	return models.DeliveryRecord{}, ErrNoTemplateAvailable
}
