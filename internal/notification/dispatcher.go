package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/push"
	"github.com/pushboard/pushboard-api/internal/repository"
	"github.com/rs/zerolog"
)

// DispatchResult summarizes one dispatch run. It is a plain value; the
// template row is only touched by whoever owns the claim.
type DispatchResult struct {
	TemplateID    int64
	Matched       int
	Sent          int
	Failed        int
	Skipped       int
	InvalidTokens int
}

// AllFailed reports whether recipients were matched but nobody got the push.
func (r DispatchResult) AllFailed() bool {
	return r.Matched > 0 && r.Sent == 0
}

// AllInvalidTokens reports whether every failure was a dead device token.
func (r DispatchResult) AllInvalidTokens() bool {
	return r.Failed > 0 && r.InvalidTokens == r.Failed
}

// Dispatcher fans a template out to a recipient list, writing one delivery
// record per attempt. The delivery row is created before the gateway call so
// a crash mid-send still leaves evidence of the attempt.
type Dispatcher struct {
	gateway    push.Gateway
	deliveries repository.DeliveryRepository
	limiter    *RateLimiter
	logger     zerolog.Logger
}

func NewDispatcher(gateway push.Gateway, deliveries repository.DeliveryRepository, limiter *RateLimiter, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		gateway:    gateway,
		deliveries: deliveries,
		limiter:    limiter,
		logger:     logger.With().Str("component", "dispatcher").Logger(),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, tpl models.Template, recipients []models.Recipient) DispatchResult {
	result := DispatchResult{TemplateID: tpl.ID, Matched: len(recipients)}

	for _, rec := range recipients {
		allowed, err := d.limiter.Allow(ctx, tpl, rec.AccountID)
		if err != nil {
			d.logger.Error().Err(err).
				Int64("template_id", tpl.ID).
				Str("account_id", rec.AccountID).
				Msg("rate limit check failed")
			result.Failed++
			continue
		}
		if !allowed {
			result.Skipped++
			continue
		}

		record, err := d.SendOne(ctx, tpl, rec)
		if err == nil && record.Outcome == models.DeliverySent {
			result.Sent++
			continue
		}
		result.Failed++
		if record.ErrorCode == models.DeliveryErrorTokenInvalid {
			result.InvalidTokens++
		}
	}

	d.logger.Info().
		Int64("template_id", tpl.ID).
		Int("matched", result.Matched).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("dispatch complete")
	return result
}

// SendOne delivers a template to a single recipient and returns the delivery
// record describing the attempt.
func (d *Dispatcher) SendOne(ctx context.Context, tpl models.Template, rec models.Recipient) (models.DeliveryRecord, error) {
	tr, ok := BestTranslation(tpl, rec.Language)
	if !ok {
		return models.DeliveryRecord{}, ErrNoTranslation
	}

	record, err := d.deliveries.Create(ctx, models.DeliveryRecord{
		ID:         uuid.NewString(),
		TemplateID: tpl.ID,
		AccountID:  rec.AccountID,
		PushToken:  rec.PushToken,
		Language:   tr.Language,
		Title:      tr.Title,
		Content:    tr.Content,
		Outcome:    models.DeliveryQueued,
	})
	if err != nil {
		d.logger.Error().Err(err).
			Int64("template_id", tpl.ID).
			Str("account_id", rec.AccountID).
			Msg("failed to persist delivery record")
		return models.DeliveryRecord{}, err
	}

	messageID, sendErr := d.gateway.Send(ctx, rec.PushToken, PayloadFor(tpl, tr))
	if sendErr != nil {
		code := models.DeliveryErrorSendFailed
		if push.IsTokenInvalid(sendErr) {
			code = models.DeliveryErrorTokenInvalid
		}
		if err := d.deliveries.MarkOutcome(ctx, record.ID, models.DeliveryFailed, code); err != nil {
			d.logger.Error().Err(err).Str("delivery_id", record.ID).Msg("failed to record delivery failure")
		}
		d.logger.Warn().Err(sendErr).
			Int64("template_id", tpl.ID).
			Str("account_id", rec.AccountID).
			Str("error_code", string(code)).
			Msg("push send failed")
		record.Outcome = models.DeliveryFailed
		record.ErrorCode = code
		return record, sendErr
	}

	if err := d.deliveries.AttachMessageID(ctx, record.ID, messageID); err != nil {
		d.logger.Error().Err(err).Str("delivery_id", record.ID).Msg("failed to attach gateway message id")
	}
	record.Outcome = models.DeliverySent
	record.GatewayMessageID = &messageID
	return record, nil
}
