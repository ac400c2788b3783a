package notification

import (
	"context"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/repository"
)

// flashWindowLimit caps repeat sends of the same flash template to the same
// recipient inside a rolling 24 hour window.
const flashWindowLimit = 2

// RateLimiter enforces per-recipient exposure caps using the delivery log.
//
// ShowPerDay caps sends within one calendar day, MaxDayShowing caps the
// number of distinct calendar days the template may ever reach a recipient.
// Both default to 1 when a template leaves them unset.
type RateLimiter struct {
	deliveries repository.DeliveryRepository
	clock      clock.Clock
}

func NewRateLimiter(deliveries repository.DeliveryRepository, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &RateLimiter{deliveries: deliveries, clock: clk}
}

// Allow reports whether the template may be delivered to the account now.
func (l *RateLimiter) Allow(ctx context.Context, tpl models.Template, accountID string) (bool, error) {
	now := l.clock.Now()

	todayCount, err := l.deliveries.CountSentOnDay(ctx, tpl.ID, accountID, now)
	if err != nil {
		return false, err
	}
	if todayCount >= showPerDay(tpl) {
		return false, nil
	}

	// A day that already saw a delivery is already counted against the
	// distinct-day cap, so only the first send of a day can breach it.
	if todayCount == 0 {
		days, err := l.deliveries.CountDistinctSentDays(ctx, tpl.ID, accountID)
		if err != nil {
			return false, err
		}
		if days >= maxDayShowing(tpl) {
			return false, nil
		}
	}

	return true, nil
}

// AllowFlash applies the rolling-window cap used by on-demand flash sends.
func (l *RateLimiter) AllowFlash(ctx context.Context, tpl models.Template, accountID string) (bool, error) {
	since := l.clock.Now().Add(-24 * time.Hour)
	count, err := l.deliveries.CountSentSince(ctx, tpl.ID, accountID, since)
	if err != nil {
		return false, err
	}
	return count < flashWindowLimit, nil
}

func showPerDay(tpl models.Template) int {
	if tpl.ShowPerDay <= 0 {
		return 1
	}
	return tpl.ShowPerDay
}

func maxDayShowing(tpl models.Template) int {
	if tpl.MaxDayShowing <= 0 {
		return 1
	}
	return tpl.MaxDayShowing
}
