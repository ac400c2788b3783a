package notification

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowShowPerDay(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(12 * time.Hour) // midday

	deliveries := testutil.NewDeliveryStore()
	limiter := NewRateLimiter(deliveries, clk)

	tpl := models.Template{ID: 1, ShowPerDay: 2, MaxDayShowing: 5}
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	deliveries.SeedSent(tpl.ID, "acc-1", clk.Now().Add(-time.Hour))
	allowed, err = limiter.Allow(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.True(t, allowed, "one of two daily sends used")

	deliveries.SeedSent(tpl.ID, "acc-1", clk.Now().Add(-time.Minute))
	allowed, err = limiter.Allow(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.False(t, allowed, "daily cap exhausted")

	// Another account is unaffected.
	allowed, err = limiter.Allow(ctx, tpl, "acc-2")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowMaxDayShowing(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(30 * 24 * time.Hour)

	deliveries := testutil.NewDeliveryStore()
	limiter := NewRateLimiter(deliveries, clk)

	tpl := models.Template{ID: 2, ShowPerDay: 1, MaxDayShowing: 2}
	ctx := context.Background()

	// Delivered on two earlier days.
	deliveries.SeedSent(tpl.ID, "acc-1", clk.Now().Add(-48*time.Hour))
	deliveries.SeedSent(tpl.ID, "acc-1", clk.Now().Add(-72*time.Hour))

	allowed, err := limiter.Allow(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.False(t, allowed, "lifetime distinct-day cap reached")
}

func TestAllowDefaultsToOne(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(12 * time.Hour)

	deliveries := testutil.NewDeliveryStore()
	limiter := NewRateLimiter(deliveries, clk)

	// Zero-valued caps behave as 1.
	tpl := models.Template{ID: 3}
	ctx := context.Background()

	deliveries.SeedSent(tpl.ID, "acc-1", clk.Now().Add(-time.Hour))
	allowed, err := limiter.Allow(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestAllowFlashRollingWindow(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(48 * time.Hour)

	deliveries := testutil.NewDeliveryStore()
	limiter := NewRateLimiter(deliveries, clk)

	tpl := models.Template{ID: 4, IsFlash: true}
	ctx := context.Background()

	allowed, err := limiter.AllowFlash(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	deliveries.SeedSent(tpl.ID, "acc-1", clk.Now().Add(-23*time.Hour))
	deliveries.SeedSent(tpl.ID, "acc-1", clk.Now().Add(-time.Hour))

	allowed, err = limiter.AllowFlash(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.False(t, allowed, "two sends inside the rolling day")

	// The older send falling out of the window frees a slot.
	clk.Add(2 * time.Hour)
	allowed, err = limiter.AllowFlash(ctx, tpl, "acc-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}
