package notification

import (
	"context"
	"testing"

	"github.com/facebookgo/clock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(templates *testutil.TemplateStore, recipients *testutil.RecipientStore, gateway *testutil.Gateway, clk clock.Clock) *Orchestrator {
	deliveries := testutil.NewDeliveryStore()
	limiter := NewRateLimiter(deliveries, clk)
	dispatcher := NewDispatcher(gateway, deliveries, limiter, zerolog.Nop())
	return NewOrchestrator(templates, NewAudienceResolver(recipients), dispatcher, clk, zerolog.Nop())
}

func TestDispatchNowMarksPublished(t *testing.T) {
	templates := testutil.NewTemplateStore()
	tpl := templates.Seed(testTemplate())

	recipients := testutil.NewRecipientStore(recipient("acc-1", "token-1", models.LanguageKhmer))
	o := newTestOrchestrator(templates, recipients, testutil.NewGateway(), clock.NewMock())

	result, err := o.DispatchNow(context.Background(), tpl, TriggerApproval, "approver-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	stored, err := templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
	require.NotNil(t, stored.PublishedBy)
	assert.Equal(t, "approver-1", *stored.PublishedBy)
	assert.NotNil(t, stored.PublishedAt)
}

func TestDispatchNowNoRecipients(t *testing.T) {
	templates := testutil.NewTemplateStore()
	tpl := templates.Seed(testTemplate())

	o := newTestOrchestrator(templates, testutil.NewRecipientStore(), testutil.NewGateway(), clock.NewMock())

	result, err := o.DispatchNow(context.Background(), tpl, TriggerApproval, "approver-1")
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Equal(t, tpl.ID, result.TemplateID)

	stored, err := templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PublishedBy)
}

func TestDispatchNowIntervalNeverPublishes(t *testing.T) {
	templates := testutil.NewTemplateStore()
	tpl := testTemplate()
	tpl.SendType = models.SendTypeInterval
	tpl = templates.Seed(tpl)

	recipients := testutil.NewRecipientStore(recipient("acc-1", "token-1", models.LanguageKhmer))
	o := newTestOrchestrator(templates, recipients, testutil.NewGateway(), clock.NewMock())

	result, err := o.DispatchNow(context.Background(), tpl, TriggerInterval, "scheduler")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)

	// The template stays live so the next interval firing can send again.
	stored, err := templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsSent)
	assert.Nil(t, stored.PublishedBy)
}

func TestDispatchNowAppVariantFilter(t *testing.T) {
	junior := models.VariantJunior
	standard := models.VariantStandard

	templates := testutil.NewTemplateStore()
	tpl := testTemplate()
	tpl.AppVariant = &junior
	tpl = templates.Seed(tpl)

	juniorRec := recipient("acc-junior", "token-junior", models.LanguageKhmer)
	juniorRec.AppVariant = &junior
	standardRec := recipient("acc-standard", "token-standard", models.LanguageKhmer)
	standardRec.AppVariant = &standard

	gateway := testutil.NewGateway()
	o := newTestOrchestrator(templates, testutil.NewRecipientStore(juniorRec, standardRec), gateway, clock.NewMock())

	result, err := o.DispatchNow(context.Background(), tpl, TriggerManual, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, []string{"token-junior"}, gateway.SentTokens())
}
