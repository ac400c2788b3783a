package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/notification"
	"github.com/pushboard/pushboard-api/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedFixture struct {
	templates  *testutil.TemplateStore
	recipients *testutil.RecipientStore
	gateway    *testutil.Gateway
	clock      *clock.Mock
	sched      *Scheduler
}

func newSchedFixture(recipients ...models.Recipient) *schedFixture {
	clk := clock.NewMock()
	clk.Add(1000 * time.Hour)

	templates := testutil.NewTemplateStore()
	recipientStore := testutil.NewRecipientStore(recipients...)
	deliveries := testutil.NewDeliveryStore()
	deliveries.Now = clk.Now
	gateway := testutil.NewGateway()

	limiter := notification.NewRateLimiter(deliveries, clk)
	dispatcher := notification.NewDispatcher(gateway, deliveries, limiter, zerolog.Nop())
	audience := notification.NewAudienceResolver(recipientStore)
	orchestrator := notification.NewOrchestrator(templates, audience, dispatcher, clk, zerolog.Nop())

	return &schedFixture{
		templates:  templates,
		recipients: recipientStore,
		gateway:    gateway,
		clock:      clk,
		sched:      New(templates, orchestrator, clk, 15*time.Minute, zerolog.Nop()),
	}
}

func androidRecipient(account, token string) models.Recipient {
	return models.Recipient{
		AccountID: account,
		PushToken: token,
		Platform:  models.PlatformAndroid,
		Language:  models.LanguageKhmer,
	}
}

func scheduledTemplate(fireAt time.Time) models.Template {
	return models.Template{
		Name:           "reminder",
		Platforms:      []models.Platform{models.PlatformAll},
		SendType:       models.SendTypeSchedule,
		SendSchedule:   &fireAt,
		ShowPerDay:     1,
		MaxDayShowing:  1,
		ApprovalStatus: models.ApprovalApproved,
		Translations: []models.Translation{
			{Language: models.LanguageKhmer, Title: "រំលឹក", Content: "កុំភ្លេច"},
		},
	}
}

func intervalTemplate(window models.SendInterval) models.Template {
	return models.Template{
		Name:           "recurring",
		Platforms:      []models.Platform{models.PlatformAll},
		SendType:       models.SendTypeInterval,
		SendInterval:   &window,
		ShowPerDay:     100,
		MaxDayShowing:  100,
		ApprovalStatus: models.ApprovalApproved,
		Translations: []models.Translation{
			{Language: models.LanguageKhmer, Title: "រំលឹក", Content: "កុំភ្លេច"},
		},
	}
}

func (f *schedFixture) timerCount() int {
	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	return len(f.sched.timers)
}

func TestSweepDispatchesDueTemplate(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	tpl := f.templates.Seed(scheduledTemplate(f.clock.Now().Add(-5 * time.Minute)))

	f.sched.Sweep(f.clock.Now())

	assert.Equal(t, []string{"token-1"}, f.gateway.SentTokens())

	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
	require.NotNil(t, stored.PublishedBy)
	assert.Equal(t, schedulerActor, *stored.PublishedBy)
}

func TestSweepClaimsExactlyOnce(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	f.templates.Seed(scheduledTemplate(f.clock.Now().Add(-5 * time.Minute)))

	f.sched.Sweep(f.clock.Now())
	f.sched.Sweep(f.clock.Now())
	f.sched.Sweep(f.clock.Now())

	assert.Len(t, f.gateway.SentTokens(), 1, "only the first sweep wins the claim")
}

func TestConcurrentFiresClaimOnce(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	tpl := f.templates.Seed(scheduledTemplate(f.clock.Now().Add(-5 * time.Minute)))

	// A timer firing while a sweep picks up the same template: both race for
	// the claim, exactly one dispatches.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.sched.fireScheduled(tpl.ID)
		}()
	}
	wg.Wait()

	assert.Len(t, f.gateway.SentTokens(), 1, "one fire wins, the other is a no-op")

	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
}

func TestSweepAbandonsOverdueTemplate(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	tpl := f.templates.Seed(scheduledTemplate(f.clock.Now().Add(-30 * time.Minute)))

	f.sched.Sweep(f.clock.Now())

	assert.Empty(t, f.gateway.SentTokens(), "a long-overdue template must not send")

	// Claimed anyway so no later sweep picks it up.
	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
	assert.Nil(t, stored.PublishedBy)
}

func TestFireScheduledClaimStandsWithoutRecipients(t *testing.T) {
	f := newSchedFixture() // nobody registered
	tpl := f.templates.Seed(scheduledTemplate(f.clock.Now().Add(-time.Minute)))

	f.sched.fireScheduled(tpl.ID)

	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent, "the scheduled slot is spent even when nobody matched")
	assert.Empty(t, f.gateway.SentTokens())
}

func TestFireScheduledRevertsUnapprovedClaim(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	tpl := scheduledTemplate(f.clock.Now().Add(-time.Minute))
	tpl.ApprovalStatus = models.ApprovalPending
	tpl = f.templates.Seed(tpl)

	f.sched.fireScheduled(tpl.ID)

	assert.Empty(t, f.gateway.SentTokens())

	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsSent, "the claim is reverted so the template can still be approved")
	assert.Equal(t, models.ApprovalPending, stored.ApprovalStatus)
}

func TestArmReplacesExistingTimer(t *testing.T) {
	f := newSchedFixture()
	tpl := f.templates.Seed(scheduledTemplate(f.clock.Now().Add(time.Hour)))

	f.sched.Arm(tpl)
	assert.Equal(t, 1, f.timerCount())

	// Re-approving with a new schedule replaces the timer, never stacks one.
	later := f.clock.Now().Add(2 * time.Hour)
	tpl.SendSchedule = &later
	f.sched.Arm(tpl)
	assert.Equal(t, 1, f.timerCount())

	f.sched.Disarm(tpl.ID)
	assert.Equal(t, 0, f.timerCount())
}

func TestScheduledTimerFires(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	tpl := f.templates.Seed(scheduledTemplate(f.clock.Now().Add(10 * time.Minute)))

	f.sched.Arm(tpl)
	assert.Empty(t, f.gateway.SentTokens())

	f.clock.Add(10 * time.Minute)
	assert.Equal(t, []string{"token-1"}, f.gateway.SentTokens())

	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent)
}

func TestArmIntervalRegistersTimer(t *testing.T) {
	f := newSchedFixture()
	tpl := f.templates.Seed(intervalTemplate(models.SendInterval{
		Cron:    "*/10 * * * *",
		StartAt: f.clock.Now(),
		EndAt:   f.clock.Now().Add(24 * time.Hour),
	}))

	f.sched.Arm(tpl)
	assert.Equal(t, 1, f.timerCount())
}

func TestArmIntervalClosedWindowDeactivates(t *testing.T) {
	f := newSchedFixture()
	tpl := f.templates.Seed(intervalTemplate(models.SendInterval{
		Cron:    "*/10 * * * *",
		StartAt: f.clock.Now().Add(-48 * time.Hour),
		EndAt:   f.clock.Now().Add(-time.Hour),
	}))

	f.sched.Arm(tpl)

	assert.Equal(t, 0, f.timerCount())
	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsSent, "a closed window retires the template")
}

func TestFireIntervalDispatchesAndRearms(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	tpl := f.templates.Seed(intervalTemplate(models.SendInterval{
		Cron:    "*/10 * * * *",
		StartAt: f.clock.Now().Add(-time.Hour),
		EndAt:   f.clock.Now().Add(24 * time.Hour),
	}))

	f.sched.fireInterval(tpl.ID)

	assert.Equal(t, []string{"token-1"}, f.gateway.SentTokens())
	assert.Equal(t, 1, f.timerCount(), "re-armed for the next firing")

	// Recurring sends never flip the sent flag, the window controls them.
	stored, err := f.templates.GetByID(context.Background(), tpl.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsSent)
	assert.Nil(t, stored.PublishedBy)
}

func TestFireIntervalSkipsUnapproved(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	tpl := intervalTemplate(models.SendInterval{
		Cron:    "*/10 * * * *",
		StartAt: f.clock.Now().Add(-time.Hour),
		EndAt:   f.clock.Now().Add(24 * time.Hour),
	})
	tpl.ApprovalStatus = models.ApprovalRejected
	tpl = f.templates.Seed(tpl)

	f.sched.fireInterval(tpl.ID)

	assert.Empty(t, f.gateway.SentTokens())
	assert.Equal(t, 0, f.timerCount())
}

func TestStartRearmsApprovedTemplates(t *testing.T) {
	f := newSchedFixture(androidRecipient("acc-1", "token-1"))
	f.templates.Seed(scheduledTemplate(f.clock.Now().Add(time.Hour)))

	sent := scheduledTemplate(f.clock.Now().Add(time.Hour))
	sent.IsSent = true
	f.templates.Seed(sent)

	require.NoError(t, f.sched.Start(context.Background()))
	defer f.sched.Stop()

	assert.Equal(t, 1, f.timerCount(), "only the unsent template is re-armed")
}
