package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deliveryColumnNames = []string{
	"id", "template_id", "account_id", "push_token", "language",
	"title", "content", "outcome", "error_code", "gateway_message_id", "created_at",
}

func TestDeliveryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDeliveryRepository(db)

	mock.ExpectQuery(`INSERT INTO delivery_records`).
		WithArgs("rec-1", int64(7), "acc-1", "token-1", "KM", "ពត៌មាន", "ថ្មី", "queued", "").
		WillReturnRows(sqlmock.NewRows(deliveryColumnNames).
			AddRow("rec-1", int64(7), "acc-1", "token-1", "KM", "ពត៌មាន", "ថ្មី", "queued", "", nil, time.Now()))

	rec, err := repo.Create(context.Background(), models.DeliveryRecord{
		ID:         "rec-1",
		TemplateID: 7,
		AccountID:  "acc-1",
		PushToken:  "token-1",
		Language:   models.LanguageKhmer,
		Title:      "ពត៌មាន",
		Content:    "ថ្មី",
		Outcome:    models.DeliveryQueued,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryQueued, rec.Outcome)
	assert.Nil(t, rec.GatewayMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryCountSentOnDayUsesCalendarBounds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDeliveryRepository(db)

	// Midday in Phnom Penh; the query window is that calendar day.
	loc := time.FixedZone("ICT", 7*3600)
	midday := time.Date(2026, 3, 1, 12, 30, 0, 0, loc)
	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24 * time.Hour)

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(int64(7), "acc-1", dayStart, dayEnd).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountSentOnDay(context.Background(), 7, "acc-1", midday)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryCountSentSince(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDeliveryRepository(db)
	since := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT`).
		WithArgs(int64(7), "acc-1", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountSentSince(context.Background(), 7, "acc-1", since)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDeliveryListByAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewDeliveryRepository(db)

	messageID := "msg-1"
	mock.ExpectQuery(`SELECT (.+) FROM delivery_records`).
		WithArgs("acc-1", 25, 0).
		WillReturnRows(sqlmock.NewRows(deliveryColumnNames).
			AddRow("rec-2", int64(7), "acc-1", "token-1", "KM", "ក", "ខ", "sent", "", messageID, time.Now()).
			AddRow("rec-1", int64(5), "acc-1", "token-1", "KM", "គ", "ឃ", "sent", "", nil, time.Now().Add(-time.Hour)))

	records, err := repo.ListByAccount(context.Background(), "acc-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-2", records[0].ID)
	require.NotNil(t, records[0].GatewayMessageID)
	assert.Equal(t, messageID, *records[0].GatewayMessageID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
