package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pushboard/pushboard-api/internal/models"
)

type DeliveryRepository interface {
	Create(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error)
	AttachMessageID(ctx context.Context, id, messageID string) error
	MarkOutcome(ctx context.Context, id string, outcome models.DeliveryOutcome, errorCode models.DeliveryErrorCode) error

	// CountSentOnDay counts successful deliveries of one template to one
	// account within the calendar day containing the given instant.
	CountSentOnDay(ctx context.Context, templateID int64, accountID string, day time.Time) (int, error)
	// CountDistinctSentDays counts the calendar days on which the template
	// was successfully delivered to the account, over its whole lifetime.
	CountDistinctSentDays(ctx context.Context, templateID int64, accountID string) (int, error)
	// CountSentSince counts successful deliveries within a rolling window.
	CountSentSince(ctx context.Context, templateID int64, accountID string, since time.Time) (int, error)

	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.DeliveryRecord, error)
}

type deliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) Create(ctx context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error) {
	const query = `
		INSERT INTO delivery_records (id, template_id, account_id, push_token, language, title, content, outcome, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, template_id, account_id, push_token, language, title, content, outcome, error_code, gateway_message_id, created_at`

	row := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.TemplateID, rec.AccountID, rec.PushToken, rec.Language,
		rec.Title, rec.Content, rec.Outcome, rec.ErrorCode)
	return scanDelivery(row)
}

func (r *deliveryRepository) AttachMessageID(ctx context.Context, id, messageID string) error {
	const query = `
		UPDATE delivery_records
		SET gateway_message_id = $2, outcome = 'sent'
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, messageID)
	return err
}

func (r *deliveryRepository) MarkOutcome(ctx context.Context, id string, outcome models.DeliveryOutcome, errorCode models.DeliveryErrorCode) error {
	const query = `
		UPDATE delivery_records
		SET outcome = $2, error_code = $3
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, outcome, errorCode)
	return err
}

func (r *deliveryRepository) CountSentOnDay(ctx context.Context, templateID int64, accountID string, day time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM delivery_records
		WHERE template_id = $1 AND account_id = $2 AND outcome = 'sent'
		  AND created_at >= $3 AND created_at < $4`

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	var count int
	if err := r.db.QueryRowContext(ctx, query, templateID, accountID, dayStart, dayEnd).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *deliveryRepository) CountDistinctSentDays(ctx context.Context, templateID int64, accountID string) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT created_at::date)
		FROM delivery_records
		WHERE template_id = $1 AND account_id = $2 AND outcome = 'sent'`

	var count int
	if err := r.db.QueryRowContext(ctx, query, templateID, accountID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *deliveryRepository) CountSentSince(ctx context.Context, templateID int64, accountID string, since time.Time) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM delivery_records
		WHERE template_id = $1 AND account_id = $2 AND outcome = 'sent'
		  AND created_at >= $3`

	var count int
	if err := r.db.QueryRowContext(ctx, query, templateID, accountID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *deliveryRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.DeliveryRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	const query = `
		SELECT id, template_id, account_id, push_token, language, title, content, outcome, error_code, gateway_message_id, created_at
		FROM delivery_records
		WHERE account_id = $1 AND outcome = 'sent'
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.DeliveryRecord
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func scanDelivery(scanner interface {
	Scan(dest ...interface{}) error
}) (models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	var messageID sql.NullString

	if err := scanner.Scan(
		&rec.ID,
		&rec.TemplateID,
		&rec.AccountID,
		&rec.PushToken,
		&rec.Language,
		&rec.Title,
		&rec.Content,
		&rec.Outcome,
		&rec.ErrorCode,
		&messageID,
		&rec.CreatedAt,
	); err != nil {
		return models.DeliveryRecord{}, err
	}
	if messageID.Valid {
		val := messageID.String
		rec.GatewayMessageID = &val
	}
	return rec, nil
}
