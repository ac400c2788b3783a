package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pushboard/pushboard-api/internal/models"
)

type RecipientRepository interface {
	Upsert(ctx context.Context, rec models.Recipient) (models.Recipient, error)
	GetByAccount(ctx context.Context, accountID string) (models.Recipient, error)
	ListMatching(ctx context.Context, filter AudienceFilter) ([]models.Recipient, error)
	CountMatching(ctx context.Context, filter AudienceFilter) (int, error)
}

// AudienceFilter narrows the recipient pool for one template. A nil
// AppVariant matches every variant; ALL in Platforms matches every platform.
type AudienceFilter struct {
	Platforms  []models.Platform
	AppVariant *models.AppVariant
}

type recipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) RecipientRepository {
	return &recipientRepository{db: db}
}

func (r *recipientRepository) Upsert(ctx context.Context, rec models.Recipient) (models.Recipient, error) {
	const query = `
		INSERT INTO recipients (account_id, push_token, platform, app_variant, language, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (account_id) DO UPDATE
		SET push_token = EXCLUDED.push_token,
		    platform = EXCLUDED.platform,
		    app_variant = EXCLUDED.app_variant,
		    language = EXCLUDED.language,
		    updated_at = now()
		RETURNING account_id, push_token, platform, app_variant, language, updated_at`

	row := r.db.QueryRowContext(ctx, query, rec.AccountID, rec.PushToken, rec.Platform, rec.AppVariant, rec.Language)
	return scanRecipient(row)
}

func (r *recipientRepository) GetByAccount(ctx context.Context, accountID string) (models.Recipient, error) {
	const query = `
		SELECT account_id, push_token, platform, app_variant, language, updated_at
		FROM recipients
		WHERE account_id = $1`

	return scanRecipient(r.db.QueryRowContext(ctx, query, accountID))
}

const audienceWhere = `
	($1 OR platform = ANY($2))
	AND ($3::text IS NULL OR app_variant IS NOT DISTINCT FROM $3)
	AND push_token <> ''`

func (r *recipientRepository) ListMatching(ctx context.Context, filter AudienceFilter) ([]models.Recipient, error) {
	const query = `
		SELECT account_id, push_token, platform, app_variant, language, updated_at
		FROM recipients
		WHERE ` + audienceWhere + `
		ORDER BY account_id`

	allPlatforms, platforms, variant := audienceArgs(filter)
	rows, err := r.db.QueryContext(ctx, query, allPlatforms, platforms, variant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recipients, nil
}

func (r *recipientRepository) CountMatching(ctx context.Context, filter AudienceFilter) (int, error) {
	const query = `SELECT COUNT(*) FROM recipients WHERE ` + audienceWhere

	allPlatforms, platforms, variant := audienceArgs(filter)
	var count int
	if err := r.db.QueryRowContext(ctx, query, allPlatforms, platforms, variant).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func audienceArgs(filter AudienceFilter) (bool, interface{}, interface{}) {
	allPlatforms := models.PlatformsInclude(filter.Platforms, models.PlatformIOS) &&
		models.PlatformsInclude(filter.Platforms, models.PlatformAndroid)

	var variant interface{}
	if filter.AppVariant != nil {
		variant = string(*filter.AppVariant)
	}
	return allPlatforms, pq.Array(platformsToStrings(filter.Platforms)), variant
}

func scanRecipient(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Recipient, error) {
	var rec models.Recipient
	var appVariant sql.NullString

	if err := scanner.Scan(&rec.AccountID, &rec.PushToken, &rec.Platform, &appVariant, &rec.Language, &rec.UpdatedAt); err != nil {
		return models.Recipient{}, err
	}
	if appVariant.Valid {
		val := models.AppVariant(appVariant.String)
		rec.AppVariant = &val
	}
	return rec, nil
}
