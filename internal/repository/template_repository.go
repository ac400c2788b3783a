package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pushboard/pushboard-api/internal/models"
)

type TemplateRepository interface {
	Create(ctx context.Context, tpl models.Template) (models.Template, error)
	Update(ctx context.Context, tpl models.Template) (models.Template, error)
	GetByID(ctx context.Context, id int64) (models.Template, error)
	List(ctx context.Context, filter ListTemplatesFilter) ([]models.Template, error)
	Delete(ctx context.Context, id int64) error

	UpdateApproval(ctx context.Context, id int64, update ApprovalUpdate) (models.Template, error)
	MarkPublished(ctx context.Context, id int64, actor string, at time.Time) error

	// ClaimForSend flips is_sent from false to true and reports whether this
	// caller won the claim. A false result with a nil error means another
	// path already claimed the template.
	ClaimForSend(ctx context.Context, id int64) (bool, error)
	ReleaseClaim(ctx context.Context, id int64) error

	ListDueScheduled(ctx context.Context, until time.Time) ([]models.Template, error)
	ListApprovedUnsent(ctx context.Context) ([]models.Template, error)
	ListPublishedFlash(ctx context.Context) ([]models.Template, error)
}

type ListTemplatesFilter struct {
	Status   *models.ApprovalStatus
	SendType *models.SendType
	Limit    int
	Offset   int
}

type ApprovalUpdate struct {
	Status          models.ApprovalStatus
	Actor           string
	RejectionReason *string
	ApprovedAt      *time.Time
	ResetSent       bool
}

type templateRepository struct {
	db *sql.DB
}

func NewTemplateRepository(db *sql.DB) TemplateRepository {
	return &templateRepository{db: db}
}

const templateColumns = `
	id, name, platforms, app_variant, category, send_type, send_schedule,
	interval_cron, interval_start_at, interval_end_at,
	show_per_day, max_day_showing, is_flash, is_sent,
	approval_status, rejection_reason,
	created_by, updated_by, approved_by, approved_at, published_by, published_at,
	created_at, updated_at`

func (r *templateRepository) Create(ctx context.Context, tpl models.Template) (models.Template, error) {
	const query = `
		INSERT INTO templates (
			name, platforms, app_variant, category, send_type, send_schedule,
			interval_cron, interval_start_at, interval_end_at,
			show_per_day, max_day_showing, is_flash, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING ` + templateColumns

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Template{}, errors.Wrap(err, "begin template create")
	}
	defer tx.Rollback()

	var cron, startAt, endAt interface{}
	if tpl.SendInterval != nil {
		cron = tpl.SendInterval.Cron
		startAt = tpl.SendInterval.StartAt
		endAt = tpl.SendInterval.EndAt
	}

	row := tx.QueryRowContext(ctx, query,
		tpl.Name,
		pq.Array(platformsToStrings(tpl.Platforms)),
		tpl.AppVariant,
		tpl.Category,
		tpl.SendType,
		tpl.SendSchedule,
		cron, startAt, endAt,
		tpl.ShowPerDay,
		tpl.MaxDayShowing,
		tpl.IsFlash,
		tpl.CreatedBy,
	)
	created, err := scanTemplate(row)
	if err != nil {
		return models.Template{}, err
	}

	created.Translations, err = replaceTranslations(ctx, tx, created.ID, tpl.Translations)
	if err != nil {
		return models.Template{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Template{}, errors.Wrap(err, "commit template create")
	}
	return created, nil
}

func (r *templateRepository) Update(ctx context.Context, tpl models.Template) (models.Template, error) {
	const query = `
		UPDATE templates
		SET name = $2, platforms = $3, app_variant = $4, category = $5,
		    send_type = $6, send_schedule = $7,
		    interval_cron = $8, interval_start_at = $9, interval_end_at = $10,
		    show_per_day = $11, max_day_showing = $12, is_flash = $13,
		    updated_by = $14, updated_at = now()
		WHERE id = $1
		RETURNING ` + templateColumns

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Template{}, errors.Wrap(err, "begin template update")
	}
	defer tx.Rollback()

	var cron, startAt, endAt interface{}
	if tpl.SendInterval != nil {
		cron = tpl.SendInterval.Cron
		startAt = tpl.SendInterval.StartAt
		endAt = tpl.SendInterval.EndAt
	}

	row := tx.QueryRowContext(ctx, query,
		tpl.ID,
		tpl.Name,
		pq.Array(platformsToStrings(tpl.Platforms)),
		tpl.AppVariant,
		tpl.Category,
		tpl.SendType,
		tpl.SendSchedule,
		cron, startAt, endAt,
		tpl.ShowPerDay,
		tpl.MaxDayShowing,
		tpl.IsFlash,
		tpl.UpdatedBy,
	)
	updated, err := scanTemplate(row)
	if err != nil {
		return models.Template{}, err
	}

	updated.Translations, err = replaceTranslations(ctx, tx, updated.ID, tpl.Translations)
	if err != nil {
		return models.Template{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Template{}, errors.Wrap(err, "commit template update")
	}
	return updated, nil
}

func (r *templateRepository) GetByID(ctx context.Context, id int64) (models.Template, error) {
	const query = `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

	tpl, err := scanTemplate(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.Template{}, err
	}
	translations, err := r.loadTranslations(ctx, []int64{tpl.ID})
	if err != nil {
		return models.Template{}, err
	}
	tpl.Translations = translations[tpl.ID]
	return tpl, nil
}

func (r *templateRepository) List(ctx context.Context, filter ListTemplatesFilter) ([]models.Template, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	// Draft templates carry a NULL approval status, so the status filter
	// compares with IS NOT DISTINCT FROM.
	const query = `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE approval_status IS NOT DISTINCT FROM $1
		  AND ($2::text IS NULL OR send_type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	var status, sendType interface{}
	if filter.Status != nil && *filter.Status != models.ApprovalDraft {
		status = string(*filter.Status)
	}
	if filter.SendType != nil {
		sendType = string(*filter.SendType)
	}
	if filter.Status == nil {
		return r.listAll(ctx, sendType, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, status, sendType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectTemplates(ctx, rows)
}

func (r *templateRepository) listAll(ctx context.Context, sendType interface{}, limit, offset int) ([]models.Template, error) {
	const query = `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE ($1::text IS NULL OR send_type = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, sendType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectTemplates(ctx, rows)
}

func (r *templateRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *templateRepository) UpdateApproval(ctx context.Context, id int64, update ApprovalUpdate) (models.Template, error) {
	const query = `
		UPDATE templates
		SET approval_status = $2,
		    rejection_reason = $3,
		    approved_by = CASE WHEN $4::timestamptz IS NULL THEN approved_by ELSE $5 END,
		    approved_at = COALESCE($4, approved_at),
		    updated_by = $5,
		    is_sent = CASE WHEN $6 THEN FALSE ELSE is_sent END,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + templateColumns

	var status interface{}
	if update.Status != models.ApprovalDraft {
		status = string(update.Status)
	}

	row := r.db.QueryRowContext(ctx, query, id, status, update.RejectionReason, update.ApprovedAt, update.Actor, update.ResetSent)
	tpl, err := scanTemplate(row)
	if err != nil {
		return models.Template{}, err
	}
	translations, err := r.loadTranslations(ctx, []int64{tpl.ID})
	if err != nil {
		return models.Template{}, err
	}
	tpl.Translations = translations[tpl.ID]
	return tpl, nil
}

func (r *templateRepository) MarkPublished(ctx context.Context, id int64, actor string, at time.Time) error {
	const query = `
		UPDATE templates
		SET published_by = $2, published_at = $3, is_sent = TRUE, updated_at = now()
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, actor, at)
	return err
}

func (r *templateRepository) ClaimForSend(ctx context.Context, id int64) (bool, error) {
	const query = `
		UPDATE templates
		SET is_sent = TRUE, updated_at = now()
		WHERE id = $1 AND is_sent = FALSE`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *templateRepository) ReleaseClaim(ctx context.Context, id int64) error {
	const query = `
		UPDATE templates
		SET is_sent = FALSE, updated_at = now()
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *templateRepository) ListDueScheduled(ctx context.Context, until time.Time) ([]models.Template, error) {
	const query = `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE approval_status = 'APPROVED'
		  AND is_sent = FALSE
		  AND send_type = 'SEND_SCHEDULE'
		  AND send_schedule <= $1
		ORDER BY send_schedule`

	rows, err := r.db.QueryContext(ctx, query, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectTemplates(ctx, rows)
}

func (r *templateRepository) ListApprovedUnsent(ctx context.Context) ([]models.Template, error) {
	const query = `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE approval_status = 'APPROVED' AND is_sent = FALSE
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectTemplates(ctx, rows)
}

func (r *templateRepository) ListPublishedFlash(ctx context.Context) ([]models.Template, error) {
	const query = `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE approval_status = 'APPROVED' AND is_flash = TRUE
		ORDER BY published_at DESC NULLS LAST, id DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectTemplates(ctx, rows)
}

func (r *templateRepository) collectTemplates(ctx context.Context, rows *sql.Rows) ([]models.Template, error) {
	var templates []models.Template
	var ids []int64
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
		ids = append(ids, tpl.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return templates, nil
	}

	translations, err := r.loadTranslations(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range templates {
		templates[i].Translations = translations[templates[i].ID]
	}
	return templates, nil
}

func (r *templateRepository) loadTranslations(ctx context.Context, templateIDs []int64) (map[int64][]models.Translation, error) {
	const query = `
		SELECT id, template_id, language, title, content, image_url, link_url
		FROM template_translations
		WHERE template_id = ANY($1)
		ORDER BY template_id,
			CASE language WHEN 'KM' THEN 1 WHEN 'EN' THEN 2 WHEN 'JP' THEN 3 ELSE 4 END`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(templateIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64][]models.Translation)
	for rows.Next() {
		var tr models.Translation
		var imageURL, linkURL sql.NullString
		if err := rows.Scan(&tr.ID, &tr.TemplateID, &tr.Language, &tr.Title, &tr.Content, &imageURL, &linkURL); err != nil {
			return nil, err
		}
		if imageURL.Valid {
			val := imageURL.String
			tr.ImageURL = &val
		}
		if linkURL.Valid {
			val := linkURL.String
			tr.LinkURL = &val
		}
		result[tr.TemplateID] = append(result[tr.TemplateID], tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func replaceTranslations(ctx context.Context, tx *sql.Tx, templateID int64, translations []models.Translation) ([]models.Translation, error) {
	if _, err := tx.ExecContext(ctx, `DELETE FROM template_translations WHERE template_id = $1`, templateID); err != nil {
		return nil, errors.Wrap(err, "clear translations")
	}

	const query = `
		INSERT INTO template_translations (template_id, language, title, content, image_url, link_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	saved := make([]models.Translation, 0, len(translations))
	for _, tr := range translations {
		tr.TemplateID = templateID
		if err := tx.QueryRowContext(ctx, query, templateID, tr.Language, tr.Title, tr.Content, tr.ImageURL, tr.LinkURL).Scan(&tr.ID); err != nil {
			return nil, errors.Wrapf(err, "insert %s translation", tr.Language)
		}
		saved = append(saved, tr)
	}
	return saved, nil
}

func scanTemplate(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Template, error) {
	var (
		tpl             models.Template
		platforms       pq.StringArray
		appVariant      sql.NullString
		category        sql.NullString
		sendSchedule    sql.NullTime
		intervalCron    sql.NullString
		intervalStart   sql.NullTime
		intervalEnd     sql.NullTime
		approvalStatus  sql.NullString
		rejectionReason sql.NullString
		updatedBy       sql.NullString
		approvedBy      sql.NullString
		approvedAt      sql.NullTime
		publishedBy     sql.NullString
		publishedAt     sql.NullTime
	)

	if err := scanner.Scan(
		&tpl.ID,
		&tpl.Name,
		&platforms,
		&appVariant,
		&category,
		&tpl.SendType,
		&sendSchedule,
		&intervalCron,
		&intervalStart,
		&intervalEnd,
		&tpl.ShowPerDay,
		&tpl.MaxDayShowing,
		&tpl.IsFlash,
		&tpl.IsSent,
		&approvalStatus,
		&rejectionReason,
		&tpl.CreatedBy,
		&updatedBy,
		&approvedBy,
		&approvedAt,
		&publishedBy,
		&publishedAt,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	); err != nil {
		return models.Template{}, err
	}

	tpl.Platforms = stringsToPlatforms(platforms)
	if appVariant.Valid {
		val := models.AppVariant(appVariant.String)
		tpl.AppVariant = &val
	}
	if category.Valid {
		val := category.String
		tpl.Category = &val
	}
	if sendSchedule.Valid {
		t := sendSchedule.Time
		tpl.SendSchedule = &t
	}
	if intervalCron.Valid {
		tpl.SendInterval = &models.SendInterval{
			Cron:    intervalCron.String,
			StartAt: intervalStart.Time,
			EndAt:   intervalEnd.Time,
		}
	}
	if approvalStatus.Valid {
		tpl.ApprovalStatus = models.ApprovalStatus(approvalStatus.String)
	}
	if rejectionReason.Valid {
		val := rejectionReason.String
		tpl.RejectionReason = &val
	}
	if updatedBy.Valid {
		val := updatedBy.String
		tpl.UpdatedBy = &val
	}
	if approvedBy.Valid {
		val := approvedBy.String
		tpl.ApprovedBy = &val
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		tpl.ApprovedAt = &t
	}
	if publishedBy.Valid {
		val := publishedBy.String
		tpl.PublishedBy = &val
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		tpl.PublishedAt = &t
	}

	return tpl, nil
}

func platformsToStrings(platforms []models.Platform) []string {
	result := make([]string, 0, len(platforms))
	for _, p := range platforms {
		result = append(result, string(p))
	}
	return result
}

func stringsToPlatforms(values []string) []models.Platform {
	result := make([]models.Platform, 0, len(values))
	for _, v := range values {
		result = append(result, models.Platform(v))
	}
	return result
}
