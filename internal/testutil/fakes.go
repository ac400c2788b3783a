// Package testutil provides in-memory fakes for the repository and gateway
// interfaces, used by the service, dispatch, and scheduler tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pushboard/pushboard-api/internal/models"
	"github.com/pushboard/pushboard-api/internal/push"
	"github.com/pushboard/pushboard-api/internal/repository"
)

// TemplateStore is an in-memory repository.TemplateRepository.
type TemplateStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]models.Template

	// FailUpdateApproval, when set, makes every UpdateApproval call fail
	// with this error.
	FailUpdateApproval error
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{nextID: 1, items: make(map[int64]models.Template)}
}

// Seed inserts a template as-is and returns it with an id assigned.
func (s *TemplateStore) Seed(tpl models.Template) models.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tpl.ID == 0 {
		tpl.ID = s.nextID
		s.nextID++
	} else if tpl.ID >= s.nextID {
		s.nextID = tpl.ID + 1
	}
	s.items[tpl.ID] = tpl
	return tpl
}

func (s *TemplateStore) Create(_ context.Context, tpl models.Template) (models.Template, error) {
	tpl.CreatedAt = time.Now()
	tpl.UpdatedAt = tpl.CreatedAt
	return s.Seed(tpl), nil
}

func (s *TemplateStore) Update(_ context.Context, tpl models.Template) (models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[tpl.ID]
	if !ok {
		return models.Template{}, sql.ErrNoRows
	}
	tpl.ApprovalStatus = current.ApprovalStatus
	tpl.IsSent = current.IsSent
	tpl.UpdatedAt = time.Now()
	s.items[tpl.ID] = tpl
	return tpl, nil
}

func (s *TemplateStore) GetByID(_ context.Context, id int64) (models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.items[id]
	if !ok {
		return models.Template{}, sql.ErrNoRows
	}
	return tpl, nil
}

func (s *TemplateStore) List(_ context.Context, filter repository.ListTemplatesFilter) ([]models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Template
	for _, tpl := range s.items {
		if filter.Status != nil && tpl.ApprovalStatus != *filter.Status {
			continue
		}
		if filter.SendType != nil && tpl.SendType != *filter.SendType {
			continue
		}
		result = append(result, tpl)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *TemplateStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.items, id)
	return nil
}

func (s *TemplateStore) UpdateApproval(_ context.Context, id int64, update repository.ApprovalUpdate) (models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailUpdateApproval != nil {
		return models.Template{}, s.FailUpdateApproval
	}
	tpl, ok := s.items[id]
	if !ok {
		return models.Template{}, sql.ErrNoRows
	}
	tpl.ApprovalStatus = update.Status
	tpl.RejectionReason = update.RejectionReason
	if update.ApprovedAt != nil {
		tpl.ApprovedAt = update.ApprovedAt
		actor := update.Actor
		tpl.ApprovedBy = &actor
	}
	actor := update.Actor
	tpl.UpdatedBy = &actor
	if update.ResetSent {
		tpl.IsSent = false
	}
	tpl.UpdatedAt = time.Now()
	s.items[id] = tpl
	return tpl, nil
}

func (s *TemplateStore) MarkPublished(_ context.Context, id int64, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	tpl.PublishedBy = &actor
	tpl.PublishedAt = &at
	tpl.IsSent = true
	s.items[id] = tpl
	return nil
}

func (s *TemplateStore) ClaimForSend(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.items[id]
	if !ok || tpl.IsSent {
		return false, nil
	}
	tpl.IsSent = true
	s.items[id] = tpl
	return true, nil
}

func (s *TemplateStore) ReleaseClaim(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	tpl.IsSent = false
	s.items[id] = tpl
	return nil
}

func (s *TemplateStore) ListDueScheduled(_ context.Context, until time.Time) ([]models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Template
	for _, tpl := range s.items {
		if tpl.ApprovalStatus != models.ApprovalApproved || tpl.IsSent {
			continue
		}
		if tpl.SendType != models.SendTypeSchedule || tpl.SendSchedule == nil {
			continue
		}
		if tpl.SendSchedule.After(until) {
			continue
		}
		result = append(result, tpl)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *TemplateStore) ListApprovedUnsent(_ context.Context) ([]models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Template
	for _, tpl := range s.items {
		if tpl.ApprovalStatus == models.ApprovalApproved && !tpl.IsSent {
			result = append(result, tpl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *TemplateStore) ListPublishedFlash(_ context.Context) ([]models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Template
	for _, tpl := range s.items {
		if tpl.ApprovalStatus == models.ApprovalApproved && tpl.IsFlash {
			result = append(result, tpl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

// RecipientStore is an in-memory repository.RecipientRepository.
type RecipientStore struct {
	mu    sync.Mutex
	items map[string]models.Recipient
}

func NewRecipientStore(recipients ...models.Recipient) *RecipientStore {
	s := &RecipientStore{items: make(map[string]models.Recipient)}
	for _, rec := range recipients {
		s.items[rec.AccountID] = rec
	}
	return s
}

func (s *RecipientStore) Upsert(_ context.Context, rec models.Recipient) (models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now()
	s.items[rec.AccountID] = rec
	return rec, nil
}

func (s *RecipientStore) GetByAccount(_ context.Context, accountID string) (models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[accountID]
	if !ok {
		return models.Recipient{}, sql.ErrNoRows
	}
	return rec, nil
}

func (s *RecipientStore) ListMatching(_ context.Context, filter repository.AudienceFilter) ([]models.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.Recipient
	for _, rec := range s.items {
		if !matches(filter, rec) {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AccountID < result[j].AccountID })
	return result, nil
}

func (s *RecipientStore) CountMatching(ctx context.Context, filter repository.AudienceFilter) (int, error) {
	recipients, err := s.ListMatching(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(recipients), nil
}

func matches(filter repository.AudienceFilter, rec models.Recipient) bool {
	if rec.PushToken == "" {
		return false
	}
	if !models.PlatformsInclude(filter.Platforms, rec.Platform) {
		return false
	}
	if filter.AppVariant != nil {
		if rec.AppVariant == nil || *rec.AppVariant != *filter.AppVariant {
			return false
		}
	}
	return true
}

// DeliveryStore is an in-memory repository.DeliveryRepository. Now is
// consulted for new records so tests can pin time with a mock clock.
type DeliveryStore struct {
	mu      sync.Mutex
	records map[string]models.DeliveryRecord
	order   []string

	Now func() time.Time
}

func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{records: make(map[string]models.DeliveryRecord), Now: time.Now}
}

// SeedSent records a successful historical delivery at the given time.
func (s *DeliveryStore) SeedSent(templateID int64, accountID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("seed-%d", len(s.order))
	s.records[id] = models.DeliveryRecord{
		ID:         id,
		TemplateID: templateID,
		AccountID:  accountID,
		Outcome:    models.DeliverySent,
		CreatedAt:  at,
	}
	s.order = append(s.order, id)
}

func (s *DeliveryStore) Create(_ context.Context, rec models.DeliveryRecord) (models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.Now()
	}
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return rec, nil
}

func (s *DeliveryStore) AttachMessageID(_ context.Context, id, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	rec.GatewayMessageID = &messageID
	rec.Outcome = models.DeliverySent
	s.records[id] = rec
	return nil
}

func (s *DeliveryStore) MarkOutcome(_ context.Context, id string, outcome models.DeliveryOutcome, errorCode models.DeliveryErrorCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	rec.Outcome = outcome
	rec.ErrorCode = errorCode
	s.records[id] = rec
	return nil
}

func (s *DeliveryStore) CountSentOnDay(_ context.Context, templateID int64, accountID string, day time.Time) (int, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.records {
		if rec.TemplateID != templateID || rec.AccountID != accountID || rec.Outcome != models.DeliverySent {
			continue
		}
		if rec.CreatedAt.Before(dayStart) || !rec.CreatedAt.Before(dayEnd) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *DeliveryStore) CountDistinctSentDays(_ context.Context, templateID int64, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	days := make(map[string]bool)
	for _, rec := range s.records {
		if rec.TemplateID != templateID || rec.AccountID != accountID || rec.Outcome != models.DeliverySent {
			continue
		}
		days[rec.CreatedAt.Format("2006-01-02")] = true
	}
	return len(days), nil
}

func (s *DeliveryStore) CountSentSince(_ context.Context, templateID int64, accountID string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.records {
		if rec.TemplateID != templateID || rec.AccountID != accountID || rec.Outcome != models.DeliverySent {
			continue
		}
		if rec.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *DeliveryStore) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.DeliveryRecord
	for i := len(s.order) - 1; i >= 0; i-- {
		rec := s.records[s.order[i]]
		if rec.AccountID != accountID || rec.Outcome != models.DeliverySent {
			continue
		}
		result = append(result, rec)
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Records returns every stored record in insertion order.
func (s *DeliveryStore) Records() []models.DeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]models.DeliveryRecord, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.records[id])
	}
	return result
}

// Gateway is a scriptable push.Gateway. Tokens listed in Invalid fail with a
// token-invalid error, tokens in Failing fail generically, everything else
// succeeds.
type Gateway struct {
	mu      sync.Mutex
	Invalid map[string]bool
	Failing map[string]bool
	sent    []string
}

func NewGateway() *Gateway {
	return &Gateway{Invalid: make(map[string]bool), Failing: make(map[string]bool)}
}

func (g *Gateway) Send(_ context.Context, token string, _ push.Payload) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.Invalid[token] {
		return "", &push.SendError{Code: push.CodeTokenInvalid, Reason: "NotRegistered"}
	}
	if g.Failing[token] {
		return "", &push.SendError{Code: push.CodeSendFailed, Reason: "Unavailable"}
	}
	g.sent = append(g.sent, token)
	return fmt.Sprintf("msg-%d", len(g.sent)), nil
}

// SentTokens returns the tokens delivered so far, in order.
func (g *Gateway) SentTokens() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}
