package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

type SendType string

const (
	SendTypeNow      SendType = "SEND_NOW"
	SendTypeSchedule SendType = "SEND_SCHEDULE"
	SendTypeInterval SendType = "SEND_INTERVAL"
)

type ApprovalStatus string

// The empty status means the template is still a draft; it is stored as
// SQL NULL so older rows created before the approval flow keep working.
const (
	ApprovalDraft    ApprovalStatus = ""
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
	ApprovalExpired  ApprovalStatus = "EXPIRED"
)

func IsValidApprovalStatus(s ApprovalStatus) bool {
	switch s {
	case ApprovalDraft, ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

type Platform string

const (
	PlatformAll     Platform = "ALL"
	PlatformIOS     Platform = "IOS"
	PlatformAndroid Platform = "ANDROID"
)

// NormalizePlatforms collapses a platform list that covers every platform
// into [ALL] and removes duplicates, preserving first-seen order otherwise.
func NormalizePlatforms(platforms []Platform) []Platform {
	if len(platforms) == 0 {
		return []Platform{PlatformAll}
	}
	seen := make(map[Platform]bool, len(platforms))
	normalized := make([]Platform, 0, len(platforms))
	for _, p := range platforms {
		if seen[p] {
			continue
		}
		seen[p] = true
		normalized = append(normalized, p)
	}
	if seen[PlatformAll] || (seen[PlatformIOS] && seen[PlatformAndroid]) {
		return []Platform{PlatformAll}
	}
	return normalized
}

// PlatformsInclude reports whether a template targeting the given list
// reaches a recipient on the given platform.
func PlatformsInclude(platforms []Platform, p Platform) bool {
	for _, candidate := range platforms {
		if candidate == PlatformAll || candidate == p {
			return true
		}
	}
	return false
}

type AppVariant string

const (
	VariantStandard AppVariant = "STANDARD"
	VariantJunior   AppVariant = "JUNIOR"
	VariantTourist  AppVariant = "TOURIST"
)

// SendInterval describes a recurring send window. Only minute-step cron
// expressions of the form "*/N * * * *" are supported.
type SendInterval struct {
	Cron    string    `json:"cron" db:"interval_cron"`
	StartAt time.Time `json:"start_at" db:"interval_start_at"`
	EndAt   time.Time `json:"end_at" db:"interval_end_at"`
}

var intervalCronPattern = regexp.MustCompile(`^\*/([0-9]{1,2}) \* \* \* \*$`)

// StepMinutes extracts N from a "*/N * * * *" expression.
func (si SendInterval) StepMinutes() (int, error) {
	match := intervalCronPattern.FindStringSubmatch(si.Cron)
	if match == nil {
		return 0, fmt.Errorf("unsupported cron expression %q, expected \"*/N * * * *\"", si.Cron)
	}
	step, err := strconv.Atoi(match[1])
	if err != nil || step < 1 || step > 59 {
		return 0, fmt.Errorf("cron minute step must be between 1 and 59, got %q", match[1])
	}
	return step, nil
}

type Template struct {
	ID              int64          `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Platforms       []Platform     `json:"platforms" db:"platforms"`
	AppVariant      *AppVariant    `json:"app_variant,omitempty" db:"app_variant"`
	Category        *string        `json:"category,omitempty" db:"category"`
	SendType        SendType       `json:"send_type" db:"send_type"`
	SendSchedule    *time.Time     `json:"send_schedule,omitempty" db:"send_schedule"`
	SendInterval    *SendInterval  `json:"send_interval,omitempty"`
	ShowPerDay      int            `json:"show_per_day" db:"show_per_day"`
	MaxDayShowing   int            `json:"max_day_showing" db:"max_day_showing"`
	IsFlash         bool           `json:"is_flash" db:"is_flash"`
	IsSent          bool           `json:"is_sent" db:"is_sent"`
	ApprovalStatus  ApprovalStatus `json:"approval_status" db:"approval_status"`
	RejectionReason *string        `json:"rejection_reason,omitempty" db:"rejection_reason"`
	CreatedBy       string         `json:"created_by" db:"created_by"`
	UpdatedBy       *string        `json:"updated_by,omitempty" db:"updated_by"`
	ApprovedBy      *string        `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty" db:"approved_at"`
	PublishedBy     *string        `json:"published_by,omitempty" db:"published_by"`
	PublishedAt     *time.Time     `json:"published_at,omitempty" db:"published_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
	Translations    []Translation  `json:"translations"`
}

// Translation returns the template's translation for the given language,
// or false when the template does not carry one.
func (t Template) Translation(lang Language) (Translation, bool) {
	for _, tr := range t.Translations {
		if tr.Language == lang {
			return tr, true
		}
	}
	return Translation{}, false
}
