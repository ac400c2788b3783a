package models

import "time"

// Recipient is a device registration the engine can push to. Registrations
// are written by the mobile apps through the sync endpoint and read-only for
// the dispatch path.
type Recipient struct {
	AccountID  string      `json:"account_id" db:"account_id"`
	PushToken  string      `json:"push_token" db:"push_token"`
	Platform   Platform    `json:"platform" db:"platform"`
	AppVariant *AppVariant `json:"app_variant,omitempty" db:"app_variant"`
	Language   Language    `json:"language" db:"language"`
	UpdatedAt  time.Time   `json:"updated_at" db:"updated_at"`
}
