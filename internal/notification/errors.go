package notification

import "errors"

var (
	// ErrNoRecipients means the template's audience filter matched nobody.
	ErrNoRecipients = errors.New("no recipients match the template audience")

	// ErrClaimLost means another dispatch path claimed the template first.
	// Callers treat it as a silent no-op.
	ErrClaimLost = errors.New("template already claimed for sending")

	// ErrDailyLimitReached means every eligible flash template is capped
	// for the recipient right now.
	ErrDailyLimitReached = errors.New("daily notification limit reached")

	// ErrNoTemplateAvailable means no published flash template targets the
	// recipient at all.
	ErrNoTemplateAvailable = errors.New("no notification template available")

	// ErrNoTranslation means the template carries no translation in any
	// supported language.
	ErrNoTranslation = errors.New("template has no usable translation")
)
