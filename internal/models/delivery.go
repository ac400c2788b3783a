package models

import "time"

type DeliveryOutcome string

const (
	DeliveryQueued DeliveryOutcome = "queued"
	DeliverySent   DeliveryOutcome = "sent"
	DeliveryFailed DeliveryOutcome = "failed"
)

type DeliveryErrorCode string

const (
	DeliveryErrorNone         DeliveryErrorCode = ""
	DeliveryErrorTokenInvalid DeliveryErrorCode = "token_invalid"
	DeliveryErrorSendFailed   DeliveryErrorCode = "send_failed"
)

// DeliveryRecord is an append-only log row for one push attempt to one
// recipient. The gateway message id is attached after the send succeeds;
// nothing else is mutated after creation.
type DeliveryRecord struct {
	ID               string            `json:"id" db:"id"`
	TemplateID       int64             `json:"template_id" db:"template_id"`
	AccountID        string            `json:"account_id" db:"account_id"`
	PushToken        string            `json:"push_token" db:"push_token"`
	Language         Language          `json:"language" db:"language"`
	Title            string            `json:"title" db:"title"`
	Content          string            `json:"content" db:"content"`
	Outcome          DeliveryOutcome   `json:"outcome" db:"outcome"`
	ErrorCode        DeliveryErrorCode `json:"error_code,omitempty" db:"error_code"`
	GatewayMessageID *string           `json:"gateway_message_id,omitempty" db:"gateway_message_id"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}
