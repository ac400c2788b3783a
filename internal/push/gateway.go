package push

import (
	"context"
	"errors"
	"fmt"
)

// Payload is the rendered notification handed to the gateway for one device.
type Payload struct {
	Title    string
	Body     string
	ImageURL string
	LinkURL  string
	Data     map[string]string
}

// Gateway delivers one payload to one device token and returns the
// provider's message id on success.
type Gateway interface {
	Send(ctx context.Context, token string, payload Payload) (string, error)
}

type ErrorCode string

const (
	CodeTokenInvalid ErrorCode = "token_invalid"
	CodeSendFailed   ErrorCode = "send_failed"
)

// SendError carries the provider failure classification. Invalid-token
// failures are permanent for the device registration; everything else is
// treated as a transient send failure.
type SendError struct {
	Code   ErrorCode
	Reason string
}

func (e *SendError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("push send failed (%s)", e.Code)
	}
	return fmt.Sprintf("push send failed (%s): %s", e.Code, e.Reason)
}

func (e *SendError) TokenInvalid() bool {
	return e.Code == CodeTokenInvalid
}

// IsTokenInvalid reports whether the error marks the device token as dead.
func IsTokenInvalid(err error) bool {
	var sendErr *SendError
	return errors.As(err, &sendErr) && sendErr.TokenInvalid()
}
