package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/pushboard/pushboard-api/internal/config"
	"github.com/rs/zerolog"
)

// FCMGateway sends pushes through the FCM HTTP API. When disabled in the
// configuration it logs the payload and reports success, which keeps local
// environments working without Firebase credentials.
type FCMGateway struct {
	enabled   bool
	endpoint  string
	serverKey string
	client    *http.Client
	logger    zerolog.Logger
}

func NewFCMGateway(cfg config.FCMConfig, logger zerolog.Logger) *FCMGateway {
	enabled := cfg.Enabled && cfg.ServerKey != ""
	return &FCMGateway{
		enabled:   enabled,
		endpoint:  cfg.Endpoint,
		serverKey: cfg.ServerKey,
		client:    &http.Client{Timeout: cfg.Timeout},
		logger:    logger.With().Str("gateway", "fcm").Logger(),
	}
}

type fcmRequest struct {
	To           string            `json:"to"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type fcmResponse struct {
	MessageID int64  `json:"message_id"`
	Success   int    `json:"success"`
	Results   []struct {
		MessageID string `json:"message_id"`
		Error     string `json:"error"`
	} `json:"results"`
}

func (g *FCMGateway) Send(ctx context.Context, token string, payload Payload) (string, error) {
	if !g.enabled {
		g.logger.Info().
			Str("title", payload.Title).
			Msg("push dispatched (mock)")
		return "mock", nil
	}

	data := payload.Data
	if payload.LinkURL != "" {
		if data == nil {
			data = map[string]string{}
		}
		data["link"] = payload.LinkURL
	}

	body, err := json.Marshal(fcmRequest{
		To: token,
		Notification: fcmNotification{
			Title: payload.Title,
			Body:  payload.Body,
			Image: payload.ImageURL,
		},
		Data: data,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal fcm request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build fcm request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+g.serverKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &SendError{Code: CodeSendFailed, Reason: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to the result body
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusNotFound:
		return "", &SendError{Code: CodeTokenInvalid, Reason: resp.Status}
	default:
		return "", &SendError{Code: CodeSendFailed, Reason: resp.Status}
	}

	var parsed fcmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", errors.Wrap(err, "decode fcm response")
	}

	if len(parsed.Results) > 0 {
		result := parsed.Results[0]
		switch result.Error {
		case "":
			if result.MessageID != "" {
				return result.MessageID, nil
			}
		case "NotRegistered", "InvalidRegistration", "MissingRegistration":
			return "", &SendError{Code: CodeTokenInvalid, Reason: result.Error}
		default:
			return "", &SendError{Code: CodeSendFailed, Reason: result.Error}
		}
	}

	if parsed.Success > 0 {
		return fmt.Sprintf("%d", parsed.MessageID), nil
	}
	return "", &SendError{Code: CodeSendFailed, Reason: "no successful result in response"}
}

func (g *FCMGateway) String() string {
	if !g.enabled {
		return "FCMGateway(disabled)"
	}
	return fmt.Sprintf("FCMGateway(endpoint=%s)", g.endpoint)
}
