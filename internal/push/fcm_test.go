package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pushboard/pushboard-api/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fcmServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *FCMGateway) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway := NewFCMGateway(config.FCMConfig{
		Enabled:   true,
		Endpoint:  server.URL,
		ServerKey: "test-key",
		Timeout:   time.Second,
	}, zerolog.Nop())
	return server, gateway
}

func TestFCMSendSuccess(t *testing.T) {
	var captured fcmRequest
	_, gateway := fcmServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": 1,
			"results": []map[string]string{{"message_id": "0:123"}},
		})
	})

	messageID, err := gateway.Send(context.Background(), "token-1", Payload{
		Title:   "News",
		Body:    "Fresh",
		LinkURL: "https://example.com/promo",
	})
	require.NoError(t, err)
	assert.Equal(t, "0:123", messageID)
	assert.Equal(t, "token-1", captured.To)
	assert.Equal(t, "https://example.com/promo", captured.Data["link"])
}

func TestFCMSendNotRegistered(t *testing.T) {
	_, gateway := fcmServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": 0,
			"results": []map[string]string{{"error": "NotRegistered"}},
		})
	})

	_, err := gateway.Send(context.Background(), "stale-token", Payload{Title: "News"})
	require.Error(t, err)
	assert.True(t, IsTokenInvalid(err))
}

func TestFCMSendServerError(t *testing.T) {
	_, gateway := fcmServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := gateway.Send(context.Background(), "token-1", Payload{Title: "News"})
	require.Error(t, err)
	assert.False(t, IsTokenInvalid(err))
}

func TestFCMSendBadRequestMeansInvalidToken(t *testing.T) {
	_, gateway := fcmServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := gateway.Send(context.Background(), "garbage", Payload{Title: "News"})
	require.Error(t, err)
	assert.True(t, IsTokenInvalid(err))
}

func TestFCMDisabledMocksSend(t *testing.T) {
	gateway := NewFCMGateway(config.FCMConfig{Enabled: false}, zerolog.Nop())

	messageID, err := gateway.Send(context.Background(), "token-1", Payload{Title: "News"})
	require.NoError(t, err)
	assert.Equal(t, "mock", messageID)
}
