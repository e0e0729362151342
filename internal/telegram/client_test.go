package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "market-alerts/internal/errors"
)

const testToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

func newTestServer(t *testing.T, handler func(method string, body map[string]interface{}) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		status, resp := handler(strings.TrimPrefix(r.URL.Path, prefix), body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_SendMessage(t *testing.T) {
	t.Parallel()

	var got map[string]interface{}
	srv := newTestServer(t, func(method string, body map[string]interface{}) (int, string) {
		assert.Equal(t, "sendMessage", method)
		got = body
		return http.StatusOK, `{"ok":true,"result":{"message_id":1}}`
	})

	c := NewClient(srv.URL, testToken, srv.Client(), zerolog.Nop())
	require.NoError(t, c.SendMessage(context.Background(), "555", "<b>hi</b>"))
	assert.Equal(t, "555", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestClient_GetUpdates(t *testing.T) {
	t.Parallel()

	var got map[string]interface{}
	srv := newTestServer(t, func(method string, body map[string]interface{}) (int, string) {
		assert.Equal(t, "getUpdates", method)
		got = body
		return http.StatusOK, `{"ok":true,"result":[
			{"update_id":10,"message":{"message_id":1,"chat":{"id":777,"type":"private"},"text":"/start ABC123"}},
			{"update_id":11}
		]}`
	})

	c := NewClient(srv.URL, testToken, srv.Client(), zerolog.Nop())
	updates, err := c.GetUpdates(context.Background(), 10, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, updates, 2)

	assert.Equal(t, float64(10), got["offset"])
	assert.Equal(t, float64(2), got["timeout"])
	assert.Equal(t, "777", updates[0].ChatID())
	assert.Equal(t, "/start ABC123", updates[0].Text())
	assert.Equal(t, "", updates[1].ChatID())
	assert.Equal(t, "", updates[1].Text())

	// offset 0 is omitted so the provider picks its default
	_, err = c.GetUpdates(context.Background(), 0, time.Second)
	require.NoError(t, err)
	_, present := got["offset"]
	assert.False(t, present)
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(string, map[string]interface{}) (int, string) {
		return http.StatusUnauthorized, `{"ok":false,"error_code":401,"description":"Unauthorized"}`
	})

	c := NewClient(srv.URL, testToken, srv.Client(), zerolog.Nop())
	_, err := c.GetMe(context.Background())

	var apiErr *apperrors.BotAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Code)
	assert.Equal(t, "getMe", apiErr.Method)
	assert.Equal(t, apperrors.KindTransient, apperrors.KindOf(err))
}

func TestClient_GetMe(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, func(method string, _ map[string]interface{}) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"id":42,"is_bot":true,"username":"market_alerts_bot"}}`
	})

	c := NewClient(srv.URL, testToken, srv.Client(), zerolog.Nop())
	me, err := c.GetMe(context.Background())
	require.NoError(t, err)
	assert.True(t, me.IsBot)
	assert.Equal(t, "market_alerts_bot", me.Username)
}

func TestClient_TransportErrorHidesToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, testToken, &http.Client{Timeout: time.Second}, zerolog.Nop())
	err := c.SendMessage(context.Background(), "1", "x")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testToken)
}
