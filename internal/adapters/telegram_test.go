package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierhq/courier/internal/domain"
)

func telegramStub(t *testing.T, status int, body string, capture *telegramSendReq) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestTelegramSend(t *testing.T) {
	ctx := context.Background()

	t.Run("success_returns_platform_message_id", func(t *testing.T) {
		var got telegramSendReq
		srv := telegramStub(t, http.StatusOK, `{"ok":true,"result":{"message_id":777,"date":1717243200}}`, &got)
		defer srv.Close()

		tg := NewTelegramWithBaseURL(srv.Client(), srv.URL)
		payload, _ := domain.NewPlainPayload("hello")
		ack, err := tg.Send(ctx, "TOKEN", "42", payload)
		require.NoError(t, err)
		assert.Equal(t, "777", ack.PlatformMessageID)
		assert.Equal(t, "42", got.ChatID)
		assert.Equal(t, "hello", got.Text)
		assert.Empty(t, got.ParseMode)
	})

	t.Run("markdown_sets_parse_mode", func(t *testing.T) {
		var got telegramSendReq
		srv := telegramStub(t, http.StatusOK, `{"ok":true,"result":{"message_id":1,"date":1}}`, &got)
		defer srv.Close()

		tg := NewTelegramWithBaseURL(srv.Client(), srv.URL)
		payload, _ := domain.NewFormattedPayload("*hi*", domain.FormatMarkdown)
		_, err := tg.Send(ctx, "TOKEN", "42", payload)
		require.NoError(t, err)
		assert.Equal(t, "Markdown", got.ParseMode)
	})

	t.Run("rate_limit_carries_retry_after", func(t *testing.T) {
		srv := telegramStub(t, http.StatusTooManyRequests, `{"ok":false,"description":"Too Many Requests: retry after 17","parameters":{"retry_after":17}}`, nil)
		defer srv.Close()

		tg := NewTelegramWithBaseURL(srv.Client(), srv.URL)
		payload, _ := domain.NewPlainPayload("hi")
		_, err := tg.Send(ctx, "TOKEN", "42", payload)
		var se *SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrRateLimit, se.Kind)
		assert.True(t, se.Retryable)
		assert.Equal(t, 17*time.Second, se.RetryAfter)
	})

	t.Run("chat_not_found_is_invalid_chat_id", func(t *testing.T) {
		srv := telegramStub(t, http.StatusBadRequest, `{"ok":false,"description":"Bad Request: chat not found"}`, nil)
		defer srv.Close()

		tg := NewTelegramWithBaseURL(srv.Client(), srv.URL)
		payload, _ := domain.NewPlainPayload("hi")
		_, err := tg.Send(ctx, "TOKEN", "42", payload)
		var se *SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrInvalidChatID, se.Kind)
		assert.False(t, se.Retryable)
	})

	t.Run("unauthorized_is_auth_error", func(t *testing.T) {
		srv := telegramStub(t, http.StatusUnauthorized, `{"ok":false,"description":"Unauthorized"}`, nil)
		defer srv.Close()

		tg := NewTelegramWithBaseURL(srv.Client(), srv.URL)
		payload, _ := domain.NewPlainPayload("hi")
		_, err := tg.Send(ctx, "TOKEN", "42", payload)
		var se *SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrAuth, se.Kind)
		assert.False(t, se.Retryable)
	})

	t.Run("server_error_is_retryable", func(t *testing.T) {
		srv := telegramStub(t, http.StatusBadGateway, `{"ok":false,"description":"Bad Gateway"}`, nil)
		defer srv.Close()

		tg := NewTelegramWithBaseURL(srv.Client(), srv.URL)
		payload, _ := domain.NewPlainPayload("hi")
		_, err := tg.Send(ctx, "TOKEN", "42", payload)
		var se *SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrAPI, se.Kind)
		assert.True(t, se.Retryable)
	})

	t.Run("connection_failure_is_network_error", func(t *testing.T) {
		srv := telegramStub(t, http.StatusOK, `{}`, nil)
		srv.Close()

		tg := NewTelegramWithBaseURL(&http.Client{Timeout: time.Second}, srv.URL)
		payload, _ := domain.NewPlainPayload("hi")
		_, err := tg.Send(ctx, "TOKEN", "42", payload)
		var se *SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ErrNetwork, se.Kind)
		assert.True(t, se.Retryable)
	})
}

func TestTelegramValidateChatID(t *testing.T) {
	tg := NewTelegram(http.DefaultClient)

	assert.True(t, tg.ValidateChatID("123456"))
	assert.True(t, tg.ValidateChatID("-1001234567890"))
	assert.True(t, tg.ValidateChatID("@some_channel"))
	assert.False(t, tg.ValidateChatID(""))
	assert.False(t, tg.ValidateChatID("@"))
	assert.False(t, tg.ValidateChatID("@bad name"))
	assert.False(t, tg.ValidateChatID("12.5"))
	assert.False(t, tg.ValidateChatID("abc"))
}
