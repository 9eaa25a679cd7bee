package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/courierhq/courier/internal/domain"
)

const (
	maxBaseURL   = "https://api.max.ru"
	maxChatIDCap = 128
)

// Max talks to the MAX messenger API: JSON-RPC style POSTs with a bearer
// token and a {success, data, error} envelope.
type Max struct {
	client  *http.Client
	baseURL string
}

func NewMax(client *http.Client) *Max {
	return &Max{client: client, baseURL: maxBaseURL}
}

func NewMaxWithBaseURL(client *http.Client, baseURL string) *Max {
	return &Max{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (m *Max) Platform() domain.Platform { return domain.PlatformMax }

type maxSendReq struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	Format  string `json:"format,omitempty"`
}

type maxEnvelope struct {
	Success bool `json:"success"`
	Data    *struct {
		MessageID string    `json:"message_id"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (m *Max) Send(ctx context.Context, accessToken, chatID string, payload domain.Payload) (SentAck, error) {
	req := maxSendReq{ChatID: chatID, Content: payload.Text}
	if payload.Kind == domain.PayloadFormatted {
		req.Format = string(payload.Format)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return SentAck{}, apiErr("encode request: "+err.Error(), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/messages/send", bytes.NewReader(body))
	if err != nil {
		return SentAck{}, apiErr("build request: "+err.Error(), false)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return SentAck{}, networkErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SentAck{}, networkErr(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return SentAck{}, authErr("max: invalid access token")
	case resp.StatusCode == http.StatusTooManyRequests:
		return SentAck{}, rateLimitErr("max: rate limit exceeded", retryAfterHeader(resp))
	case resp.StatusCode >= 500:
		return SentAck{}, apiErr(fmt.Sprintf("max: http %d", resp.StatusCode), true)
	case resp.StatusCode >= 400:
		return SentAck{}, apiErr(fmt.Sprintf("max: http %d: %s", resp.StatusCode, string(raw)), false)
	}

	var env maxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return SentAck{}, apiErr("max: unparseable response", false)
	}
	if !env.Success || env.Data == nil {
		if env.Error != nil {
			return SentAck{}, m.mapError(env.Error.Code, env.Error.Message)
		}
		return SentAck{}, apiErr("max: unknown api error", false)
	}

	ts := env.Data.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return SentAck{PlatformMessageID: env.Data.MessageID, Timestamp: ts}, nil
}

func (m *Max) mapError(code, msg string) *SendError {
	tagged := fmt.Sprintf("max: %s: %s", code, msg)
	switch code {
	case "chat_not_found", "invalid_chat_id":
		return invalidChatIDErr(tagged)
	case "message_too_long":
		return tooLongErr()
	case "unauthorized", "token_expired":
		return authErr(tagged)
	case "rate_limited":
		return rateLimitErr(tagged, 0)
	case "internal_error", "service_unavailable":
		return apiErr(tagged, true)
	default:
		return apiErr(tagged, false)
	}
}

// ValidateChatID accepts any non-empty opaque id of printable characters up
// to 128 runes.
func (m *Max) ValidateChatID(chatID string) bool {
	if chatID == "" || utf8.RuneCountInString(chatID) > maxChatIDCap {
		return false
	}
	for _, c := range chatID {
		if c == ' ' || c == '\n' || c == '\t' {
			return false
		}
	}
	return true
}

func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v + "s")
	if err != nil {
		return 0
	}
	return d
}
