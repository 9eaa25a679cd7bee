package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/courierhq/courier/internal/domain"
)

const telegramBaseURL = "https://api.telegram.org"

type Telegram struct {
	client  *http.Client
	baseURL string
}

func NewTelegram(client *http.Client) *Telegram {
	return &Telegram{client: client, baseURL: telegramBaseURL}
}

// NewTelegramWithBaseURL is used by tests to point at a stub server.
func NewTelegramWithBaseURL(client *http.Client, baseURL string) *Telegram {
	return &Telegram{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (t *Telegram) Platform() domain.Platform { return domain.PlatformTelegram }

type telegramSendReq struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
	Result struct {
		MessageID int64 `json:"message_id"`
		Date      int64 `json:"date"`
	} `json:"result"`
}

func (t *Telegram) Send(ctx context.Context, accessToken, chatID string, payload domain.Payload) (SentAck, error) {
	req := telegramSendReq{ChatID: chatID, Text: payload.Text}
	switch payload.Format {
	case domain.FormatMarkdown:
		req.ParseMode = "Markdown"
	case domain.FormatHTML:
		req.ParseMode = "HTML"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return SentAck{}, apiErr("encode request: "+err.Error(), false)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, accessToken)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SentAck{}, apiErr("build request: "+err.Error(), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return SentAck{}, networkErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SentAck{}, networkErr(err)
	}

	var tr telegramResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return SentAck{}, apiErr(fmt.Sprintf("telegram: unparseable response (%d)", resp.StatusCode), resp.StatusCode >= 500)
	}

	if !tr.OK {
		return SentAck{}, t.mapError(resp.StatusCode, &tr)
	}

	ts := time.Unix(tr.Result.Date, 0).UTC()
	if tr.Result.Date == 0 {
		ts = time.Now().UTC()
	}
	return SentAck{
		PlatformMessageID: strconv.FormatInt(tr.Result.MessageID, 10),
		Timestamp:         ts,
	}, nil
}

func (t *Telegram) mapError(status int, tr *telegramResponse) *SendError {
	desc := tr.Description
	lower := strings.ToLower(desc)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return authErr("telegram: " + desc)
	case status == http.StatusTooManyRequests:
		return rateLimitErr("telegram: "+desc, time.Duration(tr.Parameters.RetryAfter)*time.Second)
	case strings.Contains(lower, "chat not found"), strings.Contains(lower, "user not found"):
		return invalidChatIDErr(desc)
	case strings.Contains(lower, "message is too long"):
		return tooLongErr()
	case status >= 500:
		return apiErr(fmt.Sprintf("telegram: %d %s", status, desc), true)
	default:
		return apiErr(fmt.Sprintf("telegram: %d %s", status, desc), false)
	}
}

// ValidateChatID accepts a numeric chat id (possibly negative for groups) or
// an @username of word characters.
func (t *Telegram) ValidateChatID(chatID string) bool {
	if chatID == "" {
		return false
	}
	if strings.HasPrefix(chatID, "@") {
		name := chatID[1:]
		if name == "" {
			return false
		}
		for _, c := range name {
			if !isWordChar(c) {
				return false
			}
		}
		return true
	}
	_, err := strconv.ParseInt(chatID, 10, 64)
	return err == nil
}

func isWordChar(c rune) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
