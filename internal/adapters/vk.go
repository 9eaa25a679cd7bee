package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/courierhq/courier/internal/domain"
)

const (
	vkBaseURL    = "https://api.vk.com"
	vkAPIVersion = "5.199"
)

// VK error codes, see dev.vk.com/reference/errors.
const (
	vkErrAuth           = 5
	vkErrTooMany        = 6
	vkErrFlood          = 9
	vkErrInternal       = 10
	vkErrCantSend       = 901
	vkErrNoAccessToChat = 917
	vkErrTooLong        = 914
)

type VK struct {
	client  *http.Client
	baseURL string
}

func NewVK(client *http.Client) *VK {
	return &VK{client: client, baseURL: vkBaseURL}
}

func NewVKWithBaseURL(client *http.Client, baseURL string) *VK {
	return &VK{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (v *VK) Platform() domain.Platform { return domain.PlatformVK }

type vkResponse struct {
	Response json.Number `json:"response"`
	Error    *struct {
		Code    int    `json:"error_code"`
		Message string `json:"error_msg"`
	} `json:"error"`
}

func (v *VK) Send(ctx context.Context, accessToken, chatID string, payload domain.Payload) (SentAck, error) {
	// VK renders neither markdown nor HTML; formatted payloads are flattened
	// to plain text before sending.
	text := payload.Text
	switch payload.Format {
	case domain.FormatMarkdown:
		text = stripMarkdown(text)
	case domain.FormatHTML:
		text = stripHTML(text)
	}

	form := url.Values{}
	form.Set("peer_id", chatID)
	form.Set("message", text)
	form.Set("random_id", strconv.FormatInt(time.Now().UnixNano(), 10))
	form.Set("access_token", accessToken)
	form.Set("v", vkAPIVersion)

	endpoint := v.baseURL + "/method/messages.send"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return SentAck{}, apiErr("build request: "+err.Error(), false)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return SentAck{}, networkErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SentAck{}, networkErr(err)
	}
	if resp.StatusCode >= 500 {
		return SentAck{}, apiErr(fmt.Sprintf("vk: http %d", resp.StatusCode), true)
	}

	var vr vkResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return SentAck{}, apiErr("vk: unparseable response", false)
	}
	if vr.Error != nil {
		return SentAck{}, v.mapError(vr.Error.Code, vr.Error.Message)
	}

	return SentAck{
		PlatformMessageID: vr.Response.String(),
		Timestamp:         time.Now().UTC(),
	}, nil
}

func (v *VK) mapError(code int, msg string) *SendError {
	tagged := fmt.Sprintf("vk: %d %s", code, msg)
	switch code {
	case vkErrAuth:
		return authErr(tagged)
	case vkErrTooMany, vkErrFlood:
		return rateLimitErr(tagged, 0)
	case vkErrInternal:
		return apiErr(tagged, true)
	case vkErrTooLong:
		return tooLongErr()
	case vkErrCantSend, vkErrNoAccessToChat:
		return invalidChatIDErr(tagged)
	default:
		return apiErr(tagged, false)
	}
}

// ValidateChatID accepts any non-zero numeric peer id. Negative ids address
// group and community chats; whether the peer actually exists is only known
// at send time.
func (v *VK) ValidateChatID(chatID string) bool {
	id, err := strconv.ParseInt(chatID, 10, 64)
	return err == nil && id != 0
}

func stripMarkdown(text string) string {
	r := strings.NewReplacer("```", "", "**", "", "*", "", "`", "", "__", "", "_", "")
	return r.Replace(text)
}

func stripHTML(text string) string {
	var b strings.Builder
	inTag := false
	for _, c := range text {
		switch {
		case c == '<':
			inTag = true
		case c == '>':
			inTag = false
		case !inTag:
			b.WriteRune(c)
		}
	}
	return b.String()
}
