// Package adapters holds the platform senders. Each adapter owns its
// platform's wire format, auth header shape and error mapping; callers only
// ever see SentAck and SendError.
package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/courierhq/courier/internal/domain"
)

// SentAck is the adapter's success result.
type SentAck struct {
	PlatformMessageID string
	Timestamp         time.Time
}

// ErrorKind classifies adapter failures. Retryability is decided here, not
// by the dispatcher.
type ErrorKind string

const (
	ErrNetwork        ErrorKind = "network"
	ErrRateLimit      ErrorKind = "rate_limit"
	ErrInvalidChatID  ErrorKind = "invalid_chat_id"
	ErrMessageTooLong ErrorKind = "message_too_long"
	ErrAuth           ErrorKind = "auth"
	ErrAPI            ErrorKind = "api"
	ErrUnknown        ErrorKind = "unknown"
)

type SendError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
	// RetryAfter is a broker hint from rate-limit responses; zero when the
	// platform did not provide one.
	RetryAfter time.Duration
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func networkErr(err error) *SendError {
	return &SendError{Kind: ErrNetwork, Message: err.Error(), Retryable: true}
}

func rateLimitErr(msg string, retryAfter time.Duration) *SendError {
	return &SendError{Kind: ErrRateLimit, Message: msg, Retryable: true, RetryAfter: retryAfter}
}

func invalidChatIDErr(chatID string) *SendError {
	return &SendError{Kind: ErrInvalidChatID, Message: "invalid chat id: " + chatID}
}

func tooLongErr() *SendError {
	return &SendError{Kind: ErrMessageTooLong, Message: "message too long"}
}

func authErr(msg string) *SendError {
	return &SendError{Kind: ErrAuth, Message: msg}
}

func apiErr(msg string, retryable bool) *SendError {
	return &SendError{Kind: ErrAPI, Message: msg, Retryable: retryable}
}

// Classify maps any error from Adapter.Send to (kind, retryable). Errors that
// are not SendError are treated as unknown and retryable; the dispatcher
// stops retrying those after the first failed retry.
func Classify(err error) (ErrorKind, bool) {
	if err == nil {
		return "", false
	}
	if se, ok := err.(*SendError); ok {
		return se.Kind, se.Retryable
	}
	return ErrUnknown, true
}

// Adapter sends one payload to one chat on one platform.
type Adapter interface {
	Platform() domain.Platform
	Send(ctx context.Context, accessToken, chatID string, payload domain.Payload) (SentAck, error)
	// ValidateChatID is a purely syntactic check; no network call.
	ValidateChatID(chatID string) bool
}

// Registry keys adapters by platform.
type Registry struct {
	byPlatform map[domain.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byPlatform: make(map[domain.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		r.byPlatform[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(p domain.Platform) (Adapter, bool) {
	a, ok := r.byPlatform[p]
	return a, ok
}

func (r *Registry) ValidateChatID(p domain.Platform, chatID string) bool {
	a, ok := r.byPlatform[p]
	if !ok {
		return false
	}
	return a.ValidateChatID(chatID)
}
