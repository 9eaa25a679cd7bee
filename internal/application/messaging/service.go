// Package messaging holds the caller-facing use cases: accepting sends,
// reading status and history, manual retries and token registration.
package messaging

import (
	"context"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/courierhq/courier/internal/domain"
)

const MaxBatchSize = 20

type Config struct {
	MaxAttempts int
}

type Service struct {
	store      Store
	tokens     TokenStore
	queue      Queue
	validators ChatValidator
	clock      Clock
	cfg        Config
}

func New(store Store, tokens TokenStore, queue Queue, validators ChatValidator, clock Clock, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Service{
		store:      store,
		tokens:     tokens,
		queue:      queue,
		validators: validators,
		clock:      clock,
		cfg:        cfg,
	}
}

type PayloadInput struct {
	Kind   string
	Text   string
	Format string
}

type SendCmd struct {
	UserID       uuid.UUID
	Payload      PayloadInput
	Destinations []domain.DestinationInput
	RequestedBy  domain.RequestedBy
}

type DestinationAck struct {
	DestinationID uuid.UUID
	Platform      domain.Platform
	ChatID        string
}

type SendResult struct {
	MessageID    uuid.UUID
	Destinations []DestinationAck
}

// Send validates the request, persists the message with all destinations in
// one transaction, then fans out one queue event per destination in input
// order. A destination whose publish fails stays Pending; the sweeper picks
// it up later, so the caller still gets a success response.
func (s *Service) Send(ctx context.Context, cmd SendCmd) (SendResult, error) {
	payload, err := buildPayload(cmd.Payload)
	if err != nil {
		return SendResult{}, err
	}
	if !cmd.RequestedBy.Valid() {
		return SendResult{}, domain.ErrValidation("requested_by must be user or system")
	}

	now := s.clock.Now()
	msg, dests, err := domain.NewMessage(cmd.UserID, payload, cmd.Destinations, now)
	if err != nil {
		return SendResult{}, err
	}

	for _, d := range dests {
		if s.validators != nil && !s.validators.ValidateChatID(d.Platform, d.ChatID) {
			return SendResult{}, domain.ErrValidationMeta("invalid chat id", map[string]string{
				"platform": string(d.Platform),
				"chat_id":  d.ChatID,
			})
		}
	}

	// Every referenced platform needs a usable credential before anything is
	// persisted.
	seen := map[domain.Platform]bool{}
	for _, d := range dests {
		if seen[d.Platform] {
			continue
		}
		seen[d.Platform] = true
		if _, err := s.tokens.FindActiveToken(ctx, cmd.UserID, d.Platform); err != nil {
			return SendResult{}, err
		}
	}

	if err := s.store.SaveMessageWithDestinations(ctx, msg, dests); err != nil {
		return SendResult{}, err
	}

	byID := make(map[uuid.UUID]*domain.Destination, len(dests))
	for _, d := range dests {
		byID[d.ID] = d
	}

	_, queued := domain.RouteMessage(msg, dests, now)
	for _, ev := range queued {
		dest := byID[ev.DestinationID]
		item := domain.QueueItem{
			MessageID:     ev.MessageID,
			DestinationID: ev.DestinationID,
			Platform:      ev.Platform,
			AttemptNumber: dest.AttemptCount + 1,
			MaxAttempts:   s.cfg.MaxAttempts,
			RequestedBy:   cmd.RequestedBy,
		}
		if err := s.queue.Publish(ctx, item); err != nil {
			zlog.Warn().Err(err).
				Str("destination_id", ev.DestinationID.String()).
				Msg("queue publish failed, destination left pending")
			continue
		}
		if err := s.markQueued(ctx, dest); err != nil {
			zlog.Warn().Err(err).
				Str("destination_id", ev.DestinationID.String()).
				Msg("could not record queued transition")
		}
	}

	acks := make([]DestinationAck, 0, len(dests))
	for _, d := range dests {
		acks = append(acks, DestinationAck{DestinationID: d.ID, Platform: d.Platform, ChatID: d.ChatID})
	}
	return SendResult{MessageID: msg.ID, Destinations: acks}, nil
}

// SendBatch runs up to MaxBatchSize sends sequentially. Each item is atomic
// on its own; an invalid item aborts the rest.
func (s *Service) SendBatch(ctx context.Context, cmds []SendCmd) ([]SendResult, error) {
	if len(cmds) == 0 {
		return nil, domain.ErrValidation("batch must not be empty")
	}
	if len(cmds) > MaxBatchSize {
		return nil, domain.ErrValidationMeta("batch too large", map[string]string{"max": "20"})
	}
	results := make([]SendResult, 0, len(cmds))
	for _, cmd := range cmds {
		res, err := s.Send(ctx, cmd)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Service) markQueued(ctx context.Context, dest *domain.Destination) error {
	if err := dest.MarkQueued(); err != nil {
		return err
	}
	return s.store.UpdateDestination(ctx, dest)
}

func buildPayload(in PayloadInput) (domain.Payload, error) {
	switch domain.PayloadKind(in.Kind) {
	case domain.PayloadPlain:
		return domain.NewPlainPayload(in.Text)
	case domain.PayloadFormatted:
		return domain.NewFormattedPayload(in.Text, domain.TextFormat(in.Format))
	default:
		return domain.Payload{}, domain.ErrValidationMeta("unknown payload kind", map[string]string{"kind": in.Kind})
	}
}

// MessageDetail is the status read model: the message plus the live state of
// each destination. A message has no aggregate status; it is derived from
// destinations by the caller.
type MessageDetail struct {
	Message      *domain.Message
	Destinations []*domain.Destination
}

func (s *Service) GetMessage(ctx context.Context, messageID, userID uuid.UUID) (MessageDetail, error) {
	msg, dests, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return MessageDetail{}, err
	}
	if msg.UserID != userID {
		return MessageDetail{}, domain.ErrForbidden("message belongs to another user")
	}
	return MessageDetail{Message: msg, Destinations: dests}, nil
}

type MessagePage struct {
	Items      []MessageDetail
	HasMore    bool
	NextOffset int
}

func (s *Service) ListMessages(ctx context.Context, userID uuid.UUID, limit, offset int) (MessagePage, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	msgs, hasMore, err := s.store.ListMessagesByUser(ctx, userID, limit, offset)
	if err != nil {
		return MessagePage{}, err
	}
	items := make([]MessageDetail, 0, len(msgs))
	for _, m := range msgs {
		_, dests, err := s.store.GetMessage(ctx, m.ID)
		if err != nil {
			return MessagePage{}, err
		}
		items = append(items, MessageDetail{Message: m, Destinations: dests})
	}
	page := MessagePage{Items: items, HasMore: hasMore}
	if hasMore {
		page.NextOffset = offset + len(items)
	}
	return page, nil
}

func (s *Service) GetAttempts(ctx context.Context, messageID, userID uuid.UUID) ([]domain.Attempt, error) {
	msg, _, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.UserID != userID {
		return nil, domain.ErrForbidden("message belongs to another user")
	}
	return s.store.GetAttempts(ctx, messageID)
}
