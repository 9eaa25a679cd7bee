package dto

import (
	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/application/messaging"
	"github.com/courierhq/courier/internal/domain"
)

func ToSendResp(res messaging.SendResult) SendResp {
	acks := make([]DestinationAckResp, 0, len(res.Destinations))
	for _, a := range res.Destinations {
		acks = append(acks, DestinationAckResp{
			DestinationID: a.DestinationID.String(),
			Platform:      string(a.Platform),
			ChatID:        a.ChatID,
		})
	}
	return SendResp{MessageID: res.MessageID.String(), Destinations: acks}
}

func ToMessageResp(detail messaging.MessageDetail) MessageResp {
	msg := detail.Message
	dests := make([]DestinationResp, 0, len(detail.Destinations))
	for _, d := range detail.Destinations {
		dests = append(dests, ToDestinationResp(d))
	}
	resp := MessageResp{
		ID: msg.ID.String(),
		Payload: PayloadResp{
			Kind: string(msg.Payload.Kind),
			Text: msg.Payload.Text,
		},
		Destinations: dests,
		CreatedAt:    msg.CreatedAt,
	}
	if msg.Payload.Kind == domain.PayloadFormatted {
		resp.Payload.Format = string(msg.Payload.Format)
	}
	return resp
}

func ToDestinationResp(d *domain.Destination) DestinationResp {
	return DestinationResp{
		ID:            d.ID.String(),
		Platform:      string(d.Platform),
		ChatID:        d.ChatID,
		Status:        string(d.Status),
		StatusReason:  d.StatusReason,
		AttemptCount:  d.AttemptCount,
		LastAttemptAt: d.LastAttemptAt,
		SentAt:        d.SentAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

func ToMessagePageResp(page messaging.MessagePage) MessagePageResp {
	items := make([]MessageResp, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, ToMessageResp(it))
	}
	return MessagePageResp{Items: items, HasMore: page.HasMore, NextOffset: page.NextOffset}
}

func ToAttemptResps(attempts []domain.Attempt) []AttemptResp {
	out := make([]AttemptResp, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, AttemptResp{
			ID:            a.ID.String(),
			DestinationID: a.DestinationID.String(),
			AttemptNumber: a.AttemptNumber,
			Status:        string(a.Status),
			StatusReason:  a.StatusReason,
			RequestedBy:   string(a.RequestedBy),
			CreatedAt:     a.CreatedAt,
		})
	}
	return out
}

func ToRetryResp(res messaging.RetryResult) RetryResp {
	ids := make([]string, 0, len(res.Destinations))
	for _, id := range res.Destinations {
		ids = append(ids, id.String())
	}
	return RetryResp{MessageID: res.MessageID.String(), Destinations: ids}
}

func ToTokenResp(t *domain.PlatformToken) TokenResp {
	return TokenResp{
		ID:        t.ID.String(),
		Platform:  string(t.Platform),
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func ToTokenResps(tokens []*domain.PlatformToken) []TokenResp {
	out := make([]TokenResp, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, ToTokenResp(t))
	}
	return out
}

func ToSendCmd(userID uuid.UUID, req SendMessageReq) messaging.SendCmd {
	dests := make([]domain.DestinationInput, 0, len(req.Destinations))
	for _, d := range req.Destinations {
		dests = append(dests, domain.DestinationInput{
			Platform: domain.Platform(d.Platform),
			ChatID:   d.ChatID,
		})
	}
	return messaging.SendCmd{
		UserID: userID,
		Payload: messaging.PayloadInput{
			Kind:   req.Payload.Kind,
			Text:   req.Payload.Text,
			Format: req.Payload.Format,
		},
		Destinations: dests,
		RequestedBy:  domain.RequestedByUser,
	}
}
