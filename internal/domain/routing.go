package domain

import "time"

// RouteMessage is the pure routing step: one MessageCreated marker plus one
// MessageQueued event per destination, in input order.
func RouteMessage(msg *Message, dests []*Destination, now time.Time) (MessageCreated, []MessageQueued) {
	t := now.UTC()

	inputs := make([]DestinationInput, 0, len(dests))
	for _, d := range dests {
		inputs = append(inputs, DestinationInput{Platform: d.Platform, ChatID: d.ChatID})
	}
	created := MessageCreated{
		MessageID:    msg.ID,
		Destinations: inputs,
		OccurredAt:   t,
	}

	queued := make([]MessageQueued, 0, len(dests))
	for _, d := range dests {
		queued = append(queued, MessageQueued{
			MessageID:     msg.ID,
			DestinationID: d.ID,
			Platform:      d.Platform,
			OccurredAt:    t,
		})
	}
	return created, queued
}

// RetryDelay computes the backoff before the next automatic attempt after
// `attempts` completed attempts: base * 2^min(attempts, doublingCap).
// With base=60s and cap=4 the schedule is 2, 4, 8, 16, 16, ... minutes.
// Shared by the dispatcher and the retry scheduler so there is exactly one
// definition.
func RetryDelay(attempts int, base time.Duration, doublingCap int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	n := attempts
	if n > doublingCap {
		n = doublingCap
	}
	return base << uint(n)
}
