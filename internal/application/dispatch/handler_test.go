package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierhq/courier/internal/adapters"
	"github.com/courierhq/courier/internal/domain"
)

// --- Mocks & Helpers ---

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type memStore struct {
	mu           sync.Mutex
	messages     map[uuid.UUID]*domain.Message
	destinations map[uuid.UUID]*domain.Destination
	attempts     []domain.Attempt
	conflictOnce bool
}

func newMemStore() *memStore {
	return &memStore{
		messages:     map[uuid.UUID]*domain.Message{},
		destinations: map[uuid.UUID]*domain.Destination{},
	}
}

func (m *memStore) GetDestination(ctx context.Context, id uuid.UUID) (*domain.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.destinations[id]
	if !ok {
		return nil, domain.ErrNotFound("destination not found")
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) GetMessage(ctx context.Context, id uuid.UUID) (*domain.Message, []*domain.Destination, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, nil, domain.ErrNotFound("message not found")
	}
	var dests []*domain.Destination
	for _, d := range m.destinations {
		if d.MessageID == id {
			cp := *d
			dests = append(dests, &cp)
		}
	}
	return msg, dests, nil
}

// UpdateDestination mirrors the store's compare-and-swap: the write only
// lands when the caller still holds the stored updated_at, and a successful
// write moves the token forward.
func (m *memStore) UpdateDestination(ctx context.Context, d *domain.Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflictOnce {
		m.conflictOnce = false
		return domain.ErrConflict("destination was updated concurrently")
	}
	cur, ok := m.destinations[d.ID]
	if !ok || !cur.UpdatedAt.Equal(d.UpdatedAt) {
		return domain.ErrConflict("destination was updated concurrently")
	}
	cp := *d
	cp.UpdatedAt = cur.UpdatedAt.Add(time.Millisecond)
	m.destinations[d.ID] = &cp
	d.UpdatedAt = cp.UpdatedAt
	return nil
}

func (m *memStore) LogAttempt(ctx context.Context, a domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memStore) attemptStatuses() []domain.DeliveryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DeliveryStatus, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a.Status)
	}
	return out
}

type memTokens struct {
	tokens map[domain.Platform]*domain.PlatformToken
}

func (m *memTokens) FindActiveToken(ctx context.Context, userID uuid.UUID, platform domain.Platform) (*domain.PlatformToken, error) {
	t, ok := m.tokens[platform]
	if !ok {
		return nil, domain.ErrNoActiveToken(platform)
	}
	return t, nil
}

type memDelayed struct {
	mu    sync.Mutex
	items []domain.QueueItem
	whens []time.Time
}

func (m *memDelayed) PublishDelayed(ctx context.Context, item domain.QueueItem, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	m.whens = append(m.whens, at)
	return nil
}

type scriptedAdapter struct {
	platform domain.Platform
	calls    int
	script   []error
	lastText string
}

func (a *scriptedAdapter) Platform() domain.Platform { return a.platform }

func (a *scriptedAdapter) Send(ctx context.Context, accessToken, chatID string, payload domain.Payload) (adapters.SentAck, error) {
	a.lastText = payload.Text
	var err error
	if a.calls < len(a.script) {
		err = a.script[a.calls]
	}
	a.calls++
	if err != nil {
		return adapters.SentAck{}, err
	}
	return adapters.SentAck{PlatformMessageID: "ext-1"}, nil
}

func (a *scriptedAdapter) ValidateChatID(chatID string) bool { return true }

type fixture struct {
	store   *memStore
	tokens  *memTokens
	delayed *memDelayed
	adapter *scriptedAdapter
	clock   *fakeClock
	handler *Handler
	msg     *domain.Message
	dest    *domain.Destination
}

func newFixture(t *testing.T, script ...error) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := newMemStore()

	payload, err := domain.NewPlainPayload("hello")
	require.NoError(t, err)
	msg, dests, err := domain.NewMessage(uuid.New(), payload, []domain.DestinationInput{
		{Platform: domain.PlatformTelegram, ChatID: "42"},
	}, clock.Now())
	require.NoError(t, err)
	dest := dests[0]
	require.NoError(t, dest.MarkQueued())

	store.messages[msg.ID] = msg
	cp := *dest
	store.destinations[dest.ID] = &cp

	token, err := domain.NewPlatformToken(msg.UserID, domain.PlatformTelegram, "tg-token", nil, clock.Now())
	require.NoError(t, err)
	tokens := &memTokens{tokens: map[domain.Platform]*domain.PlatformToken{domain.PlatformTelegram: token}}

	delayed := &memDelayed{}
	adapter := &scriptedAdapter{platform: domain.PlatformTelegram, script: script}
	registry := adapters.NewRegistry(adapter)
	scheduler := NewRetryScheduler(delayed, clock, 60*time.Second, 4, 3)
	handler := NewHandler(store, tokens, registry, scheduler, clock, 5*time.Second, 3)

	return &fixture{
		store: store, tokens: tokens, delayed: delayed, adapter: adapter,
		clock: clock, handler: handler, msg: msg, dest: dest,
	}
}

func (f *fixture) item() domain.QueueItem {
	return domain.QueueItem{
		MessageID:     f.msg.ID,
		DestinationID: f.dest.ID,
		Platform:      f.dest.Platform,
		AttemptNumber: 1,
		MaxAttempts:   3,
		RequestedBy:   domain.RequestedByUser,
	}
}

func (f *fixture) currentDest(t *testing.T) *domain.Destination {
	t.Helper()
	d, err := f.store.GetDestination(context.Background(), f.dest.ID)
	require.NoError(t, err)
	return d
}

// --- Tests ---

func TestHandleSuccess(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.handler.Handle(context.Background(), f.item()))

	d := f.currentDest(t)
	assert.Equal(t, domain.StatusSent, d.Status)
	assert.Equal(t, 1, d.AttemptCount)
	require.NotNil(t, d.SentAt)
	assert.Equal(t, 1, f.adapter.calls)
	assert.Equal(t, []domain.DeliveryStatus{domain.StatusInFlight, domain.StatusSent}, f.store.attemptStatuses())
}

func TestHandleCompletesAgainstConditionalStore(t *testing.T) {
	// The fake store enforces the same compare-and-swap the SQL update does,
	// so a handler that corrupts its own concurrency token between load and
	// write would lose every update and never reach the adapter.
	f := newFixture(t)
	loadedToken := f.currentDest(t).UpdatedAt

	require.NoError(t, f.handler.Handle(context.Background(), f.item()))

	d := f.currentDest(t)
	assert.Equal(t, domain.StatusSent, d.Status)
	assert.Equal(t, 1, f.adapter.calls)
	assert.Len(t, f.store.attempts, 2)
	// two conditional writes landed, each advancing the token
	assert.True(t, d.UpdatedAt.After(loadedToken))
}

func TestHandleNetworkErrorThenSuccess(t *testing.T) {
	f := newFixture(t, &adapters.SendError{Kind: adapters.ErrNetwork, Message: "dial timeout", Retryable: true})

	require.NoError(t, f.handler.Handle(context.Background(), f.item()))

	d := f.currentDest(t)
	assert.Equal(t, domain.StatusRetrying, d.Status)
	assert.Equal(t, 1, d.AttemptCount)
	assert.Equal(t, "network: dial timeout", d.StatusReason)

	// backoff for the second attempt is base*2^1 = 120s, with ±10% jitter
	require.Len(t, f.delayed.items, 1)
	assert.Equal(t, 2, f.delayed.items[0].AttemptNumber)
	delay := f.delayed.whens[0].Sub(f.clock.Now())
	assert.InDelta(t, float64(2*time.Minute), float64(delay), float64(12*time.Second))

	// redelivery after the delay succeeds
	require.NoError(t, f.handler.Handle(context.Background(), f.delayed.items[0]))
	d = f.currentDest(t)
	assert.Equal(t, domain.StatusSent, d.Status)
	assert.Equal(t, 2, d.AttemptCount)
	assert.Equal(t, []domain.DeliveryStatus{
		domain.StatusInFlight, domain.StatusRetrying,
		domain.StatusInFlight, domain.StatusSent,
	}, f.store.attemptStatuses())
}

func TestHandleNonRetryableError(t *testing.T) {
	f := newFixture(t, &adapters.SendError{Kind: adapters.ErrInvalidChatID, Message: "chat not found", Retryable: false})

	require.NoError(t, f.handler.Handle(context.Background(), f.item()))

	d := f.currentDest(t)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Equal(t, 1, d.AttemptCount)
	assert.Empty(t, f.delayed.items)
	assert.Equal(t, []domain.DeliveryStatus{domain.StatusInFlight, domain.StatusFailed}, f.store.attemptStatuses())
}

func TestHandleExhaustsAttemptBudget(t *testing.T) {
	netErr := &adapters.SendError{Kind: adapters.ErrNetwork, Message: "dial timeout", Retryable: true}
	f := newFixture(t, netErr, netErr, netErr)

	item := f.item()
	require.NoError(t, f.handler.Handle(context.Background(), item))
	require.Len(t, f.delayed.items, 1)
	require.NoError(t, f.handler.Handle(context.Background(), f.delayed.items[0]))
	require.Len(t, f.delayed.items, 2)
	require.NoError(t, f.handler.Handle(context.Background(), f.delayed.items[1]))

	d := f.currentDest(t)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Equal(t, 3, d.AttemptCount)
	// no fourth attempt was scheduled
	assert.Len(t, f.delayed.items, 2)
	assert.Len(t, f.store.attempts, 6)
}

func TestHandleNoActiveToken(t *testing.T) {
	f := newFixture(t)
	delete(f.tokens.tokens, domain.PlatformTelegram)

	require.NoError(t, f.handler.Handle(context.Background(), f.item()))

	d := f.currentDest(t)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Equal(t, "no active token", d.StatusReason)
	assert.Equal(t, 0, f.adapter.calls)
	assert.Equal(t, []domain.DeliveryStatus{domain.StatusFailed}, f.store.attemptStatuses())
}

func TestHandleTerminalDestinationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.handler.Handle(context.Background(), f.item()))
	require.Equal(t, 1, f.adapter.calls)

	// broker redelivers the same item
	require.NoError(t, f.handler.Handle(context.Background(), f.item()))
	assert.Equal(t, 1, f.adapter.calls)
	assert.Len(t, f.store.attempts, 2)
}

func TestHandleUnknownDestinationAcks(t *testing.T) {
	f := newFixture(t)
	item := f.item()
	item.DestinationID = uuid.New()

	assert.NoError(t, f.handler.Handle(context.Background(), item))
	assert.Equal(t, 0, f.adapter.calls)
}

func TestHandleConcurrentUpdateLosesAndAcks(t *testing.T) {
	f := newFixture(t)
	f.store.conflictOnce = true

	require.NoError(t, f.handler.Handle(context.Background(), f.item()))

	// the losing worker made no adapter call and logged nothing
	d := f.currentDest(t)
	assert.Equal(t, domain.StatusQueued, d.Status)
	assert.Equal(t, 0, f.adapter.calls)
	assert.Empty(t, f.store.attempts)
}

func TestHandleUnknownErrorRetriesOnce(t *testing.T) {
	f := newFixture(t, opaqueErr{}, opaqueErr{})

	require.NoError(t, f.handler.Handle(context.Background(), f.item()))
	d := f.currentDest(t)
	assert.Equal(t, domain.StatusRetrying, d.Status)
	require.Len(t, f.delayed.items, 1)

	// second unknown failure is terminal
	require.NoError(t, f.handler.Handle(context.Background(), f.delayed.items[0]))
	d = f.currentDest(t)
	assert.Equal(t, domain.StatusFailed, d.Status)
	assert.Equal(t, 2, d.AttemptCount)
}

type opaqueErr struct{}

func (opaqueErr) Error() string { return "boom" }
