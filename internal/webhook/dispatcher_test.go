package webhook

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/store"
	"github.com/nhle/cardflow/tests/testutil"
)

// allowAnyTarget stands in for the SSRF guard when the test target is
// a local httptest server.
func allowAnyTarget(context.Context, *net.Resolver, string) error { return nil }

func newTestDispatcher(t *testing.T) (*Dispatcher, store.Store) {
	t.Helper()

	s := testutil.NewTestStore(t)
	return NewDispatcher(s, 0, 0, slog.New(slog.DiscardHandler)), s
}

func seedCardEvent(t *testing.T, s store.Store) (*model.Card, *model.Event) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	card := &model.Card{
		TenantID:     "acct-1",
		BoardID:      "board-1",
		Status:       model.CardStatusPublished,
		Title:        "Rotate the signing keys",
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, s.CreateCard(ctx, card))

	ev, err := s.AppendEvent(ctx, &model.Event{
		TenantID:  "acct-1",
		BoardID:   "board-1",
		Actor:     "alice",
		Action:    model.ActionCardPublished,
		Subject:   model.Subject{Kind: model.SubjectCard, ID: card.ID},
		CreatedAt: now,
	})
	require.NoError(t, err)
	return card, ev
}

func seedWebhook(t *testing.T, s store.Store, url string, actions ...model.Action) *model.Webhook {
	t.Helper()

	if len(actions) == 0 {
		actions = []model.Action{model.ActionCardPublished}
	}
	now := time.Now().UTC()
	hook := &model.Webhook{
		TenantID:  "acct-1",
		BoardID:   "board-1",
		URL:       url,
		Secret:    "s3cret",
		Actions:   actions,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateWebhook(context.Background(), hook))
	return hook
}

// receivedRequest is one capture from the test endpoint.
type receivedRequest struct {
	body      []byte
	signature string
	timestamp string
	userAgent string
}

func captureServer(status int) (*httptest.Server, func() []receivedRequest) {
	var (
		mu       sync.Mutex
		received []receivedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = append(received, receivedRequest{
			body:      body,
			signature: r.Header.Get(SignatureHeader),
			timestamp: r.Header.Get(TimestampHeader),
			userAgent: r.Header.Get("User-Agent"),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	return server, func() []receivedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]receivedRequest, len(received))
		copy(out, received)
		return out
	}
}

func TestLoopbackTargetRejectedBeforeAnyRequest(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()

	_, ev := seedCardEvent(t, s)
	hook := seedWebhook(t, s, "http://127.0.0.1:9/hook")

	require.NoError(t, d.HandleEvent(ctx, ev))

	deliveries, err := s.DeliveriesForWebhook(ctx, hook.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryStateErrored, deliveries[0].State)
	assert.Contains(t, deliveries[0].Error, "ssrf rejected")
	assert.Nil(t, deliveries[0].ResponseStatus, "no request was made")

	tracker, err := s.GetDelinquency(ctx, hook.ID)
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.Equal(t, 1, tracker.ConsecutiveFailures)
}

func TestPrivateRangeTargetsRejected(t *testing.T) {
	targets := []string{
		"http://10.0.0.8/hook",
		"http://192.168.1.20/hook",
		"http://169.254.169.254/latest/meta-data",
		"http://100.64.0.1/hook",
		"http://[fd12::1]/hook",
		"ftp://example.com/hook",
	}
	for _, target := range targets {
		err := checkTargetURL(context.Background(), net.DefaultResolver, target)
		assert.Error(t, err, target)
	}
}

func TestSuccessfulDeliveryIsSignedAndRecorded(t *testing.T) {
	d, s := newTestDispatcher(t)
	d.checkTarget = allowAnyTarget
	ctx := context.Background()

	server, received := captureServer(http.StatusOK)
	defer server.Close()

	_, ev := seedCardEvent(t, s)
	hook := seedWebhook(t, s, server.URL)

	require.NoError(t, d.HandleEvent(ctx, ev))

	got := received()
	require.Len(t, got, 1)
	assert.Equal(t, Sign(hook.Secret, got[0].body), got[0].signature)
	assert.Equal(t, "cardflow-webhooks/1.0", got[0].userAgent)

	sentAt, err := strconv.ParseInt(got[0].timestamp, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Unix(), sentAt, 5)

	deliveries, err := s.DeliveriesForWebhook(ctx, hook.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryStateCompleted, deliveries[0].State)
	require.NotNil(t, deliveries[0].ResponseStatus)
	assert.Equal(t, http.StatusOK, *deliveries[0].ResponseStatus)
	assert.JSONEq(t, string(got[0].body), deliveries[0].RequestBody)
}

func TestRedeliveryAttemptsNothingNew(t *testing.T) {
	d, s := newTestDispatcher(t)
	d.checkTarget = allowAnyTarget
	ctx := context.Background()

	server, received := captureServer(http.StatusOK)
	defer server.Close()

	_, ev := seedCardEvent(t, s)
	seedWebhook(t, s, server.URL)

	require.NoError(t, d.HandleEvent(ctx, ev))
	require.NoError(t, d.HandleEvent(ctx, ev))

	assert.Len(t, received(), 1)
}

func TestNon2xxResponseIsErrored(t *testing.T) {
	d, s := newTestDispatcher(t)
	d.checkTarget = allowAnyTarget
	ctx := context.Background()

	server, _ := captureServer(http.StatusInternalServerError)
	defer server.Close()

	_, ev := seedCardEvent(t, s)
	hook := seedWebhook(t, s, server.URL)

	require.NoError(t, d.HandleEvent(ctx, ev))

	deliveries, err := s.DeliveriesForWebhook(ctx, hook.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryStateErrored, deliveries[0].State)
	require.NotNil(t, deliveries[0].ResponseStatus)
	assert.Equal(t, http.StatusInternalServerError, *deliveries[0].ResponseStatus)

	tracker, err := s.GetDelinquency(ctx, hook.ID)
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.Equal(t, 1, tracker.ConsecutiveFailures)
}

func TestSuccessResetsDelinquency(t *testing.T) {
	d, s := newTestDispatcher(t)
	d.checkTarget = allowAnyTarget
	ctx := context.Background()

	server, _ := captureServer(http.StatusNoContent)
	defer server.Close()

	_, ev := seedCardEvent(t, s)
	hook := seedWebhook(t, s, server.URL)

	_, err := s.RecordWebhookFailure(ctx, hook.ID, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, d.HandleEvent(ctx, ev))

	tracker, err := s.GetDelinquency(ctx, hook.ID)
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.Zero(t, tracker.ConsecutiveFailures)
	assert.Nil(t, tracker.FirstFailureAt)
}

func TestUnsubscribedActionIsNotDelivered(t *testing.T) {
	d, s := newTestDispatcher(t)
	d.checkTarget = allowAnyTarget
	ctx := context.Background()

	server, received := captureServer(http.StatusOK)
	defer server.Close()

	_, ev := seedCardEvent(t, s)
	seedWebhook(t, s, server.URL, model.ActionCardClosed)

	require.NoError(t, d.HandleEvent(ctx, ev))
	assert.Empty(t, received())
}

func TestRapidFailureStreakDeactivatesWebhook(t *testing.T) {
	_, s := newTestDispatcher(t)
	ctx := context.Background()

	hook := seedWebhook(t, s, "http://example.com/hook")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < model.DelinquencyLimit-1; i++ {
		deactivated, err := s.RecordWebhookFailure(ctx, hook.ID, base.Add(time.Duration(i)*6*time.Minute))
		require.NoError(t, err)
		assert.False(t, deactivated)
	}

	// Tenth failure, 59 minutes into the streak.
	deactivated, err := s.RecordWebhookFailure(ctx, hook.ID, base.Add(59*time.Minute))
	require.NoError(t, err)
	assert.True(t, deactivated)

	got, err := s.GetWebhook(ctx, "acct-1", hook.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	// The deactivated webhook no longer matches anything.
	matched, err := s.MatchingWebhooks(ctx, "acct-1", "board-1", model.ActionCardPublished)
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestStaleStreakRestartsCount(t *testing.T) {
	_, s := newTestDispatcher(t)
	ctx := context.Background()

	hook := seedWebhook(t, s, "http://example.com/hook")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 9; i++ {
		_, err := s.RecordWebhookFailure(ctx, hook.ID, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	// The next failure lands two hours later: the streak is stale and
	// restarts instead of crossing the limit.
	deactivated, err := s.RecordWebhookFailure(ctx, hook.ID, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, deactivated)

	tracker, err := s.GetDelinquency(ctx, hook.ID)
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.Equal(t, 1, tracker.ConsecutiveFailures)

	got, err := s.GetWebhook(ctx, "acct-1", hook.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestSlowFailuresNeverDeactivate(t *testing.T) {
	_, s := newTestDispatcher(t)
	ctx := context.Background()

	hook := seedWebhook(t, s, "http://example.com/hook")

	// Twenty failures spread over a day, each restarting the streak.
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		deactivated, err := s.RecordWebhookFailure(ctx, hook.ID, base.Add(time.Duration(i)*70*time.Minute))
		require.NoError(t, err)
		assert.False(t, deactivated)
	}

	got, err := s.GetWebhook(ctx, "acct-1", hook.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}
