// Package webhook delivers committed events to configured outbound
// endpoints. Every attempt is SSRF-guarded, HMAC-signed, and bounded
// in time and response size; failures feed a per-webhook delinquency
// tracker that deactivates endpoints failing persistently. There are
// no retries: resilience is deactivation, not re-sending.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nhle/cardflow/internal/model"
	"github.com/nhle/cardflow/internal/store"
)

// Signature and timestamp header names attached to every delivery.
const (
	SignatureHeader = "X-Cardflow-Signature"
	TimestampHeader = "X-Cardflow-Timestamp"
)

// DefaultTimeout bounds one delivery attempt end to end.
const DefaultTimeout = 7 * time.Second

// DefaultMaxResponseBytes caps how much of a response body is read
// and captured.
const DefaultMaxResponseBytes = 100 * 1024

// DeliveryError describes a failed delivery attempt. It is recorded
// on the delivery row and never surfaces to the transition that
// produced the event.
type DeliveryError struct {
	WebhookID string
	// Ssrf marks rejections made before any socket was opened.
	Ssrf bool
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Ssrf {
		return fmt.Sprintf("webhook %s: ssrf rejected: %v", e.WebhookID, e.Err)
	}
	return fmt.Sprintf("webhook %s: delivery failed: %v", e.WebhookID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsSsrfRejected reports whether err is a delivery failure caused by
// the SSRF guard.
func IsSsrfRejected(err error) bool {
	var target *DeliveryError
	return errors.As(err, &target) && target.Ssrf
}

// Dispatcher fans committed events out to matching webhooks.
type Dispatcher struct {
	store    store.Store
	client   *http.Client
	resolver *net.Resolver
	logger   *slog.Logger

	timeout          time.Duration
	maxResponseBytes int64
	now              func() time.Time

	// checkTarget is the SSRF guard, replaceable in tests.
	checkTarget func(ctx context.Context, resolver *net.Resolver, rawURL string) error
}

// NewDispatcher creates a Dispatcher with the given delivery timeout
// and response cap; zero values select the defaults.
func NewDispatcher(s store.Store, timeout time.Duration, maxResponseBytes int64, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = DefaultMaxResponseBytes
	}
	return &Dispatcher{
		store:            s,
		client:           &http.Client{Timeout: timeout},
		resolver:         net.DefaultResolver,
		logger:           logger,
		timeout:          timeout,
		maxResponseBytes: maxResponseBytes,
		now:              func() time.Time { return time.Now().UTC() },
		checkTarget:      checkTargetURL,
	}
}

// Name identifies the dispatcher on the event log.
func (d *Dispatcher) Name() string { return "webhook-dispatcher" }

// HandleEvent delivers one committed event to every matching webhook.
// Per-webhook failures are recorded and logged; they never propagate.
// Re-delivery of an already-handled event attempts nothing new.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev *model.Event) error {
	hooks, err := d.store.MatchingWebhooks(ctx, ev.TenantID, ev.BoardID, ev.Action)
	if err != nil {
		return fmt.Errorf("matching webhooks for event %s: %w", ev.ID, err)
	}
	if len(hooks) == 0 {
		return nil
	}

	card, err := d.subjectCard(ctx, ev)
	if err != nil {
		return err
	}

	for _, hook := range hooks {
		if err := d.attempt(ctx, hook, ev, card); err != nil {
			d.logger.Error("webhook delivery failed",
				"webhook", hook.ID,
				"event", ev.ID,
				"error", err,
			)
		}
	}
	return nil
}

// subjectCard loads the card an event is about, when it is about one.
func (d *Dispatcher) subjectCard(ctx context.Context, ev *model.Event) (*model.Card, error) {
	cardID := ""
	switch ev.Subject.Kind {
	case model.SubjectCard:
		cardID = ev.Subject.ID
	default:
		cardID, _ = ev.Metadata[model.MetaCardID].(string)
	}
	if cardID == "" {
		return nil, nil
	}

	card, err := d.store.GetCard(ctx, ev.TenantID, cardID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading card for event %s: %w", ev.ID, err)
	}
	return card, nil
}

// attempt performs the single delivery attempt for one webhook.
func (d *Dispatcher) attempt(ctx context.Context, hook model.Webhook, ev *model.Event, card *model.Card) error {
	existing, err := d.store.DeliveryForEvent(ctx, hook.ID, ev.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	body, contentType, err := buildPayload(hook.URL, ev, card)
	if err != nil {
		return fmt.Errorf("building payload: %w", err)
	}

	delivery := &model.WebhookDelivery{
		WebhookID:   hook.ID,
		EventID:     ev.ID,
		State:       model.DeliveryStatePending,
		RequestBody: string(body),
		CreatedAt:   d.now(),
	}
	if err := d.store.CreateDelivery(ctx, delivery); err != nil {
		return err
	}

	delivery.State = model.DeliveryStateInProgress
	if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	// The SSRF guard runs on every attempt, before any socket opens.
	if err := d.checkTarget(attemptCtx, d.resolver, hook.URL); err != nil {
		return d.fail(ctx, delivery, hook, &DeliveryError{
			WebhookID: hook.ID, Ssrf: true, Err: err,
		})
	}

	sendTime := d.now()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return d.fail(ctx, delivery, hook, &DeliveryError{WebhookID: hook.ID, Err: err})
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", "cardflow-webhooks/1.0")
	req.Header.Set(SignatureHeader, Sign(hook.Secret, body))
	req.Header.Set(TimestampHeader, strconv.FormatInt(sendTime.Unix(), 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return d.fail(ctx, delivery, hook, &DeliveryError{WebhookID: hook.ID, Err: err})
	}
	defer resp.Body.Close()

	// Read at most the cap; anything beyond is discarded.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseBytes))
	if err != nil {
		respBody = append(respBody, []byte("(truncated: read error)")...)
	}

	status := resp.StatusCode
	delivery.ResponseStatus = &status
	delivery.ResponseBody = string(respBody)

	if status < 200 || status >= 300 {
		return d.fail(ctx, delivery, hook, &DeliveryError{
			WebhookID: hook.ID,
			Err:       fmt.Errorf("unexpected status %d", status),
		})
	}

	completed := d.now()
	delivery.State = model.DeliveryStateCompleted
	delivery.CompletedAt = &completed
	if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
		return err
	}

	return d.store.ResetDelinquency(ctx, hook.ID)
}

// fail records the errored delivery and bumps the webhook's
// delinquency, deactivating it when the streak crosses the limit.
func (d *Dispatcher) fail(ctx context.Context, delivery *model.WebhookDelivery, hook model.Webhook, cause *DeliveryError) error {
	now := d.now()
	delivery.State = model.DeliveryStateErrored
	delivery.Error = cause.Error()
	delivery.CompletedAt = &now

	if err := d.store.UpdateDelivery(ctx, delivery); err != nil {
		return err
	}

	deactivated, err := d.store.RecordWebhookFailure(ctx, hook.ID, now)
	if err != nil {
		return err
	}
	if deactivated {
		d.logger.Warn("webhook deactivated after repeated failures",
			"webhook", hook.ID, "url", hook.URL)
	}

	return cause
}

// Sign computes the hex HMAC-SHA256 of body under secret, the value
// carried in the signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
