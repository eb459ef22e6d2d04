package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/cardflow/internal/model"
)

func TestComposeBundleMessage(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	bundle := model.NotificationBundle{
		ID:        "bundle-1",
		TenantID:  "acct-1",
		Recipient: "bob",
		StartsAt:  start,
		EndsAt:    start.Add(30 * time.Minute),
		Status:    model.BundleStatusProcessing,
	}
	actor := "alice"
	notifications := []model.Notification{
		{
			Recipient: "bob",
			Actor:     &actor,
			Source:    model.NotificationSourceEvent,
			SourceID:  "ev-1",
			CreatedAt: start.Add(5 * time.Minute),
		},
		{
			Recipient: "bob",
			Source:    model.NotificationSourceMention,
			SourceID:  "mention-1",
			CreatedAt: start.Add(12 * time.Minute),
		},
	}

	body, err := composeBundleMessage(
		"cardflow@example.com", "bob@example.com", bundle, notifications,
	)
	require.NoError(t, err)

	msg := string(body)
	assert.Contains(t, msg, "From: <cardflow@example.com>")
	assert.Contains(t, msg, "To: <bob@example.com>")
	assert.Contains(t, msg, "Subject: 2 unread notifications")
	assert.Contains(t, msg, "You have 2 unread notifications")
	assert.Contains(t, msg, "event activity from alice")
	assert.Contains(t, msg, "mention activity from someone")
}
