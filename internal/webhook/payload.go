package webhook

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nhle/cardflow/internal/model"
)

// cardPayload is the card snapshot carried in the default webhook
// body.
type cardPayload struct {
	ID       string  `json:"id"`
	Number   int64   `json:"number"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	BoardID  string  `json:"board_id"`
	ColumnID *string `json:"column_id"`
}

// eventPayload is the default JSON webhook body.
type eventPayload struct {
	Event struct {
		Action    model.Action `json:"action"`
		CreatedAt time.Time    `json:"created_at"`
		Card      cardPayload  `json:"card"`
	} `json:"event"`
}

// buildPayload renders the outgoing body and content type for the
// target URL. Most targets get the default JSON document; known chat
// integrations get the same event fields reshaped into the format the
// integration expects.
func buildPayload(target string, ev *model.Event, card *model.Card) ([]byte, string, error) {
	snapshot := cardPayload{}
	if card != nil {
		snapshot = cardPayload{
			ID:       card.ID,
			Number:   card.Number,
			Title:    card.Title,
			Status:   card.Status,
			BoardID:  card.BoardID,
			ColumnID: card.ColumnID,
		}
	}

	switch integration(target) {
	case integrationSlack:
		body, err := json.Marshal(map[string]string{"text": summaryMarkdown(ev, card)})
		return body, "application/json", err

	case integrationDiscord:
		body, err := json.Marshal(map[string]string{"content": summaryMarkdown(ev, card)})
		return body, "application/json", err

	case integrationCampfire:
		return []byte(summaryHTML(ev, card)), "text/html", nil

	case integrationIFTTT:
		values := url.Values{}
		values.Set("value1", string(ev.Action))
		values.Set("value2", snapshot.Title)
		values.Set("value3", fmt.Sprintf("#%d", snapshot.Number))
		return []byte(values.Encode()), "application/x-www-form-urlencoded", nil

	default:
		payload := eventPayload{}
		payload.Event.Action = ev.Action
		payload.Event.CreatedAt = ev.CreatedAt
		payload.Event.Card = snapshot
		body, err := json.Marshal(payload)
		return body, "application/json", err
	}
}

type integrationKind int

const (
	integrationNone integrationKind = iota
	integrationSlack
	integrationDiscord
	integrationCampfire
	integrationIFTTT
)

// integration classifies a target URL against the known
// chat-integration patterns.
func integration(target string) integrationKind {
	u, err := url.Parse(target)
	if err != nil {
		return integrationNone
	}
	host := strings.ToLower(u.Hostname())
	path := u.Path

	switch {
	case host == "hooks.slack.com" || host == "chat.googleapis.com":
		return integrationSlack
	case (host == "discord.com" || host == "discordapp.com") &&
		strings.HasPrefix(path, "/api/webhooks/"):
		return integrationDiscord
	case strings.HasSuffix(host, ".campfirenow.com"),
		strings.Contains(path, "/rooms/") && strings.HasSuffix(path, "/lines"):
		return integrationCampfire
	case host == "maker.ifttt.com" && strings.HasPrefix(path, "/trigger/"):
		return integrationIFTTT
	default:
		return integrationNone
	}
}

// summaryMarkdown is the one-line markdown rendering of an event for
// text-based chat integrations.
func summaryMarkdown(ev *model.Event, card *model.Card) string {
	if card == nil {
		return fmt.Sprintf("*%s* by %s", ev.Action, ev.Actor)
	}
	return fmt.Sprintf("*%s* on card #%d “%s” by %s",
		ev.Action, card.Number, card.Title, ev.Actor)
}

// summaryHTML is the HTML snippet rendering for Campfire-style rooms.
func summaryHTML(ev *model.Event, card *model.Card) string {
	if card == nil {
		return fmt.Sprintf("<b>%s</b> by %s", ev.Action, ev.Actor)
	}
	return fmt.Sprintf("<b>%s</b> on card #%d &ldquo;%s&rdquo; by %s",
		ev.Action, card.Number, card.Title, ev.Actor)
}
