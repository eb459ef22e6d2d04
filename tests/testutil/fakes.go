package testutil

import (
	"context"
	"sync"

	"github.com/nhle/cardflow/internal/model"
)

// FakeDirectory is an in-memory Directory collaborator for tests.
type FakeDirectory struct {
	// Watchers maps board id to watcher user ids.
	Watchers map[string][]string

	// CardWatcherIDs maps card id to watcher user ids.
	CardWatcherIDs map[string][]string

	// Prefs maps user id to notification preferences.
	Prefs map[string]model.RecipientPrefs

	// Columns maps "boardID/name" to a column id.
	Columns map[string]string

	// ColumnNames maps column id to its display name.
	ColumnNames map[string]string

	// BoardNames maps board id to its display name.
	BoardNames map[string]string
}

// NewFakeDirectory returns an empty directory ready to populate.
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		Watchers:       make(map[string][]string),
		CardWatcherIDs: make(map[string][]string),
		Prefs:          make(map[string]model.RecipientPrefs),
		Columns:        make(map[string]string),
		ColumnNames:    make(map[string]string),
		BoardNames:     make(map[string]string),
	}
}

func (d *FakeDirectory) BoardWatchers(_ context.Context, _, boardID string) ([]string, error) {
	return d.Watchers[boardID], nil
}

func (d *FakeDirectory) CardWatchers(_ context.Context, _, cardID string) ([]string, error) {
	return d.CardWatcherIDs[cardID], nil
}

func (d *FakeDirectory) RecipientPrefs(_ context.Context, _, userID string) (model.RecipientPrefs, error) {
	return d.Prefs[userID], nil
}

func (d *FakeDirectory) ColumnNamed(_ context.Context, _, boardID, name string) (string, error) {
	return d.Columns[boardID+"/"+name], nil
}

func (d *FakeDirectory) ColumnName(_ context.Context, _, columnID string) (string, error) {
	return d.ColumnNames[columnID], nil
}

func (d *FakeDirectory) BoardName(_ context.Context, _, boardID string) (string, error) {
	return d.BoardNames[boardID], nil
}

// FakeAccess records board access grants.
type FakeAccess struct {
	mu     sync.Mutex
	Grants map[string][]string // board id -> user ids
}

// NewFakeAccess returns an empty access granter.
func NewFakeAccess() *FakeAccess {
	return &FakeAccess{Grants: make(map[string][]string)}
}

func (a *FakeAccess) GrantBoardAccess(_ context.Context, _, boardID string, userIDs []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Grants[boardID] = append(a.Grants[boardID], userIDs...)
	return nil
}

// SentBundle is one recorded fake email send.
type SentBundle struct {
	To            string
	Bundle        model.NotificationBundle
	Notifications []model.Notification
}

// FakeMailer records bundle sends instead of talking SMTP. It
// satisfies notify.Mailer.
type FakeMailer struct {
	mu   sync.Mutex
	Sent []SentBundle

	// Err, when set, is returned from every send.
	Err error
}

func (m *FakeMailer) SendBundle(
	_ context.Context,
	to string,
	bundle model.NotificationBundle,
	notifications []model.Notification,
) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, SentBundle{To: to, Bundle: bundle, Notifications: notifications})
	return nil
}

// SentCount returns how many bundles have been sent.
func (m *FakeMailer) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}
