package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tenant_sequences (
	tenant_id   TEXT PRIMARY KEY,
	next_number INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS cards (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	board_id       TEXT NOT NULL,
	column_id      TEXT,
	status         TEXT NOT NULL DEFAULT 'drafted' CHECK(status IN ('drafted', 'published')),
	title          TEXT NOT NULL,
	due_on         DATETIME,
	number         INTEGER NOT NULL,
	last_active_at DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

	closed_by      TEXT,
	closed_at      DATETIME,
	postponed_by   TEXT,
	postponed_at   DATETIME,
	gilded_by      TEXT,
	gilded_at      DATETIME,
	spiked_at      DATETIME,

	-- closure and postponement are mutually exclusive
	CHECK (closed_at IS NULL OR postponed_at IS NULL),
	UNIQUE (tenant_id, number)
);

CREATE INDEX IF NOT EXISTS idx_cards_tenant ON cards(tenant_id);
CREATE INDEX IF NOT EXISTS idx_cards_board ON cards(tenant_id, board_id);
CREATE INDEX IF NOT EXISTS idx_cards_last_active ON cards(last_active_at);

CREATE TABLE IF NOT EXISTS card_assignees (
	card_id     TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
	user_id     TEXT NOT NULL,
	assigned_by TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (card_id, user_id)
);

CREATE TABLE IF NOT EXISTS events (
	id           TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	board_id     TEXT NOT NULL,
	actor        TEXT NOT NULL,
	action       TEXT NOT NULL,
	subject_kind TEXT NOT NULL CHECK(subject_kind IN ('card', 'comment', 'event', 'mention')),
	subject_id   TEXT NOT NULL,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_tenant ON events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject_kind, subject_id);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	recipient   TEXT NOT NULL,
	actor       TEXT,
	source_kind TEXT NOT NULL CHECK(source_kind IN ('event', 'mention')),
	source_id   TEXT NOT NULL,
	read_at     DATETIME,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (tenant_id, recipient, source_kind, source_id)
);

CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(tenant_id, recipient);
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(recipient, read_at);

CREATE TABLE IF NOT EXISTS notification_bundles (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	recipient  TEXT NOT NULL,
	starts_at  DATETIME NOT NULL,
	ends_at    DATETIME NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'processing', 'delivered')),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_bundles_recipient ON notification_bundles(tenant_id, recipient, ends_at);
CREATE INDEX IF NOT EXISTS idx_bundles_due ON notification_bundles(status, ends_at);

CREATE TABLE IF NOT EXISTS webhooks (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	board_id   TEXT NOT NULL,
	url        TEXT NOT NULL,
	secret     TEXT NOT NULL,
	actions    TEXT NOT NULL DEFAULT '[]',
	active     INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_webhooks_board ON webhooks(tenant_id, board_id, active);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id              TEXT PRIMARY KEY,
	webhook_id      TEXT NOT NULL REFERENCES webhooks(id) ON DELETE CASCADE,
	event_id        TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'pending' CHECK(state IN ('pending', 'in_progress', 'completed', 'errored')),
	request_body    TEXT NOT NULL DEFAULT '',
	response_status INTEGER,
	response_body   TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at    DATETIME
);

CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id);
CREATE INDEX IF NOT EXISTS idx_deliveries_event ON webhook_deliveries(event_id);

CREATE TABLE IF NOT EXISTS webhook_delinquencies (
	webhook_id           TEXT PRIMARY KEY REFERENCES webhooks(id) ON DELETE CASCADE,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	first_failure_at     DATETIME
);

CREATE TABLE IF NOT EXISTS entropy_settings (
	tenant_id  TEXT NOT NULL,
	scope      TEXT NOT NULL CHECK(scope IN ('account', 'board')),
	scope_id   TEXT NOT NULL,
	period_sec INTEGER NOT NULL,
	PRIMARY KEY (tenant_id, scope, scope_id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_cards_open
	ON cards(tenant_id, status, closed_at, postponed_at);

CREATE INDEX IF NOT EXISTS idx_notifications_source
	ON notifications(source_kind, source_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
