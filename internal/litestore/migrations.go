package litestore

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE notifications (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL,
	message             TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'unread'
	                    CHECK (status IN ('unread', 'read', 'archived')),
	data                TEXT NOT NULL DEFAULT '{}',
	recipient_user_id   TEXT,
	recipient_client_id TEXT,
	delivered_at        DATETIME,
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	CHECK ((recipient_user_id IS NOT NULL) <> (recipient_client_id IS NOT NULL))
);
CREATE INDEX idx_notifications_user_status ON notifications (recipient_user_id, status);
CREATE INDEX idx_notifications_client_status ON notifications (recipient_client_id, status);
CREATE INDEX idx_notifications_user_feed ON notifications (recipient_user_id, created_at DESC);
CREATE INDEX idx_notifications_client_feed ON notifications (recipient_client_id, created_at DESC);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE push_subscriptions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	endpoint    TEXT NOT NULL UNIQUE,
	p256dh      TEXT NOT NULL,
	auth        TEXT NOT NULL,
	user_agent  TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX idx_push_subscriptions_user ON push_subscriptions (user_id);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	role          TEXT NOT NULL DEFAULT 'MEMBER'
);
CREATE INDEX idx_users_role ON users (role);

CREATE TABLE tasks (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	status          TEXT NOT NULL,
	due_date        DATETIME,
	assigned_to_id  TEXT
);
CREATE INDEX idx_tasks_due_date ON tasks (due_date);
`,
	},
}
