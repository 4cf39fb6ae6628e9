package sqlite

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

CREATE TABLE IF NOT EXISTS notifications (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL UNIQUE,
	subject      TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	sender_id    TEXT,
	payload      TEXT NOT NULL DEFAULT '{}',
	channels     TEXT NOT NULL DEFAULT '[]',
	created_at   INTEGER NOT NULL,
	read_at      INTEGER
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_notifications_unread
	ON notifications(recipient_id, created_at DESC, seq DESC)
	WHERE read_at IS NULL;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
