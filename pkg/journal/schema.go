// Package journal keeps a durable record of accepted policy configuration changes.
package journal

// Schema creates the changes table. Ids are ULIDs, so ordering by id is ordering by time.
const Schema = `
CREATE TABLE IF NOT EXISTS changes (
	id         TEXT PRIMARY KEY,
	feed       TEXT NOT NULL,
	field      TEXT NOT NULL,
	old_value  TEXT NOT NULL,
	new_value  TEXT NOT NULL,
	changed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_changes_feed ON changes (feed, id);
`
