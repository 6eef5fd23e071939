package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    document_type TEXT NOT NULL,
    child_name TEXT NOT NULL,
    child_age INTEGER NOT NULL,
    child_gender TEXT NOT NULL,
    content TEXT NOT NULL,
    extracted TEXT NOT NULL,
    prediction TEXT NOT NULL,
    notified INTEGER NOT NULL DEFAULT 0,
    matched_keywords TEXT NOT NULL,
    created_by TEXT NOT NULL,
    last_edited_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);
CREATE INDEX IF NOT EXISTS idx_cases_prediction ON cases(prediction);
CREATE INDEX IF NOT EXISTS idx_cases_child ON cases(child_age, child_gender);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCases,
	}
}
