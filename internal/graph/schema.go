package graph

import (
	"fmt"

	"github.com/meridian/newsgraph/internal/domain"
)

// schema is the single source of truth for the graph index layout.
// Node tables first, then relationship tables. The partial unique index on
// (group_id, content_hash) is the dedup serialization point: exactly one
// non-duplicate, non-deleted document per hash per group.
const schema = `
CREATE TABLE IF NOT EXISTS groups (
	group_id TEXT PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	reserved INTEGER NOT NULL DEFAULT 0,
	active   INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS tokens (
	token_id   TEXT PRIMARY KEY,
	groups     TEXT NOT NULL,
	issued_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	revoked    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sources (
	source_id   TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL DEFAULT '',
	region      TEXT NOT NULL DEFAULT '',
	languages   TEXT NOT NULL DEFAULT '[]',
	trust_level TEXT NOT NULL DEFAULT 'standard',
	active      INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS documents (
	document_id         TEXT PRIMARY KEY,
	version             INTEGER NOT NULL DEFAULT 1,
	previous_version_id TEXT,
	source_id           TEXT NOT NULL REFERENCES sources(source_id),
	group_id            TEXT NOT NULL REFERENCES groups(group_id),
	created_at          INTEGER NOT NULL,
	published_at        INTEGER,
	language            TEXT NOT NULL DEFAULT 'en',
	title               TEXT NOT NULL,
	word_count          INTEGER NOT NULL,
	content_hash        TEXT NOT NULL,
	story_fingerprint   TEXT NOT NULL DEFAULT '',
	duplicate_of        TEXT,
	duplicate_score     REAL,
	impact_score        REAL NOT NULL DEFAULT 0,
	impact_tier         TEXT NOT NULL DEFAULT 'STANDARD',
	summary             TEXT NOT NULL DEFAULT '',
	deleted             INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_hash_unique
	ON documents(group_id, content_hash)
	WHERE duplicate_of IS NULL AND deleted = 0;

CREATE INDEX IF NOT EXISTS idx_documents_fingerprint
	ON documents(group_id, story_fingerprint);

CREATE INDEX IF NOT EXISTS idx_documents_tier_created
	ON documents(impact_tier, created_at);

CREATE INDEX IF NOT EXISTS idx_documents_group_created
	ON documents(group_id, created_at);

CREATE TABLE IF NOT EXISTS instruments (
	instrument_id TEXT PRIMARY KEY,
	ticker        TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL DEFAULT 'STOCK',
	exchange      TEXT NOT NULL DEFAULT '',
	currency      TEXT NOT NULL DEFAULT '',
	company_id    TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_instruments_ticker ON instruments(ticker);

CREATE TABLE IF NOT EXISTS companies (
	company_id TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	sector     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS event_types (
	name            TEXT PRIMARY KEY,
	base_impact     REAL NOT NULL,
	default_tier    TEXT NOT NULL,
	decay_half_life REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS themes (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS aliases (
	scheme      TEXT NOT NULL,
	value       TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	entity_kind TEXT NOT NULL,
	PRIMARY KEY (scheme, value)
);

CREATE INDEX IF NOT EXISTS idx_aliases_value ON aliases(value);

CREATE TABLE IF NOT EXISTS clients (
	client_id        TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	client_type      TEXT NOT NULL DEFAULT 'INSTITUTIONAL',
	group_id         TEXT NOT NULL REFERENCES groups(group_id),
	alert_frequency  TEXT NOT NULL DEFAULT 'daily',
	impact_threshold REAL NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS client_profiles (
	client_id         TEXT PRIMARY KEY REFERENCES clients(client_id),
	mandate_type      TEXT NOT NULL DEFAULT '',
	mandate_text      TEXT NOT NULL DEFAULT '',
	mandate_text_hash TEXT NOT NULL DEFAULT '',
	mandate_themes    TEXT NOT NULL DEFAULT '[]',
	mandate_embedding BLOB,
	benchmark         TEXT NOT NULL DEFAULT '',
	horizon           TEXT NOT NULL DEFAULT '',
	esg_constrained   INTEGER NOT NULL DEFAULT 0,
	restrictions      TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS positions (
	client_id     TEXT NOT NULL REFERENCES clients(client_id),
	instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
	weight        REAL NOT NULL DEFAULT 0,
	shares        REAL NOT NULL DEFAULT 0,
	avg_cost      REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (client_id, instrument_id)
);

CREATE TABLE IF NOT EXISTS watchlist (
	client_id       TEXT NOT NULL REFERENCES clients(client_id),
	instrument_id   TEXT NOT NULL REFERENCES instruments(instrument_id),
	alert_threshold REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (client_id, instrument_id)
);

CREATE TABLE IF NOT EXISTS doc_affects (
	document_id    TEXT NOT NULL REFERENCES documents(document_id),
	instrument_id  TEXT NOT NULL REFERENCES instruments(instrument_id),
	direction      TEXT NOT NULL DEFAULT 'neutral',
	magnitude      REAL NOT NULL DEFAULT 0,
	confidence     REAL NOT NULL DEFAULT 0,
	regex_detected INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (document_id, instrument_id)
);

CREATE INDEX IF NOT EXISTS idx_doc_affects_instrument ON doc_affects(instrument_id);

CREATE TABLE IF NOT EXISTS doc_events (
	document_id TEXT NOT NULL REFERENCES documents(document_id),
	event_type  TEXT NOT NULL REFERENCES event_types(name),
	confidence  REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (document_id, event_type)
);

CREATE TABLE IF NOT EXISTS doc_mentions (
	document_id TEXT NOT NULL REFERENCES documents(document_id),
	company_id  TEXT NOT NULL REFERENCES companies(company_id),
	PRIMARY KEY (document_id, company_id)
);

CREATE INDEX IF NOT EXISTS idx_doc_mentions_company ON doc_mentions(company_id);

CREATE TABLE IF NOT EXISTS doc_themes (
	document_id TEXT NOT NULL REFERENCES documents(document_id),
	theme       TEXT NOT NULL REFERENCES themes(name),
	PRIMARY KEY (document_id, theme)
);

CREATE INDEX IF NOT EXISTS idx_doc_themes_theme ON doc_themes(theme);

CREATE TABLE IF NOT EXISTS company_peers (
	company_id  TEXT NOT NULL REFERENCES companies(company_id),
	peer_id     TEXT NOT NULL REFERENCES companies(company_id),
	relation    TEXT NOT NULL DEFAULT 'PEER',
	correlation REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (company_id, peer_id, relation)
);

CREATE TABLE IF NOT EXISTS index_constituents (
	instrument_id TEXT NOT NULL REFERENCES instruments(instrument_id),
	index_name    TEXT NOT NULL,
	weight        REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (instrument_id, index_name)
);
`

// InitSchema creates all tables and seeds the reserved groups plus the
// controlled vocabularies. Idempotent.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("graph schema init: %w", err)
	}

	// Reserved groups always exist and cannot be removed
	for _, g := range []string{domain.GroupAdmin, domain.GroupPublic} {
		if _, err := s.db.Exec(
			`INSERT INTO groups (group_id, name, reserved, active) VALUES (?, ?, 1, 1)
			 ON CONFLICT(group_id) DO NOTHING`, g, g); err != nil {
			return fmt.Errorf("seed reserved group %s: %w", g, err)
		}
	}

	for _, et := range domain.EventTypes {
		if _, err := s.db.Exec(
			`INSERT INTO event_types (name, base_impact, default_tier, decay_half_life)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET
				base_impact = excluded.base_impact,
				default_tier = excluded.default_tier,
				decay_half_life = excluded.decay_half_life`,
			et.Name, et.BaseImpact, string(et.DefaultTier), et.DecayHalfLife); err != nil {
			return fmt.Errorf("seed event type %s: %w", et.Name, err)
		}
	}

	for _, theme := range domain.Themes {
		if _, err := s.db.Exec(
			`INSERT INTO themes (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, theme); err != nil {
			return fmt.Errorf("seed theme %s: %w", theme, err)
		}
	}

	return nil
}
