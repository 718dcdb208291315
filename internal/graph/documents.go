package graph

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/meridian/newsgraph/internal/database"
	"github.com/meridian/newsgraph/internal/domain"
)

// WriteDocument upserts the document node and all its edges in one
// transaction. The partial unique index on (group_id, content_hash) is the
// duplicate-race serialization point: a second writer of the same
// non-duplicate content loses deterministically with DUPLICATE.
func (s *Store) WriteDocument(ctx context.Context, doc *domain.Document) error {
	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		var published interface{}
		if doc.PublishedAt != nil {
			published = doc.PublishedAt.UnixMilli()
		}
		var prevVersion interface{}
		if doc.PreviousVersionID != "" {
			prevVersion = doc.PreviousVersionID
		}
		var dupOf interface{}
		if doc.DuplicateOf != "" {
			dupOf = doc.DuplicateOf
		}
		var dupScore interface{}
		if doc.DuplicateScore != nil {
			dupScore = *doc.DuplicateScore
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (
				document_id, version, previous_version_id, source_id, group_id,
				created_at, published_at, language, title, word_count,
				content_hash, story_fingerprint, duplicate_of, duplicate_score,
				impact_score, impact_tier, summary, deleted)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
			doc.DocumentID, doc.Version, prevVersion, doc.SourceID, doc.GroupID,
			doc.CreatedAt.UnixMilli(), published, doc.Language, doc.Title, doc.WordCount,
			doc.ContentHash, doc.StoryFingerprint, dupOf, dupScore,
			doc.Enrichment.ImpactScore, string(doc.Enrichment.ImpactTier), doc.Enrichment.Summary,
		); err != nil {
			return err
		}

		for _, inst := range doc.Enrichment.Instruments {
			if inst.InstrumentID == "" {
				continue // unresolved tickers never create phantom nodes
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doc_affects (document_id, instrument_id, direction, magnitude, confidence, regex_detected)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(document_id, instrument_id) DO UPDATE SET
					direction = excluded.direction,
					magnitude = excluded.magnitude,
					confidence = excluded.confidence`,
				doc.DocumentID, inst.InstrumentID, inst.Direction, inst.Magnitude, inst.Confidence, inst.RegexDetected,
			); err != nil {
				return err
			}
		}

		for _, evt := range doc.Enrichment.Events {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doc_events (document_id, event_type, confidence) VALUES (?, ?, ?)
				 ON CONFLICT(document_id, event_type) DO UPDATE SET confidence = excluded.confidence`,
				doc.DocumentID, evt.Type, evt.Confidence,
			); err != nil {
				return err
			}
		}

		for _, companyID := range doc.Enrichment.Companies {
			if companyID == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doc_mentions (document_id, company_id) VALUES (?, ?)
				 ON CONFLICT(document_id, company_id) DO NOTHING`,
				doc.DocumentID, companyID,
			); err != nil {
				return err
			}
		}

		for _, theme := range doc.Enrichment.Themes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO doc_themes (document_id, theme) VALUES (?, ?)
				 ON CONFLICT(document_id, theme) DO NOTHING`,
				doc.DocumentID, theme,
			); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WrapError(domain.ErrDuplicate, "identical content already stored in this group", err)
		}
		return domain.WrapError(domain.ErrStoreWriteFailed, "graph document write failed", err)
	}
	return nil
}

// isUniqueViolation detects the hash-index constraint loss in both SQLite
// drivers' error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: documents.group_id") ||
		strings.Contains(msg, "unique constraint")
}

// DeleteDocumentNode removes a document and its edges entirely. This is
// the WRITE_VECTOR compensating delete; soft deletion is separate.
func (s *Store) DeleteDocumentNode(ctx context.Context, documentID string) error {
	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM doc_affects WHERE document_id = ?`,
			`DELETE FROM doc_events WHERE document_id = ?`,
			`DELETE FROM doc_mentions WHERE document_id = ?`,
			`DELETE FROM doc_themes WHERE document_id = ?`,
			`DELETE FROM documents WHERE document_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, documentID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "graph document delete failed", err)
	}
	return nil
}

// SoftDeleteDocument flags a document deleted; the node stays for audit
// and version chains, but no query returns it.
func (s *Store) SoftDeleteDocument(ctx context.Context, documentID, groupID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted = 1 WHERE document_id = ? AND group_id = ?`,
		documentID, groupID)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "graph soft delete failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewErrorf(domain.ErrNotFound, "document %q not found in group %q", documentID, groupID)
	}
	return nil
}

// DocumentMeta is the graph-resident projection of a document
type DocumentMeta struct {
	DocumentID  string
	GroupID     string
	SourceID    string
	CreatedAt   time.Time
	Title       string
	ContentHash string
	Fingerprint string
	DuplicateOf string
	ImpactScore float64
	ImpactTier  domain.ImpactTier
	Summary     string
}

// GetDocumentMeta fetches a document's graph projection, group-filtered
// inside the query.
func (s *Store) GetDocumentMeta(ctx context.Context, documentID string, permittedGroups []string) (*DocumentMeta, error) {
	ph, args := groupPlaceholders(permittedGroups)
	query := `SELECT document_id, group_id, source_id, created_at, title, content_hash,
			story_fingerprint, COALESCE(duplicate_of, ''), impact_score, impact_tier, summary
		FROM documents
		WHERE document_id = ? AND deleted = 0 AND group_id IN (` + ph + `)`
	qargs := append([]interface{}{documentID}, args...)

	var meta DocumentMeta
	var createdMs int64
	var tier string
	err := s.db.QueryRowContext(ctx, query, qargs...).Scan(
		&meta.DocumentID, &meta.GroupID, &meta.SourceID, &createdMs, &meta.Title,
		&meta.ContentHash, &meta.Fingerprint, &meta.DuplicateOf, &meta.ImpactScore, &tier, &meta.Summary)
	if err == sql.ErrNoRows {
		return nil, domain.NewErrorf(domain.ErrNotFound, "document %q not found", documentID)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "document lookup failed", err)
	}
	meta.CreatedAt = time.UnixMilli(createdMs).UTC()
	meta.ImpactTier = domain.ImpactTier(tier)
	return &meta, nil
}

// FindByContentHash looks up a prior non-duplicate document with the same
// normalized content hash in the write group, within the window (zero
// window means unbounded).
func (s *Store) FindByContentHash(ctx context.Context, groupID, contentHash string, window time.Duration) (string, error) {
	return s.findDup(ctx, groupID, "content_hash", contentHash, window)
}

// FindByFingerprint looks up a prior non-duplicate document with the same
// story fingerprint in the write group.
func (s *Store) FindByFingerprint(ctx context.Context, groupID, fingerprint string, window time.Duration) (string, error) {
	if fingerprint == "" {
		return "", nil
	}
	return s.findDup(ctx, groupID, "story_fingerprint", fingerprint, window)
}

func (s *Store) findDup(ctx context.Context, groupID, column, value string, window time.Duration) (string, error) {
	query := `SELECT document_id FROM documents
		WHERE group_id = ? AND ` + column + ` = ? AND duplicate_of IS NULL AND deleted = 0`
	args := []interface{}{groupID, value}
	if window > 0 {
		query += ` AND created_at >= ?`
		args = append(args, time.Now().Add(-window).UnixMilli())
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	var id string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", domain.WrapError(domain.ErrStoreUnavailable, "duplicate lookup failed", err)
	}
	return id, nil
}

// HasDocument reports bare node existence, used by reconciliation
func (s *Store) HasDocument(ctx context.Context, documentID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE document_id = ?`, documentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.WrapError(domain.ErrStoreUnavailable, "document existence check failed", err)
	}
	return true, nil
}

// DocumentThemes returns the themes tagged on a document
func (s *Store) DocumentThemes(ctx context.Context, documentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT theme FROM doc_themes WHERE document_id = ? ORDER BY theme`, documentID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "document themes query failed", err)
	}
	defer rows.Close()
	var themes []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "theme scan failed", err)
		}
		themes = append(themes, t)
	}
	return themes, rows.Err()
}
