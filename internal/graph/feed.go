package graph

import (
	"context"
	"database/sql"
	"time"

	"github.com/meridian/newsgraph/internal/domain"
)

// Candidate is one graph-sourced feed candidate. MatchKey names the
// instrument ticker or theme that produced it.
type Candidate struct {
	DocumentID  string
	GroupID     string
	CreatedAt   time.Time
	ImpactScore float64
	ImpactTier  domain.ImpactTier
	Title       string
	Summary     string
	MatchKey    string
}

// exclusionClause appends NOT EXISTS predicates removing documents that
// mention excluded companies or companies in excluded sectors. The
// exclusion runs inside the store query, before any scoring.
func exclusionClause(excludedCompanyIDs, excludedSectors []string) (string, []interface{}) {
	clause := ""
	var args []interface{}
	if len(excludedCompanyIDs) > 0 {
		ph, phArgs := groupPlaceholders(excludedCompanyIDs)
		clause += ` AND NOT EXISTS (
			SELECT 1 FROM doc_mentions m WHERE m.document_id = d.document_id AND m.company_id IN (` + ph + `))`
		args = append(args, phArgs...)
	}
	if len(excludedSectors) > 0 {
		ph, phArgs := groupPlaceholders(excludedSectors)
		clause += ` AND NOT EXISTS (
			SELECT 1 FROM doc_mentions m
			JOIN companies c ON c.company_id = m.company_id
			WHERE m.document_id = d.document_id AND c.sector IN (` + ph + `))`
		args = append(args, phArgs...)
	}
	return clause, args
}

// FeedFilter bounds candidate generation
type FeedFilter struct {
	Since              time.Time
	MinImpactScore     float64
	ImpactTiers        []string
	ExcludedCompanyIDs []string
	ExcludedSectors    []string
}

func (f FeedFilter) clause() (string, []interface{}) {
	clause := ` AND d.created_at >= ?`
	args := []interface{}{f.Since.UnixMilli()}
	if f.MinImpactScore > 0 {
		clause += ` AND d.impact_score >= ?`
		args = append(args, f.MinImpactScore)
	}
	if len(f.ImpactTiers) > 0 {
		ph, phArgs := groupPlaceholders(f.ImpactTiers)
		clause += ` AND d.impact_tier IN (` + ph + `)`
		args = append(args, phArgs...)
	}
	excl, exclArgs := exclusionClause(f.ExcludedCompanyIDs, f.ExcludedSectors)
	return clause + excl, append(args, exclArgs...)
}

// DocsAffecting returns documents with an AFFECTS edge to any of the
// given instruments, group-filtered and exclusion-filtered in the query.
func (s *Store) DocsAffecting(ctx context.Context, permittedGroups, instrumentIDs []string, filter FeedFilter) ([]Candidate, error) {
	if len(instrumentIDs) == 0 {
		return nil, nil
	}
	gph, gargs := groupPlaceholders(permittedGroups)
	iph, iargs := groupPlaceholders(instrumentIDs)
	fclause, fargs := filter.clause()

	query := `SELECT DISTINCT d.document_id, d.group_id, d.created_at, d.impact_score, d.impact_tier,
			d.title, d.summary, i.ticker
		FROM documents d
		JOIN doc_affects a ON a.document_id = d.document_id
		JOIN instruments i ON i.instrument_id = a.instrument_id
		WHERE d.deleted = 0 AND d.group_id IN (` + gph + `)
		  AND a.instrument_id IN (` + iph + `)` + fclause + `
		ORDER BY d.created_at DESC`

	args := append(append(gargs, iargs...), fargs...)
	return s.scanCandidates(ctx, query, args)
}

// DocsTagged returns documents TAGGED_WITH any of the given themes
func (s *Store) DocsTagged(ctx context.Context, permittedGroups, themes []string, filter FeedFilter) ([]Candidate, error) {
	if len(themes) == 0 {
		return nil, nil
	}
	gph, gargs := groupPlaceholders(permittedGroups)
	tph, targs := groupPlaceholders(themes)
	fclause, fargs := filter.clause()

	query := `SELECT DISTINCT d.document_id, d.group_id, d.created_at, d.impact_score, d.impact_tier,
			d.title, d.summary, t.theme
		FROM documents d
		JOIN doc_themes t ON t.document_id = d.document_id
		WHERE d.deleted = 0 AND d.group_id IN (` + gph + `)
		  AND t.theme IN (` + tph + `)` + fclause + `
		ORDER BY d.created_at DESC`

	args := append(append(gargs, targs...), fargs...)
	return s.scanCandidates(ctx, query, args)
}

func (s *Store) scanCandidates(ctx context.Context, query string, args []interface{}) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "candidate query failed", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var createdMs int64
		var tier string
		if err := rows.Scan(&c.DocumentID, &c.GroupID, &createdMs, &c.ImpactScore, &tier,
			&c.Title, &c.Summary, &c.MatchKey); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "candidate scan failed", err)
		}
		c.CreatedAt = time.UnixMilli(createdMs).UTC()
		c.ImpactTier = domain.ImpactTier(tier)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LateralRelation is one instrument reached by a bounded graph hop
type LateralRelation struct {
	InstrumentID string
	Ticker       string
	Relation     string // PEER | SUPPLIER | COMPETITOR
}

// LateralInstruments walks at most two hops from the seed instruments:
// ISSUED_BY to the issuing company, one PEER_OF/SUPPLIER/COMPETITOR edge,
// then back down to that company's instruments. CONSTITUENT_OF peers are
// instruments sharing an index with a seed. Seeds are excluded from the
// result.
func (s *Store) LateralInstruments(ctx context.Context, seedInstrumentIDs []string) ([]LateralRelation, error) {
	if len(seedInstrumentIDs) == 0 {
		return nil, nil
	}
	ph, args := groupPlaceholders(seedInstrumentIDs)

	query := `
	SELECT DISTINCT li.instrument_id, li.ticker, p.relation
	FROM instruments si
	JOIN company_peers p ON p.company_id = si.company_id
	JOIN instruments li ON li.company_id = p.peer_id
	WHERE si.instrument_id IN (` + ph + `)
	  AND li.instrument_id NOT IN (` + ph + `)
	UNION
	SELECT DISTINCT li.instrument_id, li.ticker, 'PEER'
	FROM index_constituents sc
	JOIN index_constituents lc ON lc.index_name = sc.index_name
	JOIN instruments li ON li.instrument_id = lc.instrument_id
	WHERE sc.instrument_id IN (` + ph + `)
	  AND li.instrument_id NOT IN (` + ph + `)`

	allArgs := append(append(append(append([]interface{}{}, args...), args...), args...), args...)
	rows, err := s.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "lateral traversal failed", err)
	}
	defer rows.Close()

	var out []LateralRelation
	for rows.Next() {
		var rel LateralRelation
		if err := rows.Scan(&rel.InstrumentID, &rel.Ticker, &rel.Relation); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "lateral scan failed", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// DocumentEvents bulk-fetches the event types per document for scoring
// boosts.
func (s *Store) DocumentEvents(ctx context.Context, documentIDs []string) (map[string][]domain.ExtractedEvent, error) {
	if len(documentIDs) == 0 {
		return map[string][]domain.ExtractedEvent{}, nil
	}
	ph, args := groupPlaceholders(documentIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, event_type, confidence FROM doc_events WHERE document_id IN (`+ph+`)`, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "document events query failed", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.ExtractedEvent)
	for rows.Next() {
		var docID string
		var evt domain.ExtractedEvent
		if err := rows.Scan(&docID, &evt.Type, &evt.Confidence); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "event scan failed", err)
		}
		out[docID] = append(out[docID], evt)
	}
	return out, rows.Err()
}

// DocumentMetas bulk-fetches graph projections for scoring, group-filtered
// inside the query. Missing or foreign-group ids are absent from the map.
func (s *Store) DocumentMetas(ctx context.Context, documentIDs, permittedGroups []string) (map[string]*DocumentMeta, error) {
	out := make(map[string]*DocumentMeta, len(documentIDs))
	if len(documentIDs) == 0 {
		return out, nil
	}
	dph, dargs := groupPlaceholders(documentIDs)
	gph, gargs := groupPlaceholders(permittedGroups)

	query := `SELECT document_id, group_id, source_id, created_at, title, content_hash,
			story_fingerprint, COALESCE(duplicate_of, ''), impact_score, impact_tier, summary
		FROM documents
		WHERE deleted = 0 AND document_id IN (` + dph + `) AND group_id IN (` + gph + `)`

	rows, err := s.db.QueryContext(ctx, query, append(dargs, gargs...)...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "document metas query failed", err)
	}
	defer rows.Close()

	for rows.Next() {
		var meta DocumentMeta
		var createdMs int64
		var tier string
		if err := rows.Scan(&meta.DocumentID, &meta.GroupID, &meta.SourceID, &createdMs, &meta.Title,
			&meta.ContentHash, &meta.Fingerprint, &meta.DuplicateOf, &meta.ImpactScore, &tier, &meta.Summary); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "document meta scan failed", err)
		}
		meta.CreatedAt = time.UnixMilli(createdMs).UTC()
		meta.ImpactTier = domain.ImpactTier(tier)
		out[meta.DocumentID] = &meta
	}
	return out, rows.Err()
}

// ExcludedDocuments reports which of the given documents mention an
// excluded company or a company in an excluded sector.
func (s *Store) ExcludedDocuments(ctx context.Context, documentIDs, excludedCompanyIDs, excludedSectors []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(documentIDs) == 0 || (len(excludedCompanyIDs) == 0 && len(excludedSectors) == 0) {
		return out, nil
	}
	dph, dargs := groupPlaceholders(documentIDs)

	if len(excludedCompanyIDs) > 0 {
		cph, cargs := groupPlaceholders(excludedCompanyIDs)
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT document_id FROM doc_mentions
			 WHERE document_id IN (`+dph+`) AND company_id IN (`+cph+`)`,
			append(append([]interface{}{}, dargs...), cargs...)...)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "exclusion query failed", err)
		}
		if err := collectIDs(rows, out); err != nil {
			return nil, err
		}
	}
	if len(excludedSectors) > 0 {
		sph, sargs := groupPlaceholders(excludedSectors)
		rows, err := s.db.QueryContext(ctx,
			`SELECT DISTINCT m.document_id FROM doc_mentions m
			 JOIN companies c ON c.company_id = m.company_id
			 WHERE m.document_id IN (`+dph+`) AND c.sector IN (`+sph+`)`,
			append(append([]interface{}{}, dargs...), sargs...)...)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "sector exclusion query failed", err)
		}
		if err := collectIDs(rows, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func collectIDs(rows *sql.Rows, out map[string]bool) error {
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.WrapError(domain.ErrStoreUnavailable, "id scan failed", err)
		}
		out[id] = true
	}
	return rows.Err()
}

// CompanyIDsByName resolves company names to ids for exclusion filters
func (s *Store) CompanyIDsByName(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	ph, args := groupPlaceholders(names)
	rows, err := s.db.QueryContext(ctx, `SELECT company_id FROM companies WHERE name IN (`+ph+`)`, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "company name lookup failed", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "company scan failed", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
