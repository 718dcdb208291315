package graph

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/meridian/newsgraph/internal/domain"
)

// CreateSource registers a global attribution record. Admin-gated by the
// caller; sources carry no group.
func (s *Store) CreateSource(ctx context.Context, src domain.Source) (*domain.Source, error) {
	if src.Name == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "source name is required")
	}
	if src.SourceID == "" {
		src.SourceID = uuid.New().String()
	}
	if src.TrustLevel == "" {
		src.TrustLevel = domain.TrustStandard
	}
	switch src.TrustLevel {
	case domain.TrustVerified, domain.TrustTrusted, domain.TrustStandard, domain.TrustUnverified:
	default:
		return nil, domain.NewErrorf(domain.ErrInvalidInput, "unknown trust level %q", src.TrustLevel)
	}
	langs, err := json.Marshal(src.Languages)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "languages marshal failed", err)
	}
	src.Active = true
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sources (source_id, name, type, region, languages, trust_level, active)
		 VALUES (?, ?, ?, ?, ?, ?, 1)`,
		src.SourceID, src.Name, src.Type, src.Region, string(langs), string(src.TrustLevel))
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreWriteFailed, "source create failed", err)
	}
	return &src, nil
}

// UpdateSource modifies a source record in place
func (s *Store) UpdateSource(ctx context.Context, src domain.Source) error {
	langs, err := json.Marshal(src.Languages)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "languages marshal failed", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET name = ?, type = ?, region = ?, languages = ?, trust_level = ?, active = ?
		 WHERE source_id = ?`,
		src.Name, src.Type, src.Region, string(langs), string(src.TrustLevel), src.Active, src.SourceID)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "source update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewErrorf(domain.ErrSourceNotFound, "source %q not found", src.SourceID)
	}
	return nil
}

// DeleteSource deactivates a source; existing documents keep their
// attribution.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sources SET active = 0 WHERE source_id = ?`, sourceID)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "source delete failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewErrorf(domain.ErrSourceNotFound, "source %q not found", sourceID)
	}
	return nil
}

// GetSource fetches one source by id
func (s *Store) GetSource(ctx context.Context, sourceID string) (*domain.Source, error) {
	var src domain.Source
	var langs string
	var trust string
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, name, type, region, languages, trust_level, active FROM sources WHERE source_id = ?`,
		sourceID).Scan(&src.SourceID, &src.Name, &src.Type, &src.Region, &langs, &trust, &src.Active)
	if err == sql.ErrNoRows {
		return nil, domain.NewErrorf(domain.ErrSourceNotFound, "source %q not found", sourceID)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "source lookup failed", err)
	}
	src.TrustLevel = domain.TrustLevel(trust)
	_ = json.Unmarshal([]byte(langs), &src.Languages)
	return &src, nil
}

// SourceExists reports whether an active source exists. Used by ingest
// VALIDATE.
func (s *Store) SourceExists(ctx context.Context, sourceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sources WHERE source_id = ? AND active = 1`, sourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.WrapError(domain.ErrStoreUnavailable, "source lookup failed", err)
	}
	return true, nil
}

// ListSources returns all sources. Sources are global; there is no group
// filter on this listing.
func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, name, type, region, languages, trust_level, active FROM sources ORDER BY name`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "source list failed", err)
	}
	defer rows.Close()

	var out []domain.Source
	for rows.Next() {
		var src domain.Source
		var langs, trust string
		if err := rows.Scan(&src.SourceID, &src.Name, &src.Type, &src.Region, &langs, &trust, &src.Active); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "source scan failed", err)
		}
		src.TrustLevel = domain.TrustLevel(trust)
		_ = json.Unmarshal([]byte(langs), &src.Languages)
		out = append(out, src)
	}
	return out, rows.Err()
}
