package graph

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/google/uuid"

	"github.com/meridian/newsgraph/internal/domain"
)

// UpsertClient creates or updates a client record inside its owning group
func (s *Store) UpsertClient(ctx context.Context, c domain.Client) (*domain.Client, error) {
	if c.Name == "" || c.GroupID == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "client name and group_id are required")
	}
	if c.ClientID == "" {
		c.ClientID = uuid.New().String()
	}
	if c.ClientType == "" {
		c.ClientType = domain.ClientInstitutional
	}
	if c.Status == "" {
		c.Status = "active"
	}
	if c.AlertFrequency == "" {
		c.AlertFrequency = "daily"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (client_id, name, client_type, group_id, alert_frequency, impact_threshold, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET
			name = excluded.name,
			client_type = excluded.client_type,
			alert_frequency = excluded.alert_frequency,
			impact_threshold = excluded.impact_threshold,
			status = excluded.status`,
		c.ClientID, c.Name, string(c.ClientType), c.GroupID, c.AlertFrequency, c.ImpactThreshold, c.Status)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreWriteFailed, "client upsert failed", err)
	}
	return &c, nil
}

// GetClient fetches a client, group-filtered inside the query
func (s *Store) GetClient(ctx context.Context, clientID string, permittedGroups []string) (*domain.Client, error) {
	ph, args := groupPlaceholders(permittedGroups)
	query := `SELECT client_id, name, client_type, group_id, alert_frequency, impact_threshold, status
		FROM clients WHERE client_id = ? AND group_id IN (` + ph + `)`
	qargs := append([]interface{}{clientID}, args...)

	var c domain.Client
	var ctype string
	err := s.db.QueryRowContext(ctx, query, qargs...).Scan(
		&c.ClientID, &c.Name, &ctype, &c.GroupID, &c.AlertFrequency, &c.ImpactThreshold, &c.Status)
	if err == sql.ErrNoRows {
		return nil, domain.NewErrorf(domain.ErrNotFound, "client %q not found", clientID)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "client lookup failed", err)
	}
	c.ClientType = domain.ClientType(ctype)
	return &c, nil
}

// SetPortfolio replaces a client's HOLDS edges atomically
func (s *Store) SetPortfolio(ctx context.Context, clientID string, positions []domain.Position) error {
	tx, err := s.db.Begin()
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "portfolio transaction begin failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE client_id = ?`, clientID); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "portfolio clear failed", err)
	}
	for _, p := range positions {
		if p.Weight < 0 || p.Weight > 1 {
			return domain.NewErrorf(domain.ErrInvalidInput, "position weight %v for %s outside [0,1]", p.Weight, p.Ticker)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO positions (client_id, instrument_id, weight, shares, avg_cost) VALUES (?, ?, ?, ?, ?)`,
			clientID, p.InstrumentID, p.Weight, p.Shares, p.AvgCost); err != nil {
			return domain.WrapError(domain.ErrStoreWriteFailed, "position write failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "portfolio commit failed", err)
	}
	return nil
}

// GetPortfolio returns a client's positions with tickers joined in
func (s *Store) GetPortfolio(ctx context.Context, clientID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.instrument_id, i.ticker, p.weight, p.shares, p.avg_cost
		 FROM positions p JOIN instruments i ON i.instrument_id = p.instrument_id
		 WHERE p.client_id = ? ORDER BY p.weight DESC`, clientID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "portfolio query failed", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.InstrumentID, &p.Ticker, &p.Weight, &p.Shares, &p.AvgCost); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "position scan failed", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// SetWatchlist replaces a client's WATCHES edges atomically
func (s *Store) SetWatchlist(ctx context.Context, clientID string, items []domain.WatchItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "watchlist transaction begin failed", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watchlist WHERE client_id = ?`, clientID); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "watchlist clear failed", err)
	}
	for _, w := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO watchlist (client_id, instrument_id, alert_threshold) VALUES (?, ?, ?)`,
			clientID, w.InstrumentID, w.AlertThreshold); err != nil {
			return domain.WrapError(domain.ErrStoreWriteFailed, "watchlist write failed", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "watchlist commit failed", err)
	}
	return nil
}

// GetWatchlist returns a client's watch items with tickers joined in
func (s *Store) GetWatchlist(ctx context.Context, clientID string) ([]domain.WatchItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.instrument_id, i.ticker, w.alert_threshold
		 FROM watchlist w JOIN instruments i ON i.instrument_id = w.instrument_id
		 WHERE w.client_id = ?`, clientID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "watchlist query failed", err)
	}
	defer rows.Close()

	var items []domain.WatchItem
	for rows.Next() {
		var w domain.WatchItem
		if err := rows.Scan(&w.InstrumentID, &w.Ticker, &w.AlertThreshold); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "watch item scan failed", err)
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// UpsertProfile stores the mandate, constraints, and the typed embedding
// vector for a client profile. mandate_text_hash keys enrichment
// idempotence.
func (s *Store) UpsertProfile(ctx context.Context, p domain.ClientProfile, textHash string) error {
	themes, err := json.Marshal(p.MandateThemes)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "mandate themes marshal failed", err)
	}
	restrictions, err := json.Marshal(p.Restrictions)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "restrictions marshal failed", err)
	}
	var embedding interface{}
	if len(p.MandateEmbedding) > 0 {
		embedding = float32sToBytes(p.MandateEmbedding)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO client_profiles (
			client_id, mandate_type, mandate_text, mandate_text_hash, mandate_themes,
			mandate_embedding, benchmark, horizon, esg_constrained, restrictions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET
			mandate_type = excluded.mandate_type,
			mandate_text = excluded.mandate_text,
			mandate_text_hash = excluded.mandate_text_hash,
			mandate_themes = excluded.mandate_themes,
			mandate_embedding = excluded.mandate_embedding,
			benchmark = excluded.benchmark,
			horizon = excluded.horizon,
			esg_constrained = excluded.esg_constrained,
			restrictions = excluded.restrictions`,
		p.ClientID, p.MandateType, p.MandateText, textHash, string(themes),
		embedding, p.Benchmark, p.Horizon, p.ESGConstrained, string(restrictions))
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "profile upsert failed", err)
	}
	return nil
}

// GetProfile fetches a client profile with its embedding decoded. The
// second return is the stored mandate_text_hash for idempotence checks.
func (s *Store) GetProfile(ctx context.Context, clientID string) (*domain.ClientProfile, string, error) {
	var p domain.ClientProfile
	var themes, restrictions, textHash string
	var embedding []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT client_id, mandate_type, mandate_text, mandate_text_hash, mandate_themes,
			mandate_embedding, benchmark, horizon, esg_constrained, restrictions
		 FROM client_profiles WHERE client_id = ?`, clientID,
	).Scan(&p.ClientID, &p.MandateType, &p.MandateText, &textHash, &themes,
		&embedding, &p.Benchmark, &p.Horizon, &p.ESGConstrained, &restrictions)
	if err == sql.ErrNoRows {
		return nil, "", domain.NewErrorf(domain.ErrNotFound, "profile for client %q not found", clientID)
	}
	if err != nil {
		return nil, "", domain.WrapError(domain.ErrStoreUnavailable, "profile lookup failed", err)
	}
	_ = json.Unmarshal([]byte(themes), &p.MandateThemes)
	_ = json.Unmarshal([]byte(restrictions), &p.Restrictions)
	if len(embedding) > 0 {
		p.MandateEmbedding = bytesToFloat32s(embedding)
	}
	return &p, textHash, nil
}

// float32sToBytes encodes a vector little-endian, matching the vector
// index's BLOB representation.
func float32sToBytes(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func bytesToFloat32s(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
