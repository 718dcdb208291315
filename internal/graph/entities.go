package graph

import (
	"context"
	"database/sql"

	"github.com/meridian/newsgraph/internal/domain"
)

// UpsertInstrument merges an instrument node on its id
func (s *Store) UpsertInstrument(ctx context.Context, inst domain.Instrument) error {
	if inst.InstrumentID == "" || inst.Ticker == "" {
		return domain.NewError(domain.ErrInvalidInput, "instrument_id and ticker are required")
	}
	if inst.Type == "" {
		inst.Type = domain.InstrumentStock
	}
	var companyID interface{}
	if inst.CompanyID != "" {
		companyID = inst.CompanyID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instruments (instrument_id, ticker, name, type, exchange, currency, company_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(instrument_id) DO UPDATE SET
			ticker = excluded.ticker,
			name = excluded.name,
			type = excluded.type,
			exchange = excluded.exchange,
			currency = excluded.currency,
			company_id = excluded.company_id`,
		inst.InstrumentID, inst.Ticker, inst.Name, string(inst.Type), inst.Exchange, inst.Currency, companyID)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "instrument upsert failed", err)
	}
	return nil
}

// UpsertCompany merges a company node on its id
func (s *Store) UpsertCompany(ctx context.Context, c domain.Company) error {
	if c.CompanyID == "" || c.Name == "" {
		return domain.NewError(domain.ErrInvalidInput, "company_id and name are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (company_id, name, sector) VALUES (?, ?, ?)
		 ON CONFLICT(company_id) DO UPDATE SET name = excluded.name, sector = excluded.sector`,
		c.CompanyID, c.Name, c.Sector)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "company upsert failed", err)
	}
	return nil
}

// GetInstrument fetches one instrument node
func (s *Store) GetInstrument(ctx context.Context, instrumentID string) (*domain.Instrument, error) {
	var inst domain.Instrument
	var typ string
	var companyID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT instrument_id, ticker, name, type, exchange, currency, company_id
		 FROM instruments WHERE instrument_id = ?`, instrumentID,
	).Scan(&inst.InstrumentID, &inst.Ticker, &inst.Name, &typ, &inst.Exchange, &inst.Currency, &companyID)
	if err == sql.ErrNoRows {
		return nil, domain.NewErrorf(domain.ErrNotFound, "instrument %q not found", instrumentID)
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "instrument lookup failed", err)
	}
	inst.Type = domain.InstrumentType(typ)
	inst.CompanyID = companyID.String
	return &inst, nil
}

// TickerUniverse returns every known ticker mapped to its instrument id.
// The ingest regex fallback scans raw text against this set.
func (s *Store) TickerUniverse(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker, instrument_id FROM instruments`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "ticker universe query failed", err)
	}
	defer rows.Close()

	universe := make(map[string]string)
	for rows.Next() {
		var ticker, id string
		if err := rows.Scan(&ticker, &id); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "ticker scan failed", err)
		}
		universe[ticker] = id
	}
	return universe, rows.Err()
}

// AliasRecord is one (scheme, value) -> entity binding
type AliasRecord struct {
	Scheme     string
	Value      string
	EntityID   string
	EntityKind string // instrument | company
}

// PutAlias binds a surface identifier to a canonical entity. The primary
// key on (scheme, value) keeps an alias pointing at one entity only.
func (s *Store) PutAlias(ctx context.Context, rec AliasRecord) error {
	if rec.Scheme == "" || rec.Value == "" || rec.EntityID == "" {
		return domain.NewError(domain.ErrInvalidInput, "scheme, value, and entity_id are required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (scheme, value, entity_id, entity_kind) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scheme, value) DO UPDATE SET entity_id = excluded.entity_id, entity_kind = excluded.entity_kind`,
		rec.Scheme, rec.Value, rec.EntityID, rec.EntityKind)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "alias upsert failed", err)
	}
	return nil
}

// LookupAlias resolves (scheme, value) exactly
func (s *Store) LookupAlias(ctx context.Context, scheme, value string) (*AliasRecord, error) {
	var rec AliasRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT scheme, value, entity_id, entity_kind FROM aliases WHERE scheme = ? AND value = ?`,
		scheme, value).Scan(&rec.Scheme, &rec.Value, &rec.EntityID, &rec.EntityKind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "alias lookup failed", err)
	}
	return &rec, nil
}

// LookupAliasValue resolves a bare value across schemes, returning all
// candidate bindings for the resolver to order by scheme precedence.
func (s *Store) LookupAliasValue(ctx context.Context, value string) ([]AliasRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scheme, value, entity_id, entity_kind FROM aliases WHERE value = ?`, value)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "alias value lookup failed", err)
	}
	defer rows.Close()

	var recs []AliasRecord
	for rows.Next() {
		var rec AliasRecord
		if err := rows.Scan(&rec.Scheme, &rec.Value, &rec.EntityID, &rec.EntityKind); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "alias scan failed", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// UpsertPeer records a typed company-to-company relation (PEER, SUPPLIER,
// COMPETITOR) with its correlation weight.
func (s *Store) UpsertPeer(ctx context.Context, companyID, peerID, relation string, correlation float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO company_peers (company_id, peer_id, relation, correlation) VALUES (?, ?, ?, ?)
		 ON CONFLICT(company_id, peer_id, relation) DO UPDATE SET correlation = excluded.correlation`,
		companyID, peerID, relation, correlation)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "peer upsert failed", err)
	}
	return nil
}

// UpsertConstituent records index membership for an instrument
func (s *Store) UpsertConstituent(ctx context.Context, instrumentID, indexName string, weight float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO index_constituents (instrument_id, index_name, weight) VALUES (?, ?, ?)
		 ON CONFLICT(instrument_id, index_name) DO UPDATE SET weight = excluded.weight`,
		instrumentID, indexName, weight)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "constituent upsert failed", err)
	}
	return nil
}
