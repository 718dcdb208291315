package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/meridian/newsgraph/internal/domain"
)

// CreateGroup registers a new permission boundary. Reserved names are
// rejected; re-creating an existing group reactivates it.
func (s *Store) CreateGroup(ctx context.Context, groupID, name string) (*domain.Group, error) {
	if groupID == "" || name == "" {
		return nil, domain.NewError(domain.ErrInvalidInput, "group_id and name are required")
	}
	if groupID == domain.GroupAdmin || groupID == domain.GroupPublic {
		return nil, domain.NewErrorf(domain.ErrInvalidInput, "group %q is reserved", groupID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (group_id, name, reserved, active) VALUES (?, ?, 0, 1)
		 ON CONFLICT(group_id) DO UPDATE SET active = 1, name = excluded.name`,
		groupID, name)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreWriteFailed, "group create failed", err)
	}
	return &domain.Group{GroupID: groupID, Name: name, Active: true}, nil
}

// DeactivateGroup flags a group defunct. Groups persist for audit; the
// reserved groups cannot be removed.
func (s *Store) DeactivateGroup(ctx context.Context, groupID string) error {
	if groupID == domain.GroupAdmin || groupID == domain.GroupPublic {
		return domain.NewErrorf(domain.ErrInvalidInput, "group %q cannot be removed", groupID)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET active = 0 WHERE group_id = ? AND reserved = 0`, groupID)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "group deactivate failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewErrorf(domain.ErrNotFound, "group %q not found", groupID)
	}
	return nil
}

// ListGroups returns all groups, active and defunct
func (s *Store) ListGroups(ctx context.Context) ([]domain.Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, name, reserved, active FROM groups ORDER BY group_id`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreUnavailable, "group list failed", err)
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.GroupID, &g.Name, &g.Reserved, &g.Active); err != nil {
			return nil, domain.WrapError(domain.ErrStoreUnavailable, "group scan failed", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GroupExists reports whether an active group exists
func (s *Store) GroupExists(ctx context.Context, groupID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE group_id = ? AND active = 1`, groupID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.WrapError(domain.ErrStoreUnavailable, "group lookup failed", err)
	}
	return true, nil
}

// ActiveGroups filters the given ids down to the active ones, preserving
// input order. Used by the auth service.
func (s *Store) ActiveGroups(ctx context.Context, groupIDs []string) ([]string, error) {
	var active []string
	for _, g := range groupIDs {
		ok, err := s.GroupExists(ctx, g)
		if err != nil {
			return nil, err
		}
		if ok {
			active = append(active, g)
		}
	}
	return active, nil
}

// RegisterToken records an issued token so it can later be revoked
func (s *Store) RegisterToken(ctx context.Context, tokenID string, groups []string, issuedAt, expiresAt time.Time) error {
	blob, err := json.Marshal(groups)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "token groups marshal failed", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens (token_id, groups, issued_at, expires_at, revoked) VALUES (?, ?, ?, ?, 0)
		 ON CONFLICT(token_id) DO NOTHING`,
		tokenID, string(blob), issuedAt.UnixMilli(), expiresAt.UnixMilli())
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "token register failed", err)
	}
	return nil
}

// RevokeToken flags a token revoked
func (s *Store) RevokeToken(ctx context.Context, tokenID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tokens SET revoked = 1 WHERE token_id = ?`, tokenID)
	if err != nil {
		return domain.WrapError(domain.ErrStoreWriteFailed, "token revoke failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewErrorf(domain.ErrNotFound, "token %q not found", tokenID)
	}
	return nil
}

// IsTokenRevoked answers the auth service's revocation check. Unknown
// tokens are not revoked; revocation requires an explicit registry entry.
func (s *Store) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT revoked FROM tokens WHERE token_id = ?`, tokenID).Scan(&revoked)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, domain.WrapError(domain.ErrStoreUnavailable, "token lookup failed", err)
	}
	return revoked, nil
}
