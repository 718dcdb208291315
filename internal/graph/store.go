// Package graph owns the typed property graph of documents, entities,
// events, clients, and portfolios. Every content-returning query embeds the
// caller's permitted group set as a store-side predicate; nothing is
// post-filtered in application memory.
package graph

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/database"
)

// Store is the graph index over SQLite
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// NewStore creates a graph store
func NewStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		db:  db,
		log: log.With().Str("component", "graph").Logger(),
	}
}

// DB exposes the underlying handle for health checks and maintenance
func (s *Store) DB() *database.DB {
	return s.db
}

// groupPlaceholders builds the "?,?,?" fragment and argument slice for a
// group IN clause. Callers splice it into WHERE, keeping the group filter
// inside the store query.
func groupPlaceholders(groups []string) (string, []interface{}) {
	if len(groups) == 0 {
		// An empty permitted set matches nothing; never widens
		return "''", nil
	}
	args := make([]interface{}, len(groups))
	for i, g := range groups {
		args[i] = g
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(groups)), ","), args
}
