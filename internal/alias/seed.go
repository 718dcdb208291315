package alias

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/meridian/newsgraph/internal/graph"
)

// seedEntry is one row in an alias seed file
type seedEntry struct {
	Scheme     string `json:"scheme"`
	Value      string `json:"value"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
}

// LoadSeedDir bulk-loads alias bindings from every *.json file in dir.
// Each file holds an array of {scheme, value, entity_id, entity_kind}.
// Returns the number of bindings loaded. A missing or empty dir is not an
// error.
func (r *Resolver) LoadSeedDir(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("alias seed dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("alias seed file %s: %w", entry.Name(), err)
		}
		var rows []seedEntry
		if err := json.Unmarshal(data, &rows); err != nil {
			return loaded, fmt.Errorf("alias seed file %s: %w", entry.Name(), err)
		}
		for _, row := range rows {
			if row.Value == "" || row.EntityID == "" {
				continue
			}
			if err := r.store.PutAlias(ctx, graph.AliasRecord{
				Scheme:     strings.ToUpper(strings.TrimSpace(row.Scheme)),
				Value:      Normalize(row.Value),
				EntityID:   row.EntityID,
				EntityKind: row.EntityKind,
			}); err != nil {
				return loaded, err
			}
			loaded++
		}
		r.log.Info().Str("file", entry.Name()).Int("rows", len(rows)).Msg("Loaded alias seed file")
	}
	return loaded, nil
}
