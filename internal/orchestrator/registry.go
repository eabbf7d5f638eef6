package orchestrator

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"github.com/avoura/bifurc/internal/cont"
	"github.com/avoura/bifurc/internal/dynamo"
)

const registrySchema = `
CREATE TABLE IF NOT EXISTS branches (
	name       TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	points     INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// Registry persists delivered branches in an embedded database so a
// run can be resumed and extended across processes.
type Registry struct {
	db *sql.DB
}

// OpenRegistry opens (creating if needed) the branch database at
// path. ":memory:" gives a process-local registry.
func OpenRegistry(path string) (*Registry, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, dynamo.Configf("open branch registry %q: %v", path, err)
	}
	if _, err := db.Exec(registrySchema); err != nil {
		db.Close()
		return nil, dynamo.Configf("initialize branch registry %q: %v", path, err)
	}
	return &Registry{db: db}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// Save stores the branch under name, replacing any previous version.
func (r *Registry) Save(name string, br *cont.Branch) error {
	if name == "" {
		return dynamo.Configf("branch name must not be empty")
	}
	if err := br.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(br)
	if err != nil {
		return dynamo.Invariantf("encode branch %q: %v", name, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = r.db.Exec(`
		INSERT INTO branches (name, type, points, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type,
			points = excluded.points,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		name, br.Type, len(br.Points), string(payload), now, now)
	if err != nil {
		return dynamo.Numericalf("store branch %q: %v", name, err)
	}
	return nil
}

// Load retrieves a stored branch and re-checks its invariants.
func (r *Registry) Load(name string) (*cont.Branch, error) {
	var payload string
	err := r.db.QueryRow(`SELECT payload FROM branches WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dynamo.Configf("no branch named %q", name)
	}
	if err != nil {
		return nil, dynamo.Numericalf("load branch %q: %v", name, err)
	}
	var br cont.Branch
	if err := json.Unmarshal([]byte(payload), &br); err != nil {
		return nil, dynamo.Invariantf("decode branch %q: %v", name, err)
	}
	if err := br.Validate(); err != nil {
		return nil, err
	}
	return &br, nil
}

// Delete removes a stored branch. Deleting an unknown name is not an
// error.
func (r *Registry) Delete(name string) error {
	if _, err := r.db.Exec(`DELETE FROM branches WHERE name = ?`, name); err != nil {
		return dynamo.Numericalf("delete branch %q: %v", name, err)
	}
	return nil
}

// BranchInfo is one registry listing entry.
type BranchInfo struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List enumerates stored branches in name order.
func (r *Registry) List() ([]BranchInfo, error) {
	rows, err := r.db.Query(`SELECT name, type, points, created_at, updated_at FROM branches ORDER BY name`)
	if err != nil {
		return nil, dynamo.Numericalf("list branches: %v", err)
	}
	defer rows.Close()
	var out []BranchInfo
	for rows.Next() {
		var info BranchInfo
		var created, updated string
		if err := rows.Scan(&info.Name, &info.Type, &info.Points, &created, &updated); err != nil {
			return nil, dynamo.Numericalf("list branches: %v", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		info.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, dynamo.Numericalf("list branches: %v", err)
	}
	return out, nil
}
