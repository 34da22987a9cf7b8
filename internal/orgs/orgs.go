// Package orgs manages the registry database and the per-org contact
// databases living under one data directory:
//
//	<dataDir>/main.db            registry of organizations
//	<dataDir>/org_dbs/org-<id>.db  contacts + tracking for one org
package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maxretain/lifecycle-mailer/internal/pkg/errs"
)

// Org is one row in the registry. The turso fields are carried for
// deployments that sync org databases from a hosted replica.
type Org struct {
	ID             int64
	Name           string
	TursoDBURL     string
	TursoAuthToken string
}

// Manager opens and caches database handles for the registry and orgs.
// Safe for concurrent use.
type Manager struct {
	dataDir string

	mu   sync.Mutex
	main *sql.DB
	open map[int64]*sql.DB
}

// Open prepares the data directory and the registry database.
func Open(dataDir string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "org_dbs"), 0o755); err != nil {
		return nil, errs.Storef("creating data directory: %v", err)
	}
	main, err := sql.Open("sqlite3", dsn(filepath.Join(dataDir, "main.db")))
	if err != nil {
		return nil, errs.Storef("opening registry: %v", err)
	}
	if _, err := main.Exec(registrySchema); err != nil {
		main.Close()
		return nil, errs.Storef("preparing registry schema: %v", err)
	}
	return &Manager{dataDir: dataDir, main: main, open: make(map[int64]*sql.DB)}, nil
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS organizations (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    turso_db_url TEXT,
    turso_auth_token TEXT
)`

func dsn(path string) string {
	return "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// Close releases every cached handle.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for id, db := range m.open {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(m.open, id)
	}
	if err := m.main.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Main exposes the registry handle.
func (m *Manager) Main() *sql.DB {
	return m.main
}

// OrgDBPath returns the filesystem path of one org database.
func (m *Manager) OrgDBPath(id int64) string {
	return filepath.Join(m.dataDir, "org_dbs", fmt.Sprintf("org-%d.db", id))
}

// ForOrg returns the cached handle for an org database, opening (and
// creating) it on first use.
func (m *Manager) ForOrg(id int64) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.open[id]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite3", dsn(m.OrgDBPath(id)))
	if err != nil {
		return nil, errs.Storef("opening org %d database: %v", id, err)
	}
	m.open[id] = db
	return db, nil
}

// UpsertOrganization inserts or updates a registry row.
func (m *Manager) UpsertOrganization(ctx context.Context, org Org) error {
	_, err := m.main.ExecContext(ctx, `
		INSERT INTO organizations (id, name, turso_db_url, turso_auth_token)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			turso_db_url = excluded.turso_db_url,
			turso_auth_token = excluded.turso_auth_token`,
		org.ID, org.Name, org.TursoDBURL, org.TursoAuthToken)
	if err != nil {
		return errs.Storef("upserting organization %d: %v", org.ID, err)
	}
	return nil
}

// GetOrganization looks up one registry row.
func (m *Manager) GetOrganization(ctx context.Context, id int64) (Org, bool, error) {
	var org Org
	var url, token sql.NullString
	err := m.main.QueryRowContext(ctx,
		`SELECT id, name, turso_db_url, turso_auth_token FROM organizations WHERE id = ?`, id).
		Scan(&org.ID, &org.Name, &url, &token)
	if err == sql.ErrNoRows {
		return Org{}, false, nil
	}
	if err != nil {
		return Org{}, false, errs.Storef("reading organization %d: %v", id, err)
	}
	org.TursoDBURL = url.String
	org.TursoAuthToken = token.String
	return org, true, nil
}

// ListOrganizations returns every registry row ordered by id.
func (m *Manager) ListOrganizations(ctx context.Context) ([]Org, error) {
	rows, err := m.main.QueryContext(ctx,
		`SELECT id, name, turso_db_url, turso_auth_token FROM organizations ORDER BY id`)
	if err != nil {
		return nil, errs.Storef("listing organizations: %v", err)
	}
	defer rows.Close()
	var out []Org
	for rows.Next() {
		var org Org
		var url, token sql.NullString
		if err := rows.Scan(&org.ID, &org.Name, &url, &token); err != nil {
			return nil, errs.Storef("scanning organization: %v", err)
		}
		org.TursoDBURL = url.String
		org.TursoAuthToken = token.String
		out = append(out, org)
	}
	return out, rows.Err()
}

// OrgIDs lists org ids present on disk, sorted. Registry rows without a
// database file are not included: this is the set batch and webhook scans
// walk.
func (m *Manager) OrgIDs() ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(m.dataDir, "org_dbs"))
	if err != nil {
		return nil, errs.Storef("scanning org databases: %v", err)
	}
	var ids []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "org-") || !strings.HasSuffix(name, ".db") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "org-"), ".db"), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ScanForBatch finds the org whose tracking table holds the batch.
func (m *Manager) ScanForBatch(ctx context.Context, batchID string) (int64, bool, error) {
	return m.scan(ctx, `SELECT 1 FROM email_send_tracking WHERE batch_id = ? LIMIT 1`, batchID)
}

// ScanForMessage finds the org whose tracking table holds the provider
// message id.
func (m *Manager) ScanForMessage(ctx context.Context, messageID string) (int64, bool, error) {
	return m.scan(ctx, `SELECT 1 FROM email_send_tracking WHERE message_id = ? LIMIT 1`, messageID)
}

func (m *Manager) scan(ctx context.Context, query, arg string) (int64, bool, error) {
	ids, err := m.OrgIDs()
	if err != nil {
		return 0, false, err
	}
	for _, id := range ids {
		db, err := m.ForOrg(id)
		if err != nil {
			return 0, false, err
		}
		ok, err := tableExists(ctx, db, "email_send_tracking")
		if err != nil || !ok {
			continue
		}
		var one int
		err = db.QueryRowContext(ctx, query, arg).Scan(&one)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, false, errs.Storef("scanning org %d: %v", id, err)
		}
		return id, true, nil
	}
	return 0, false, nil
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
