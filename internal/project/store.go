// Package project provides PostgreSQL-backed project persistence and the
// in-memory workspace manager.
package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
)

// ErrNotFound is returned when a project does not exist or is not owned by
// the requesting user.
var ErrNotFound = errors.New("project not found")

// Project maps to the projects table. Snapshot is the serialized workspace
// file map, stored as JSONB.
type Project struct {
	ID        int
	OwnerID   int
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a PostgreSQL project store.
type Store struct {
	db *sql.DB
}

// NewStore opens the database connection pool.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other packages.
func (s *Store) DB() *sql.DB {
	return s.db
}

// UpdateConnectionMetrics updates the database connection metrics.
func (s *Store) UpdateConnectionMetrics() {
	stats := s.db.Stats()
	metrics.SetDBConnectionsOpen(stats.OpenConnections)
}

// Migrate runs SQL migration files.
func (s *Store) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

// CreateProject inserts a project with an initial snapshot.
func (s *Store) CreateProject(ctx context.Context, ownerID int, name string, snapshot map[string]string) (*Project, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("create_project", time.Since(start)) }()

	blob, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}

	p := &Project{OwnerID: ownerID, Name: name}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO projects (owner_id, name, snapshot)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		ownerID, name, blob).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// GetProject returns a project owned by ownerID.
func (s *Store) GetProject(ctx context.Context, ownerID, id int) (*Project, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_project", time.Since(start)) }()

	p := &Project{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, name, created_at, updated_at
		 FROM projects WHERE id = $1 AND owner_id = $2`,
		id, ownerID).Scan(&p.OwnerID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects owned by ownerID, newest first.
func (s *Store) ListProjects(ctx context.Context, ownerID int) ([]Project, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("list_projects", time.Since(start)) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, created_at, updated_at
		 FROM projects WHERE owner_id = $1 ORDER BY updated_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project owned by ownerID.
func (s *Store) DeleteProject(ctx context.Context, ownerID, id int) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete_project", time.Since(start)) }()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	logging.Info("project deleted", zap.Int("project_id", id))
	return nil
}

// SaveSnapshot persists the workspace file map for a project.
func (s *Store) SaveSnapshot(ctx context.Context, ownerID, id int, snapshot map[string]string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("save_snapshot", time.Since(start)) }()

	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET snapshot = $1, updated_at = NOW()
		 WHERE id = $2 AND owner_id = $3`,
		blob, id, ownerID)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadSnapshot returns the stored workspace file map for a project.
func (s *Store) LoadSnapshot(ctx context.Context, ownerID, id int) (map[string]string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("load_snapshot", time.Since(start)) }()

	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM projects WHERE id = $1 AND owner_id = $2`,
		id, ownerID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snapshot := make(map[string]string)
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
	}
	return snapshot, nil
}
