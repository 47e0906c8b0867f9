package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for a unique constraint
// failure.
const uniqueViolation = "23505"

// Connect opens a pooled connection to the PostgreSQL database named
// by databaseURL and verifies it with a ping.
func Connect(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is not set")
	}
	if !strings.HasPrefix(databaseURL, "postgres://") && !strings.HasPrefix(databaseURL, "postgresql://") {
		return nil, fmt.Errorf("database URL must start with 'postgres://' or 'postgresql://'")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// RunMigrations creates the mcp_sources table with its indexes and the
// updated_at trigger.
func RunMigrations(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS mcp_sources (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) UNIQUE NOT NULL,
		url TEXT NOT NULL,
		description TEXT DEFAULT '',
		is_active BOOLEAN DEFAULT true,
		created_at TIMESTAMP(6) DEFAULT NOW(),
		updated_at TIMESTAMP(6) DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_mcp_sources_name ON mcp_sources(name);
	CREATE INDEX IF NOT EXISTS idx_mcp_sources_is_active ON mcp_sources(is_active);

	CREATE OR REPLACE FUNCTION update_updated_at_column()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = NOW();
		RETURN NEW;
	END;
	$$ language 'plpgsql';

	DROP TRIGGER IF EXISTS update_mcp_sources_updated_at ON mcp_sources;
	CREATE TRIGGER update_mcp_sources_updated_at
		BEFORE UPDATE ON mcp_sources
		FOR EACH ROW
		EXECUTE FUNCTION update_updated_at_column();
	`

	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create mcp_sources table: %v", err)
	}
	return nil
}

// PostgresStore implements Store over database/sql with the lib/pq
// driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection. The caller owns
// migrations; run RunMigrations first.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(activeOnly bool) ([]*Source, error) {
	query := `
		SELECT id, name, url, description, is_active, created_at, updated_at
		FROM mcp_sources
		ORDER BY name
	`
	if activeOnly {
		query = `
		SELECT id, name, url, description, is_active, created_at, updated_at
		FROM mcp_sources
		WHERE is_active = true
		ORDER BY name
	`
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %v", err)
	}
	defer rows.Close()

	var sources []*Source
	for rows.Next() {
		src := &Source{}
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.Description, &src.Active, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %v", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) Get(name string) (*Source, error) {
	query := `
		SELECT id, name, url, description, is_active, created_at, updated_at
		FROM mcp_sources
		WHERE name = $1
	`

	src := &Source{}
	err := s.db.QueryRow(query, name).Scan(&src.ID, &src.Name, &src.URL, &src.Description, &src.Active, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get source: %v", err)
	}
	return src, nil
}

func (s *PostgresStore) Create(src *Source) (*Source, error) {
	query := `
		INSERT INTO mcp_sources (name, url, description, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := s.db.QueryRow(query, src.Name, src.URL, src.Description, src.Active).
		Scan(&src.ID, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", ErrExists, src.Name)
		}
		return nil, fmt.Errorf("failed to create source: %v", err)
	}
	return src, nil
}

func (s *PostgresStore) Update(src *Source) (*Source, error) {
	query := `
		UPDATE mcp_sources
		SET url = $2, description = $3, is_active = $4, updated_at = NOW()
		WHERE name = $1
		RETURNING id, updated_at
	`

	err := s.db.QueryRow(query, src.Name, src.URL, src.Description, src.Active).
		Scan(&src.ID, &src.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, src.Name)
		}
		return nil, fmt.Errorf("failed to update source: %v", err)
	}
	return src, nil
}

func (s *PostgresStore) SetActive(name string, active bool) error {
	result, err := s.db.Exec(`UPDATE mcp_sources SET is_active = $2, updated_at = NOW() WHERE name = $1`, name, active)
	if err != nil {
		return fmt.Errorf("failed to set active status: %v", err)
	}
	return requireRow(result, name)
}

func (s *PostgresStore) Delete(name string) error {
	result, err := s.db.Exec(`DELETE FROM mcp_sources WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete source: %v", err)
	}
	return requireRow(result, name)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// requireRow turns a zero-row Exec into ErrNotFound.
func requireRow(result sql.Result, name string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %v", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
