// Package registry keeps the alias table that maps short source names
// to OpenAPI document URLs. It offers a Postgres-backed store and an
// in-memory store behind one interface, plus a service layer that
// enforces the https rule and inspects registered documents.
package registry

import (
	"errors"
	"time"
)

var (
	// ErrNotFound marks lookups for aliases the store does not hold.
	ErrNotFound = errors.New("source not found")
	// ErrExists marks create attempts on a taken alias.
	ErrExists = errors.New("source already exists")
	// ErrInsecureSource rejects registration of non-https document URLs.
	ErrInsecureSource = errors.New("source url must use https")
	// ErrInvalidAlias rejects names that cannot serve as a path segment.
	ErrInvalidAlias = errors.New("invalid source alias")
)

// Source represents one row of the mcp_sources table.
type Source struct {
	ID          int       `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	URL         string    `json:"url" db:"url"`
	Description string    `json:"description,omitempty" db:"description"`
	Active      bool      `json:"active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Store is the alias table contract shared by the Postgres and memory
// backends. Names are the unique keys.
type Store interface {
	List(activeOnly bool) ([]*Source, error)
	Get(name string) (*Source, error)
	Create(src *Source) (*Source, error)
	Update(src *Source) (*Source, error)
	SetActive(name string, active bool) error
	Delete(name string) error
	Close() error
}
