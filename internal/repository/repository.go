// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.CaseRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
// The "memory" driver returns nil: cases then live only in the case store.
func New(cfg domain.RepositoryConfig) (domain.CaseRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "memory":
		return nil, nil
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCase inserts a case or replaces the stored copy with the same ID.
func (r *SQLRepository) SaveCase(ctx context.Context, c *domain.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case ID is required", ErrInvalidInput)
	}

	keywords, err := json.Marshal(c.MatchedKeywords)
	if err != nil {
		return fmt.Errorf("failed to encode matched keywords: %w", err)
	}

	notified := 0
	if c.Notified {
		notified = 1
	}

	query := `
		INSERT INTO cases (
			id, document_type, child_name, child_age, child_gender,
			content, extracted, prediction, notified, matched_keywords,
			created_by, last_edited_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_type = excluded.document_type,
			child_name = excluded.child_name,
			child_age = excluded.child_age,
			child_gender = excluded.child_gender,
			content = excluded.content,
			extracted = excluded.extracted,
			prediction = excluded.prediction,
			notified = excluded.notified,
			matched_keywords = excluded.matched_keywords,
			last_edited_by = excluded.last_edited_by,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		c.ID, string(c.DocumentType),
		c.Child.Name, c.Child.Age, c.Child.Gender,
		c.Content, c.Extracted, string(c.Prediction), notified, string(keywords),
		string(c.CreatedBy), string(c.LastEditedBy),
		c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
	)
	return err
}

// DeleteCase removes a case by ID.
func (r *SQLRepository) DeleteCase(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM cases WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCase retrieves a single case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, id string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListCases retrieves every case, oldest first.
func (r *SQLRepository) ListCases(ctx context.Context) ([]*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const caseColumns = `
	id, document_type, child_name, child_age, child_gender,
	content, extracted, prediction, notified, matched_keywords,
	created_by, last_edited_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var docType, prediction, createdBy, lastEditedBy, keywords string
	var notified int

	if err := row.Scan(
		&c.ID, &docType,
		&c.Child.Name, &c.Child.Age, &c.Child.Gender,
		&c.Content, &c.Extracted, &prediction, &notified, &keywords,
		&createdBy, &lastEditedBy, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}

	c.DocumentType = domain.DocumentType(docType)
	c.Prediction = domain.Severity(prediction)
	c.Notified = notified == 1
	c.CreatedBy = domain.Role(createdBy)
	c.LastEditedBy = domain.Role(lastEditedBy)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()

	if err := json.Unmarshal([]byte(keywords), &c.MatchedKeywords); err != nil {
		return nil, fmt.Errorf("failed to parse matched keywords for %s: %w", c.ID, err)
	}
	if c.MatchedKeywords == nil {
		c.MatchedKeywords = []string{}
	}
	return &c, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
