package templates

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("template not found")
	ErrNameTaken = errors.New("template name already exists")
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a template and its first version, active from the start, in
// one transaction.
func (r *Repository) Create(ctx context.Context, t *Template, subject, body, language string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
        INSERT INTO templates (name, type, created_at)
        VALUES ($1, $2, NOW())
        RETURNING id, created_at
    `, t.Name, t.Type).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	var v Version
	err = tx.QueryRow(ctx, `
        INSERT INTO template_versions (template_id, subject, body, language, version, is_active, created_at)
        VALUES ($1, $2, $3, $4, 1, TRUE, NOW())
        RETURNING id, template_id, subject, body, language, version, is_active, created_at
    `, t.ID, subject, body, language).Scan(
		&v.ID, &v.TemplateID, &v.Subject, &v.Body, &v.Language, &v.Version, &v.IsActive, &v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	t.Versions = []Version{v}
	return nil
}

// GetActiveByName returns the active version of the named template.
func (r *Repository) GetActiveByName(ctx context.Context, name string) (*Active, error) {
	var a Active
	err := r.db.QueryRow(ctx, `
        SELECT v.id, v.template_id, t.name, t.type, v.subject, v.body, v.language, v.version
        FROM template_versions v
        JOIN templates t ON t.id = v.template_id
        WHERE t.name = $1 AND v.is_active
        LIMIT 1
    `, name).Scan(&a.ID, &a.TemplateID, &a.Name, &a.Type, &a.Subject, &a.Body, &a.Language, &a.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID returns the template with all its versions, newest first.
func (r *Repository) GetByID(ctx context.Context, id string) (*Template, error) {
	var t Template
	err := r.db.QueryRow(ctx, `
        SELECT id, name, type, created_at FROM templates WHERE id = $1
    `, id).Scan(&t.ID, &t.Name, &t.Type, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
        SELECT id, template_id, subject, body, language, version, is_active, created_at
        FROM template_versions
        WHERE template_id = $1
        ORDER BY version DESC
    `, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.TemplateID, &v.Subject, &v.Body, &v.Language, &v.Version, &v.IsActive, &v.CreatedAt); err != nil {
			return nil, err
		}
		t.Versions = append(t.Versions, v)
	}
	return &t, rows.Err()
}

// AddVersion deactivates the template's current versions for the language and
// appends the next version as active.
func (r *Repository) AddVersion(ctx context.Context, templateID, subject, body, language string) (*Version, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var next int
	err = tx.QueryRow(ctx, `
        SELECT COALESCE(MAX(version), 0) + 1
        FROM template_versions
        WHERE template_id = $1 AND language = $2
    `, templateID, language).Scan(&next)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
        UPDATE template_versions SET is_active = FALSE
        WHERE template_id = $1 AND language = $2
    `, templateID, language)
	if err != nil {
		return nil, err
	}

	var v Version
	err = tx.QueryRow(ctx, `
        INSERT INTO template_versions (template_id, subject, body, language, version, is_active, created_at)
        VALUES ($1, $2, $3, $4, $5, TRUE, NOW())
        RETURNING id, template_id, subject, body, language, version, is_active, created_at
    `, templateID, subject, body, language, next).Scan(
		&v.ID, &v.TemplateID, &v.Subject, &v.Body, &v.Language, &v.Version, &v.IsActive, &v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &v, tx.Commit(ctx)
}

// NameOf resolves a template id to its unique name, for cache invalidation.
func (r *Repository) NameOf(ctx context.Context, templateID string) (string, error) {
	var name string
	err := r.db.QueryRow(ctx, `SELECT name FROM templates WHERE id = $1`, templateID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}
