package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound      = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already exists")
	ErrTokenNotFound = errors.New("push token not found")
)

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts the user and their default preferences in one transaction so
// a freshly registered user is never preference-less.
func (r *Repository) Create(ctx context.Context, u *User) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
        INSERT INTO users (email, password_hash, first_name, last_name, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        RETURNING id, created_at
    `
	err = tx.QueryRow(ctx, query, u.Email, u.PasswordHash, u.FirstName, u.LastName).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	prefQuery := `
        INSERT INTO notification_preferences (user_id, email_enabled, push_enabled)
        VALUES ($1, TRUE, TRUE)
    `
	if _, err := tx.Exec(ctx, prefQuery, u.ID); err != nil {
		return fmt.Errorf("insert default preferences: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	u.NotificationPreference = &NotificationPreference{
		UserID:       u.ID,
		EmailEnabled: true,
		PushEnabled:  true,
	}
	return nil
}

// FindByEmail returns the user row alone, hash included, for login checks.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `
        SELECT id, email, password_hash, first_name, last_name, created_at
        FROM users
        WHERE email = $1
    `
	var u User
	err := r.db.QueryRow(ctx, query, email).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns the user with preferences and push tokens attached.
func (r *Repository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `
        SELECT u.id, u.email, u.first_name, u.last_name, u.created_at,
               p.email_enabled, p.push_enabled
        FROM users u
        LEFT JOIN notification_preferences p ON p.user_id = u.id
        WHERE u.id = $1
    `
	var u User
	var emailEnabled, pushEnabled *bool
	err := r.db.QueryRow(ctx, query, id).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt,
		&emailEnabled, &pushEnabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if emailEnabled != nil && pushEnabled != nil {
		u.NotificationPreference = &NotificationPreference{
			UserID:       u.ID,
			EmailEnabled: *emailEnabled,
			PushEnabled:  *pushEnabled,
		}
	}

	tokens, err := r.listPushTokens(ctx, id)
	if err != nil {
		return nil, err
	}
	u.PushTokens = tokens
	return &u, nil
}

func (r *Repository) listPushTokens(ctx context.Context, userID string) ([]PushToken, error) {
	query := `
        SELECT id, user_id, token, device_type, device_name, created_at
        FROM push_tokens
        WHERE user_id = $1
        ORDER BY created_at
    `
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := []PushToken{}
	for rows.Next() {
		var t PushToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.DeviceType, &t.DeviceName, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// UpsertPreferences writes the user's channel switches, creating the row when
// missing.
func (r *Repository) UpsertPreferences(ctx context.Context, p *NotificationPreference) error {
	query := `
        INSERT INTO notification_preferences (user_id, email_enabled, push_enabled)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id) DO UPDATE
        SET email_enabled = EXCLUDED.email_enabled,
            push_enabled = EXCLUDED.push_enabled
    `
	_, err := r.db.Exec(ctx, query, p.UserID, p.EmailEnabled, p.PushEnabled)
	return err
}

func (r *Repository) AddPushToken(ctx context.Context, t *PushToken) error {
	query := `
        INSERT INTO push_tokens (user_id, token, device_type, device_name, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query, t.UserID, t.Token, t.DeviceType, t.DeviceName).
		Scan(&t.ID, &t.CreatedAt)
}

// DeletePushToken removes tokenID only when it belongs to userID.
func (r *Repository) DeletePushToken(ctx context.Context, userID, tokenID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM push_tokens WHERE id = $1 AND user_id = $2`, tokenID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}
