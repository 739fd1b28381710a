// Package postgres implements the account, IP rule and audit repositories on
// top of database/sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"minigate/gate-service/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

const userColumns = `id, email, name, image, telegram_id, telegram_first_name,
	telegram_username, telegram_photo, telegram_linked_at, last_login_at,
	role, status, created_at`

func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, image, telegram_id,
			telegram_first_name, telegram_username, telegram_photo,
			telegram_linked_at, last_login_at, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		u.ID, u.Email, u.Name, nullStr(u.Image), nullStr(u.TelegramID),
		nullStr(u.TelegramFirstName), nullStr(u.TelegramUsername),
		nullStr(u.TelegramPhoto), u.TelegramLinkedAt, u.LastLoginAt,
		u.Role, u.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUserLogin(ctx context.Context, u *store.User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			name = $2, image = $3, telegram_id = $4,
			telegram_first_name = $5, telegram_username = $6,
			telegram_photo = $7, telegram_linked_at = $8,
			last_login_at = $9, role = $10, status = $11
		WHERE id = $1`,
		u.ID, u.Name, nullStr(u.Image), nullStr(u.TelegramID),
		nullStr(u.TelegramFirstName), nullStr(u.TelegramUsername),
		nullStr(u.TelegramPhoto), u.TelegramLinkedAt, u.LastLoginAt,
		u.Role, u.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) ListActiveIPRules(ctx context.Context) ([]store.IPRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern, disposition, active, expires_at, created_at
		FROM ip_rules WHERE active = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("list ip rules: %w", err)
	}
	defer rows.Close()

	var out []store.IPRule
	for rows.Next() {
		var r store.IPRule
		if err := rows.Scan(&r.ID, &r.Pattern, &r.Disposition, &r.Active,
			&r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ip rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, e store.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, details)
		VALUES ($1, $2, $3, $4)`,
		e.ID, nullStr(e.UserID), e.Action, nullStr(e.Details))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func scanUser(row *sql.Row) (*store.User, error) {
	var (
		u                               store.User
		image, tgID, tgFirst, tgUser    sql.NullString
		tgPhoto                         sql.NullString
		tgLinkedAt, lastLoginAt         sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &image, &tgID, &tgFirst,
		&tgUser, &tgPhoto, &tgLinkedAt, &lastLoginAt, &u.Role, &u.Status,
		&u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Image = image.String
	u.TelegramID = tgID.String
	u.TelegramFirstName = tgFirst.String
	u.TelegramUsername = tgUser.String
	u.TelegramPhoto = tgPhoto.String
	if tgLinkedAt.Valid {
		u.TelegramLinkedAt = &tgLinkedAt.Time
	}
	if lastLoginAt.Valid {
		u.LastLoginAt = &lastLoginAt.Time
	}
	return &u, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
