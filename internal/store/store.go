package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicate signals a unique-index violation (telegram_id or email).
	// Callers resolve concurrent creates by re-fetching, not by failing the
	// request.
	ErrDuplicate = errors.New("duplicate record")
)

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
	RoleGuest Role = "GUEST"
)

type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusBlocked Status = "BLOCKED"
)

// User is the persistent account record, uniquely indexed by TelegramID.
type User struct {
	ID                string
	Email             string
	Name              string
	Image             string
	TelegramID        string
	TelegramFirstName string
	TelegramUsername  string
	TelegramPhoto     string
	TelegramLinkedAt  *time.Time
	LastLoginAt       *time.Time
	Role              Role
	Status            Status
	CreatedAt         time.Time
}

// Disposition of an IP rule.
type Disposition string

const (
	DispositionAllow Disposition = "allow"
	DispositionBlock Disposition = "block"
)

// IPRule matches an exact address or a CIDR range. Inactive or expired rules
// are excluded from evaluation.
type IPRule struct {
	ID          string
	Pattern     string
	Disposition Disposition
	Active      bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

type AuditEntry struct {
	ID        string
	UserID    string
	Action    string
	Details   string
	CreatedAt time.Time
}

type UserRepository interface {
	GetUserByTelegramID(ctx context.Context, telegramID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
	// UpdateUserLogin refreshes display metadata, role and lastLoginAt after
	// a successful verification. TelegramID on u links the account when the
	// record was found through the placeholder email fallback.
	UpdateUserLogin(ctx context.Context, u *User) error
}

type RuleRepository interface {
	ListActiveIPRules(ctx context.Context) ([]IPRule, error)
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

type Store interface {
	UserRepository
	RuleRepository
	AuditRepository
}
