// Package auth implements Register and Login for admin users.
// Handles password hashing, credential verification, and JWT issuance.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	domainaudit "github.com/hondana-dev/hondana/internal/domain/audit"
	pkgauth "github.com/hondana-dev/hondana/pkg/auth"
	"github.com/hondana-dev/hondana/pkg/uuid"
)

// ErrInvalidCredentials is returned by Login when email or password is incorrect.
// Using a single error for both cases avoids leaking whether an email exists (security).
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrEmailAlreadyExists is returned by Register when the email is already taken.
var ErrEmailAlreadyExists = errors.New("email already registered")

// DefaultRole is assigned to newly registered admin users.
const DefaultRole = "admin"

// RegisterInput holds the data needed to create a new admin user.
type RegisterInput struct {
	Email    string
	Password string
}

// LoginInput holds the credentials for authentication.
type LoginInput struct {
	Email    string
	Password string
}

// Result is returned after successful Register or Login.
// Token is a signed JWT containing UserID and Role claims.
type Result struct {
	Token  string
	UserID string
	Role   string
}

// Service defines the authentication business operations.
type Service interface {
	Register(ctx context.Context, input RegisterInput) (*Result, error)
	Login(ctx context.Context, input LoginInput) (*Result, error)
}

// service is the concrete implementation backed by SQLite.
type service struct {
	db          *sql.DB
	auditLogger auditLogger
}

type auditLogger interface {
	LogWithDetails(
		ctx context.Context,
		actorID string,
		actorType domainaudit.ActorType,
		action string,
		entityType *string,
		entityID *string,
		details *domainaudit.EventDetails,
		outcome domainaudit.Outcome,
	) error
}

// NewService creates a new Service backed by the provided DB.
func NewService(db *sql.DB) Service {
	return &service{db: db}
}

// NewServiceWithAudit creates a new Service with audit logging.
func NewServiceWithAudit(db *sql.DB, logger auditLogger) Service {
	return &service{db: db, auditLogger: logger}
}

// Register creates a new admin user and returns a JWT.
// Password is hashed with bcrypt before storage; plaintext is never stored.
func (s *service) Register(ctx context.Context, input RegisterInput) (*Result, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || input.Password == "" {
		return nil, errors.New("email and password are required")
	}

	hash, err := pkgauth.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userID := uuid.NewV7()
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admin_user (id, email, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, email, hash, DefaultRole, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := pkgauth.GenerateJWT(userID, DefaultRole)
	if err != nil {
		s.logAuthFailure(ctx, userID, "register", "jwt_generation_failed")
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}

	s.logAuthSuccess(ctx, userID, "register")

	return &Result{Token: token, UserID: userID, Role: DefaultRole}, nil
}

// Login verifies credentials and returns a JWT.
// Always returns ErrInvalidCredentials for any failure (email not found OR
// wrong password) to avoid revealing whether the email exists (security).
func (s *service) Login(ctx context.Context, input LoginInput) (*Result, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))

	var userID, role string
	var passwordHash sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, role, password_hash
		FROM admin_user
		WHERE email = ?
		LIMIT 1
	`, email).Scan(&userID, &role, &passwordHash)

	if err != nil {
		// Whether the user doesn't exist or there's a DB error, return generic message
		s.logAuthFailure(ctx, "unknown", "login", "user_not_found_or_query_error")
		return nil, ErrInvalidCredentials
	}

	if !passwordHash.Valid || passwordHash.String == "" {
		s.logAuthFailure(ctx, userID, "login", "missing_password_hash")
		return nil, ErrInvalidCredentials
	}

	// Verify password (constant-time comparison via bcrypt)
	if !pkgauth.VerifyPassword(passwordHash.String, input.Password) {
		s.logAuthFailure(ctx, userID, "login", "invalid_password")
		return nil, ErrInvalidCredentials
	}

	token, err := pkgauth.GenerateJWT(userID, role)
	if err != nil {
		s.logAuthFailure(ctx, userID, "login", "jwt_generation_failed")
		return nil, fmt.Errorf("failed to generate JWT: %w", err)
	}

	s.logAuthSuccess(ctx, userID, "login")

	return &Result{Token: token, UserID: userID, Role: role}, nil
}

// isUniqueViolation checks if an SQLite error is a UNIQUE constraint violation.
// SQLite surfaces this as an error message containing "UNIQUE constraint failed".
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *service) logAuthSuccess(ctx context.Context, userID, action string) {
	if s.auditLogger == nil {
		return
	}
	_ = s.auditLogger.LogWithDetails(ctx, userID, domainaudit.ActorTypeUser,
		"auth."+action, nil, nil, nil, domainaudit.OutcomeSuccess)
}

func (s *service) logAuthFailure(ctx context.Context, userID, action, reason string) {
	if s.auditLogger == nil {
		return
	}
	_ = s.auditLogger.LogWithDetails(ctx, userID, domainaudit.ActorTypeUser,
		"auth."+action, nil, nil,
		&domainaudit.EventDetails{Metadata: map[string]string{"reason": reason}},
		domainaudit.OutcomeDenied)
}
