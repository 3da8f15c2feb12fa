package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredential is returned when a password does not match or the
// user is missing or inactive.
var ErrInvalidCredential = errors.New("invalid credential")

// PasswordVerifier re-checks a user's password against users.password_hash.
type PasswordVerifier struct {
	pool *pgxpool.Pool
}

func NewPasswordVerifier(pool *pgxpool.Pool) *PasswordVerifier {
	return &PasswordVerifier{pool: pool}
}

func (v *PasswordVerifier) VerifyCredential(ctx context.Context, userID int64, credential string) error {
	var hash string
	err := v.pool.QueryRow(ctx,
		`SELECT password_hash FROM users WHERE id = $1 AND is_active`, userID).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrInvalidCredential
	}
	if err != nil {
		return fmt.Errorf("load password hash: %w", err)
	}
	return ComparePassword(hash, credential)
}

// HashPassword returns a bcrypt hash at the default cost.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func ComparePassword(hash, password string) error {
	if password == "" {
		return ErrInvalidCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidCredential
		}
		return fmt.Errorf("compare password: %w", err)
	}
	return nil
}
