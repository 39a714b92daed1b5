package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/openfacil/facilityhub/internal/database"
	"github.com/openfacil/facilityhub/internal/models"
	"github.com/openfacil/facilityhub/internal/security"
)

// ErrUserNotFound is returned when a lookup matches no user row.
var ErrUserNotFound = errors.New("user not found")

// UserRepository handles user account database operations.
//
// The phone column is encrypted at rest: Create seals it into an AES-GCM
// envelope and lookups open it transparently. Decryption is tolerant, so
// rows written before encryption was enabled still read back correctly.
type UserRepository struct {
	cipher *security.Cipher
}

// NewUserRepository creates a new UserRepository using cipher for
// field-level encryption.
func NewUserRepository(cipher *security.Cipher) *UserRepository {
	return &UserRepository{cipher: cipher}
}

// FindByEmail retrieves a user by email address. Used during login.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT id, email, name, role, phone, password_hash, created_at FROM users WHERE email = $1`

	var user models.User
	err := database.DB.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.Phone, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	user.Phone = r.cipher.Decrypt(user.Phone)
	return &user, nil
}

// FindByID retrieves a user by primary key. Used for session validation.
func (r *UserRepository) FindByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT id, email, name, role, phone, password_hash, created_at FROM users WHERE id = $1`

	var user models.User
	err := database.DB.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.Phone, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by id: %w", err)
	}

	user.Phone = r.cipher.Decrypt(user.Phone)
	return &user, nil
}

// Create inserts a new user and fills in the generated ID and timestamp.
// The phone number is encrypted before it reaches the database.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	encryptedPhone, err := r.cipher.Encrypt(user.Phone)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	query := `
        INSERT INTO users (email, name, role, phone, password_hash)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at
    `

	err = database.DB.QueryRow(ctx, query,
		user.Email, user.Name, user.Role, encryptedPhone, user.PasswordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// List returns all users ordered by name. Used by the user administration
// page behind the admin.users capability.
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	query := `SELECT id, email, name, role, phone, password_hash, created_at FROM users ORDER BY name`

	rows, err := database.DB.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(
			&user.ID, &user.Email, &user.Name, &user.Role, &user.Phone, &user.PasswordHash, &user.CreatedAt,
		); err != nil {
			return nil, err
		}
		user.Phone = r.cipher.Decrypt(user.Phone)
		users = append(users, user)
	}

	return users, rows.Err()
}
