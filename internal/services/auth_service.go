// Package services provides the business logic layer for the FacilityHub
// security core. This file implements credential verification and password
// hashing with bcrypt.
package services

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/openfacil/facilityhub/internal/models"
	"github.com/openfacil/facilityhub/internal/repository"
)

// AuthService handles authentication and password management.
//
// Security Notes:
//   - bcrypt comparison is constant-time, preventing timing attacks
//   - the same error shape is returned for "no such user" and "wrong
//     password" so login responses do not reveal which accounts exist
//   - plaintext passwords are never stored or logged
type AuthService struct {
	userRepo   *repository.UserRepository
	bcryptCost int
}

// NewAuthService creates an AuthService over the given user repository.
func NewAuthService(userRepo *repository.UserRepository, bcryptCost int) *AuthService {
	return &AuthService{userRepo: userRepo, bcryptCost: bcryptCost}
}

// Authenticate verifies credentials and returns the user record on success.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.userRepo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}

	return user, nil
}

// VerifyPassword re-checks the password of an already-loaded user. Used by
// the step-up challenge, which must not leak whether other accounts exist.
func (s *AuthService) VerifyPassword(user *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
}

// HashPassword generates a bcrypt hash of the provided plaintext password.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	return string(hash), err
}
