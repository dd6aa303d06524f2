// Package identity registers users, checks their passwords and issues the
// signed session tokens the API authenticates with.
package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/crewtasks/internal/apperr"
	"github.com/dukerupert/crewtasks/internal/model"
	"github.com/dukerupert/crewtasks/internal/store"
)

const minPasswordLen = 8

var (
	ErrAlreadyRegistered  = fmt.Errorf("%w: email already registered", apperr.ErrAuth)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrAuth)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired session", apperr.ErrAuth)
)

// Claims are carried in every session token.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

type Session struct {
	Token     string         `json:"access_token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Profile   *model.Profile `json:"user"`
}

type SignUpInput struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	FullName   string     `json:"full_name"`
	Department string     `json:"department"`
	Title      string     `json:"title"`
	Role       model.Role `json:"role"`
}

type Service struct {
	profiles   *store.ProfileStore
	creds      *store.CredentialStore
	secret     []byte
	ttl        time.Duration
	bcryptCost int
	now        func() time.Time
	logger     *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost lowers hashing cost, for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

func NewService(profiles *store.ProfileStore, creds *store.CredentialStore, secret string, ttl time.Duration, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		profiles:   profiles,
		creds:      creds,
		secret:     []byte(secret),
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignUp registers a new account. New accounts wait for admin approval,
// except the very first one, which becomes an approved admin.
func (s *Service) SignUp(in SignUpInput) (*model.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email address", apperr.ErrValidation)
	}
	if len(in.Password) < minPasswordLen {
		return nil, fmt.Errorf("%w: password must be at least %d characters", apperr.ErrValidation, minPasswordLen)
	}
	role := in.Role
	if role == "" {
		role = model.RoleEmployee
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, in.Role)
	}

	existing, err := s.creds.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyRegistered
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	all, err := s.profiles.List()
	if err != nil {
		return nil, err
	}
	approved := false
	if len(all) == 0 {
		role = model.RoleAdmin
		approved = true
	}

	profile, err := s.profiles.Create(model.Profile{
		ID:         uuid.NewString(),
		FullName:   strings.TrimSpace(in.FullName),
		Email:      email,
		Role:       role,
		Department: strings.TrimSpace(in.Department),
		Title:      strings.TrimSpace(in.Title),
		IsApproved: approved,
	})
	if err != nil {
		return nil, err
	}
	if err := s.creds.Create(profile.ID, email, string(hash)); err != nil {
		if delErr := s.profiles.Delete(profile.ID); delErr != nil {
			s.logger.Error("remove profile after failed sign up", "user_id", profile.ID, "error", delErr)
		}
		return nil, err
	}

	s.logger.Info("user signed up", "user_id", profile.ID, "role", profile.Role, "approved", profile.IsApproved)
	return profile, nil
}

// SignIn checks the password and issues a session token. Unapproved
// users may sign in; the API gates them afterwards.
func (s *Service) SignIn(email, password string) (*Session, error) {
	cred, err := s.creds.GetByEmail(email)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	profile, err := s.profiles.GetByID(cred.UserID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrInvalidCredentials
	}

	token, expires, err := s.issue(profile)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, Profile: profile}, nil
}

func (s *Service) issue(p *model.Profile) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a session token and rejects revoked ones.
func (s *Service) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}

	revoked, err := s.creds.IsRevoked(claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignOut revokes the token until its natural expiry.
func (s *Service) SignOut(token string) error {
	claims, err := s.Verify(token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil
		}
		return err
	}
	return s.creds.RevokeToken(claims.ID, claims.ExpiresAt.Time)
}

// DeleteUser removes the account and everything that references it.
func (s *Service) DeleteUser(userID string) error {
	p, err := s.profiles.GetByID(userID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("user %q: %w", userID, apperr.ErrNotFound)
	}
	if err := s.profiles.Delete(userID); err != nil {
		return err
	}
	s.logger.Info("user deleted", "user_id", userID)
	return nil
}

// PruneRevocations drops revocations for tokens that have expired anyway.
func (s *Service) PruneRevocations() (int64, error) {
	return s.creds.DeleteExpiredRevocations(s.now())
}
