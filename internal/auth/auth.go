// Package auth provides the owner identity boundary: registration, login,
// bearer-token verification, and recipient resolution for notifications.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrEmailTaken indicates the address is already registered.
	ErrEmailTaken = errors.New("auth: email already registered")
	// ErrInvalidEmail indicates the address failed validation.
	ErrInvalidEmail = errors.New("auth: invalid email address")
	// ErrInvalidCredentials covers unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken covers malformed, expired, or mis-signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrUserNotFound indicates a dangling owner reference.
	ErrUserNotFound = errors.New("auth: user not found")
)

// User is a registered alert owner.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// UserStore persists registered users.
type UserStore interface {
	Create(ctx context.Context, u User) error
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
}

// MemoryUsers is a mutex-guarded in-memory UserStore.
type MemoryUsers struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]User
	byEmail map[string]uuid.UUID
}

// NewMemoryUsers constructs an empty user store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{
		byID:    make(map[uuid.UUID]User),
		byEmail: make(map[string]uuid.UUID),
	}
}

// Create stores a new user, refusing duplicate addresses.
func (m *MemoryUsers) Create(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byEmail[u.Email]; exists {
		return ErrEmailTaken
	}
	m.byID[u.ID] = u
	m.byEmail[u.Email] = u.ID
	return nil
}

// GetByEmail looks a user up by address.
func (m *MemoryUsers) GetByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return m.byID[id], nil
}

// GetByID looks a user up by identifier.
func (m *MemoryUsers) GetByID(_ context.Context, id uuid.UUID) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

var _ UserStore = (*MemoryUsers)(nil)

// Options tune the token service.
type Options struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// Service implements registration, login, and token verification.
type Service struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService wires a user store into the auth service.
func NewService(store UserStore, opts Options) *Service {
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		store:  store,
		secret: []byte(opts.JWTSecret),
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Register validates the address, hashes the password, and stores the user.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return User{}, ErrInvalidEmail
	}
	if password == "" {
		return User{}, ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u := User{
		ID:           uuid.New(),
		Email:        addr.Address,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Login verifies the credentials and issues a signed bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   u.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses a bearer token and returns the owner it identifies.
func (s *Service) VerifyToken(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, ErrInvalidToken
	}
	ownerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return ownerID, nil
}

// EmailFor resolves the notification recipient for an alert owner.
func (s *Service) EmailFor(ctx context.Context, ownerID uuid.UUID) (string, error) {
	u, err := s.store.GetByID(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}
