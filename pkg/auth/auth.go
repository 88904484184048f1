// Package auth provides bearer-token authentication for the ops API
// (pkg/ops). It has no bearing on the S6a Diameter path: only the read-only
// operability surface sits behind it.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Service issues and validates ops-API sessions.
type Service struct {
	mu        sync.RWMutex
	config    *Config
	jwtSecret []byte
	users     map[string]*User
	sessions  map[string]*Session
}

// Config holds authentication configuration.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// User represents an ops-API operator account.
type User struct {
	Username     string
	PasswordHash string
	Role         Role
	Enabled      bool
	LastLogin    time.Time
}

// Session represents an active ops-API session.
type Session struct {
	Token     string
	Username  string
	Role      Role
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Role represents an ops-API operator role. There is no provisioning role:
// the ops API can read subscriber status but never create, edit, or delete
// a subscriber record.
type Role string

const (
	RoleOpsAdmin  Role = "ops_admin"
	RoleOpsViewer Role = "ops_viewer"
)

// Claims represents the JWT claims issued for an ops-API session.
type Claims struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserDisabled       = errors.New("user account disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrPermissionDenied   = errors.New("permission denied")
)

// NewService creates a new authentication service.
func NewService(config *Config) *Service {
	return &Service{
		config:    config,
		jwtSecret: []byte(config.JWTSecret),
		users:     make(map[string]*User),
		sessions:  make(map[string]*Session),
	}
}

// RegisterUser registers a new ops-API operator.
func (s *Service) RegisterUser(user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("user already exists")
	}
	s.users[user.Username] = user
	return nil
}

// Authenticate verifies a username/password pair and issues a session.
func (s *Service) Authenticate(username, password string) (*Session, error) {
	s.mu.Lock()
	user, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	s.mu.Lock()
	user.LastLogin = time.Now()
	s.mu.Unlock()

	return s.createSession(user)
}

func (s *Service) createSession(user *User) (*Session, error) {
	expiresAt := time.Now().Add(s.config.TokenExpiry)

	claims := &Claims{
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.Username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	session := &Session{
		Token:     tokenString,
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
	}

	s.mu.Lock()
	s.sessions[tokenString] = session
	s.mu.Unlock()

	return session, nil
}

// ValidateToken validates a bearer token and returns its session.
func (s *Service) ValidateToken(tokenString string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[tokenString]
	s.mu.RUnlock()
	if ok {
		if time.Now().After(session.ExpiresAt) {
			s.mu.Lock()
			delete(s.sessions, tokenString)
			s.mu.Unlock()
			return nil, ErrTokenExpired
		}
		return session, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	session = &Session{
		Token:     tokenString,
		Username:  claims.Username,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	s.mu.Lock()
	s.sessions[tokenString] = session
	s.mu.Unlock()
	return session, nil
}

// RequireAdmin returns ErrPermissionDenied unless the session belongs to an
// ops_admin operator.
func RequireAdmin(session *Session) error {
	if session.Role != RoleOpsAdmin {
		return ErrPermissionDenied
	}
	return nil
}

// Logout invalidates a session.
func (s *Service) Logout(token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// HashPassword generates a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
