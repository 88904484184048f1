package auth

import (
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(&Config{JWTSecret: "test-secret", TokenExpiry: time.Minute})
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := s.RegisterUser(&User{Username: "alice", PasswordHash: hash, Role: RoleOpsAdmin, Enabled: true}); err != nil {
		t.Fatalf("RegisterUser: %v", err)
	}
	return s
}

func TestAuthenticateAndValidate(t *testing.T) {
	s := newTestService(t)
	session, err := s.Authenticate("alice", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if session.Role != RoleOpsAdmin {
		t.Fatalf("Role = %q, want %q", session.Role, RoleOpsAdmin)
	}

	got, err := s.ValidateToken(session.Token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if got.Username != "alice" {
		t.Fatalf("Username = %q, want alice", got.Username)
	}
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Authenticate("alice", "wrong"); err != ErrInvalidCredentials {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthenticateDisabledUser(t *testing.T) {
	s := NewService(&Config{JWTSecret: "test-secret", TokenExpiry: time.Minute})
	hash, _ := HashPassword("hunter2")
	_ = s.RegisterUser(&User{Username: "bob", PasswordHash: hash, Role: RoleOpsViewer, Enabled: false})
	if _, err := s.Authenticate("bob", "hunter2"); err != ErrUserDisabled {
		t.Fatalf("err = %v, want ErrUserDisabled", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	admin := &Session{Role: RoleOpsAdmin}
	viewer := &Session{Role: RoleOpsViewer}
	if err := RequireAdmin(admin); err != nil {
		t.Fatalf("RequireAdmin(admin): %v", err)
	}
	if err := RequireAdmin(viewer); err != ErrPermissionDenied {
		t.Fatalf("RequireAdmin(viewer) = %v, want ErrPermissionDenied", err)
	}
}

func TestValidateTokenExpired(t *testing.T) {
	s := NewService(&Config{JWTSecret: "test-secret", TokenExpiry: -time.Minute})
	hash, _ := HashPassword("hunter2")
	_ = s.RegisterUser(&User{Username: "carol", PasswordHash: hash, Role: RoleOpsViewer, Enabled: true})
	session, err := s.Authenticate("carol", "hunter2")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := s.ValidateToken(session.Token); err != ErrTokenExpired {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}
