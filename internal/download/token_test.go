package download

import (
	"errors"
	"testing"
	"time"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
)

func TestIssueAndParse(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)

	signed, err := tokens.Issue(files.Scope{TenantID: 3, UserPublicID: "user@example.com"}, "Documents/Reports", "q3.pdf", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.UserPublicID != "user@example.com" {
		t.Errorf("UserPublicID = %q, want user@example.com", claims.UserPublicID)
	}
	if claims.Path != "Documents/Reports" {
		t.Errorf("Path = %q, want Documents/Reports", claims.Path)
	}
	if claims.Name != "q3.pdf" {
		t.Errorf("Name = %q, want q3.pdf", claims.Name)
	}
	if got := claims.Scope(); got.TenantID != 3 || got.UserPublicID != "user@example.com" {
		t.Errorf("Scope() = %+v", got)
	}
	if claims.Type != files.StorageType {
		t.Errorf("Type = %q, want %q", claims.Type, files.StorageType)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	tokens := NewTokens("test-secret", -time.Minute)
	signed, err := tokens.Issue(files.Scope{UserPublicID: "user@example.com"}, "", "file.txt", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Parse(signed); !errors.Is(err, files.ErrAccessDenied) {
		t.Fatalf("Parse expired token: err = %v, want ErrAccessDenied", err)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	issuer := NewTokens("secret-a", time.Hour)
	verifier := NewTokens("secret-b", time.Hour)

	signed, err := issuer.Issue(files.Scope{UserPublicID: "user@example.com"}, "", "file.txt", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Parse(signed); !errors.Is(err, files.ErrAccessDenied) {
		t.Fatalf("Parse with wrong secret: err = %v, want ErrAccessDenied", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	if _, err := tokens.Parse("not.a.token"); !errors.Is(err, files.ErrAccessDenied) {
		t.Fatalf("Parse garbage: err = %v, want ErrAccessDenied", err)
	}
}

func TestPublicHashRoundTrip(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	signed, err := tokens.Issue(files.Scope{UserPublicID: "user@example.com"}, "Shared", "pic.png", "abc123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := tokens.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.PublicHash != "abc123" {
		t.Errorf("PublicHash = %q, want abc123", claims.PublicHash)
	}
}
