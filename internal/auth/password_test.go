package auth

import (
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	t.Run("hash verifies against the password", func(t *testing.T) {
		hash, err := HashPassword("clave-segura")
		if err != nil {
			t.Fatalf("HashPassword() error: %v", err)
		}
		if !strings.HasPrefix(hash, "$2a$12$") {
			t.Errorf("HashPassword() = %q, want a cost 12 bcrypt hash", hash)
		}
		if !CheckPassword("clave-segura", hash) {
			t.Error("CheckPassword() = false for the hashed password")
		}
		if CheckPassword("otra-clave", hash) {
			t.Error("CheckPassword() = true for a different password")
		}
	})

	t.Run("empty password rejected", func(t *testing.T) {
		if _, err := HashPassword(""); err == nil {
			t.Error("HashPassword(\"\") expected error, got nil")
		}
	})

	t.Run("same password hashes differently", func(t *testing.T) {
		a, _ := HashPassword("x")
		b, _ := HashPassword("x")
		if a == b {
			t.Error("HashPassword() produced identical hashes")
		}
	})
}

func TestCheckPassword_EmptyHash(t *testing.T) {
	if CheckPassword("anything", "") {
		t.Error("CheckPassword() = true with an empty stored hash")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc.def.ghi", want: "abc.def.ghi"},
		{name: "surrounding spaces trimmed", header: "Bearer   abc  ", want: "abc"},
		{name: "empty header", header: "", wantErr: true},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", wantErr: true},
		{name: "missing token", header: "Bearer ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBearerToken(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExtractBearerToken(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
