package auth

import "testing"

func TestHashAndVerifyPassword(t *testing.T) {
	salt, hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if salt == "" || hash == "" {
		t.Fatal("Expected non-empty salt and hash")
	}

	if !VerifyPassword("hunter22", salt, hash) {
		t.Error("Expected the correct password to verify")
	}
	if VerifyPassword("wrong", salt, hash) {
		t.Error("Expected the wrong password to fail")
	}
	if VerifyPassword("hunter22", "deadbeef", hash) {
		t.Error("Expected a different salt to fail")
	}
}

func TestHashPasswordSaltsDiffer(t *testing.T) {
	salt1, hash1, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	salt2, hash2, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if salt1 == salt2 {
		t.Error("Expected fresh salts per call")
	}
	if hash1 == hash2 {
		t.Error("Expected different hashes for different salts")
	}
}

func TestNewToken(t *testing.T) {
	tok1, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken failed: %v", err)
	}
	tok2, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken failed: %v", err)
	}
	if len(tok1) != tokenBytes*2 {
		t.Errorf("Expected %d hex chars, got %d", tokenBytes*2, len(tok1))
	}
	if tok1 == tok2 {
		t.Error("Expected tokens to be unique")
	}
}
