package auth

import (
	"testing"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash must not equal the plaintext")
	}

	if !CheckPasswordHash(hash, []byte("correct horse battery staple")) {
		t.Fatal("correct password rejected")
	}
	if CheckPasswordHash(hash, []byte("wrong password")) {
		t.Fatal("wrong password accepted")
	}
}

func TestHashPassword_Salted(t *testing.T) {
	h1, err := HashPassword([]byte("same password"))
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	h2, err := HashPassword([]byte("same password"))
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}
	if h1 == h2 {
		t.Fatal("two hashes of the same password must differ")
	}
}
