package auth

import "testing"

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("relay-shared-secret-1")
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	if !VerifySecret(hash, "relay-shared-secret-1") {
		t.Fatal("expected secret to verify")
	}
	if VerifySecret(hash, "wrong-secret-value") {
		t.Fatal("expected wrong secret to fail")
	}
}

func TestHashSecretRejectsShortSecrets(t *testing.T) {
	if _, err := HashSecret("short"); err == nil {
		t.Fatal("short secret accepted")
	}
}

func TestVerifySecretEmptyHash(t *testing.T) {
	if VerifySecret("", "anything") {
		t.Fatal("empty hash verified")
	}
	if VerifySecret("   ", "anything") {
		t.Fatal("blank hash verified")
	}
}
