package feishu

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestDecryptEventRoundTrip(t *testing.T) {
	key := "test-encrypt-key"
	plaintext := []byte(`{"schema":"2.0","header":{"token":"tok"}}`)
	iv := bytes.Repeat([]byte{0x42}, 16)

	encrypted, err := EncryptEvent(plaintext, key, iv)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	decrypted, err := DecryptEvent(encrypted, key)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch: %q", decrypted)
	}
}

func TestDecryptEventWrongKey(t *testing.T) {
	iv := bytes.Repeat([]byte{0x01}, 16)
	encrypted, err := EncryptEvent([]byte(`{"a":1}`), "key-one", iv)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	// A wrong key yields either a padding error or garbage; it must
	// never reproduce the plaintext.
	if plaintext, err := DecryptEvent(encrypted, "key-two"); err == nil && bytes.Equal(plaintext, []byte(`{"a":1}`)) {
		t.Fatalf("wrong key reproduced plaintext: %q", plaintext)
	}
}

func TestDecryptEventRejectsShortPayload(t *testing.T) {
	if _, err := DecryptEvent("AAAA", "key"); err == nil {
		t.Fatal("expected error for payload shorter than IV")
	}
	if _, err := DecryptEvent("!!!not-base64!!!", "key"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
}

func TestVerifySignature(t *testing.T) {
	ts, nonce, key, body := "1700000000", "nonce-1", "encrypt-key", `{"hello":"world"}`
	sum := sha256.Sum256([]byte(ts + nonce + key + body))
	sig := hex.EncodeToString(sum[:])

	if !VerifySignature(ts, nonce, key, body, sig) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature(ts, nonce, key, `{"hello":"world!"}`, sig) {
		t.Fatal("mutated body accepted")
	}
	flip := "0"
	if sig[len(sig)-1] == '0' {
		flip = "1"
	}
	if VerifySignature(ts, nonce, key, body, sig[:len(sig)-1]+flip) {
		t.Fatal("mutated signature accepted")
	}
}
