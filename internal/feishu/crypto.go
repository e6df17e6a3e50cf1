package feishu

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrCiphertextTooShort = errors.New("feishu: ciphertext shorter than IV")
	ErrBadPadding         = errors.New("feishu: invalid ciphertext padding")
)

// DecryptEvent decrypts an encrypted event payload. Feishu uses
// AES-256-CBC with SHA-256(encryptKey) as the key; the first 16 bytes
// of the base64-decoded payload are the IV.
func DecryptEvent(encrypted, encryptKey string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("feishu: decode event payload: %w", err)
	}
	if len(raw) < aes.BlockSize {
		return nil, ErrCiphertextTooShort
	}
	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	iv := raw[:aes.BlockSize]
	ciphertext := raw[aes.BlockSize:]
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCiphertextTooShort
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	// PKCS#7 unpadding; block cipher output, so pad must be 1..16.
	padLen := int(plaintext[len(plaintext)-1])
	if padLen < 1 || padLen > aes.BlockSize || padLen > len(plaintext) {
		return nil, ErrBadPadding
	}
	for _, b := range plaintext[len(plaintext)-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadPadding
		}
	}
	return plaintext[:len(plaintext)-padLen], nil
}

// EncryptEvent is the inverse of DecryptEvent. Production traffic never
// needs it; tests and local tooling do.
func EncryptEvent(plaintext []byte, encryptKey string, iv []byte) (string, error) {
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("feishu: iv must be %d bytes", aes.BlockSize)
	}
	key := sha256.Sum256([]byte(encryptKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := make([]byte, 0, len(plaintext)+padLen)
	padded = append(padded, plaintext...)
	for i := 0; i < padLen; i++ {
		padded = append(padded, byte(padLen))
	}

	out := make([]byte, len(iv)+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[len(iv):], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// VerifySignature checks a v2 event signature:
// sha256(timestamp + nonce + encryptKey + body) hex-encoded.
func VerifySignature(timestamp, nonce, encryptKey, body, signature string) bool {
	sum := sha256.Sum256([]byte(timestamp + nonce + encryptKey + body))
	return hex.EncodeToString(sum[:]) == signature
}
