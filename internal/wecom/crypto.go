package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrBadAESKey          = errors.New("wecom: encodingAesKey must decode to 32 bytes")
	ErrCiphertextTooShort = errors.New("wecom: ciphertext too short")
	ErrCorpIDMismatch     = errors.New("wecom: corp id mismatch")
)

const cryptoBlockSize = 32

// decodeAESKey decodes the 43-character encodingAesKey. WeCom strips
// the trailing "=" from the base64 form, so it goes back on here.
func decodeAESKey(encodingAESKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encodingAESKey) + "=")
	if err != nil || len(key) != 32 {
		return nil, ErrBadAESKey
	}
	return key, nil
}

// DecryptMessage decrypts an encrypted webhook payload and checks the
// embedded corp id. The plaintext frame is
// random(16) | msgLen(4, big-endian) | msg | corpId.
func DecryptMessage(encryptedMsg, encodingAESKey, corpID string) (string, error) {
	key, err := decodeAESKey(encodingAESKey)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encryptedMsg)
	if err != nil {
		return "", fmt.Errorf("wecom: decode encrypted payload: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrCiphertextTooShort
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, key[:aes.BlockSize]).CryptBlocks(plaintext, raw)

	// Padding outside 1..32 means the buffer is taken as-is, matching
	// the reference algorithm.
	if padLen := int(plaintext[len(plaintext)-1]); padLen >= 1 && padLen <= cryptoBlockSize && padLen <= len(plaintext) {
		plaintext = plaintext[:len(plaintext)-padLen]
	}
	if len(plaintext) < 20 {
		return "", ErrCiphertextTooShort
	}

	msgLen := int(binary.BigEndian.Uint32(plaintext[16:20]))
	if 20+msgLen > len(plaintext) {
		return "", ErrCiphertextTooShort
	}
	msg := string(plaintext[20 : 20+msgLen])
	embeddedCorpID := string(plaintext[20+msgLen:])
	if embeddedCorpID != corpID {
		return "", fmt.Errorf("%w: expected %s, got %s", ErrCorpIDMismatch, corpID, embeddedCorpID)
	}
	return msg, nil
}

// EncryptMessage builds an encrypted payload for a reply or for tests:
// the inverse of DecryptMessage with a fresh 16-byte random prefix.
func EncryptMessage(msg, encodingAESKey, corpID string) (string, error) {
	key, err := decodeAESKey(encodingAESKey)
	if err != nil {
		return "", err
	}
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", err
	}

	msgBytes := []byte(msg)
	frame := make([]byte, 0, 20+len(msgBytes)+len(corpID))
	frame = append(frame, random...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(msgBytes)))
	frame = append(frame, msgBytes...)
	frame = append(frame, corpID...)

	padLen := cryptoBlockSize - len(frame)%cryptoBlockSize
	for i := 0; i < padLen; i++ {
		frame = append(frame, byte(padLen))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(frame))
	cipher.NewCBCEncrypter(block, key[:aes.BlockSize]).CryptBlocks(out, frame)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Signature computes the SHA-1 webhook signature over the
// lexicographically sorted parameters.
func Signature(token, timestamp, nonce, payload string) string {
	parts := []string{token, timestamp, nonce, payload}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares the expected signature in constant time.
func VerifySignature(token, timestamp, nonce, payload, signature string) bool {
	expected := Signature(token, timestamp, nonce, payload)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
