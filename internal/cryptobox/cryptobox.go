// Package cryptobox encrypts JSON payloads with a day-rotating symmetric
// key, for the encrypted wire fields and the persisted client cache.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDecryptFailure marks input that cannot be decrypted: a rotated key,
// a truncated envelope, or plain corruption. Callers recover by treating
// the payload as empty.
var ErrDecryptFailure = errors.New("decrypt failure")

// envelopeVersion is the schema version byte prefixed to every ciphertext
// so a future format change is detectable instead of surfacing as a
// spurious decrypt failure.
const envelopeVersion byte = 1

const nonceSize = 12

// Box seals and opens JSON payloads with AES-256-GCM. The key is derived
// from the configured secret and the calendar day, so values sealed today
// open today and a fresh key rolls in at midnight UTC.
type Box struct {
	secret string
	now    func() time.Time
}

func New(secret string) *Box {
	return &Box{secret: secret, now: time.Now}
}

// NewAt pins the clock, for tests that need to cross a key rotation.
func NewAt(secret string, now func() time.Time) *Box {
	return &Box{secret: secret, now: now}
}

// Now returns the box's current time. Callers that need expiry checks
// aligned with seal/open use this instead of time.Now.
func (b *Box) Now() time.Time {
	return b.now()
}

// key derives the AES-256 key for the given instant: sha256 of the
// calendar day concatenated with the secret.
func (b *Box) key(t time.Time) []byte {
	day := t.UTC().Format("2006-01-02")
	sum := sha256.Sum256([]byte(day + b.secret))
	return sum[:]
}

// Seal marshals v to JSON and encrypts it, returning a base64 envelope of
// version byte || nonce || ciphertext.
func (b *Box) Seal(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	block, err := aes.NewCipher(b.key(b.now()))
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	envelope := make([]byte, 0, 1+nonceSize+len(sealed))
	envelope = append(envelope, envelopeVersion)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// Open decrypts an envelope produced by Seal and unmarshals the JSON into
// v. Every failure (bad base64, unknown version, authentication failure,
// malformed JSON) comes back wrapped in ErrDecryptFailure.
func (b *Box) Open(ciphertext string, v any) error {
	if ciphertext == "" {
		return fmt.Errorf("%w: empty payload", ErrDecryptFailure)
	}

	envelope, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}
	if len(envelope) < 1+nonceSize {
		return fmt.Errorf("%w: envelope too short", ErrDecryptFailure)
	}
	if envelope[0] != envelopeVersion {
		return fmt.Errorf("%w: unknown envelope version %d", ErrDecryptFailure, envelope[0])
	}
	nonce, sealed := envelope[1:1+nonceSize], envelope[1+nonceSize:]

	block, err := aes.NewCipher(b.key(b.now()))
	if err != nil {
		return fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("new gcm: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecryptFailure, err)
	}
	return nil
}
