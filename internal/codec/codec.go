// Package codec serializes the session log for at-rest storage:
// JSON → zlib → symmetric cipher → base64, and the reverse on load.
//
// Two cipher modes exist. The authenticated mode derives a key with PBKDF2
// and seals with XChaCha20-Poly1305, so a tampered blob or wrong key fails on
// open. The XOR mode is a degraded fallback with no integrity guarantee and
// no real confidentiality; it keeps the engine functional when the
// authenticated primitive is unavailable and must be surfaced to the user as
// degraded. The mode is chosen once at encryption time and persisted as a
// plain field next to the ciphertext, never inside it.
package codec

import (
	"bytes"
	"compress/zlib"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"worklog/internal/chain"
)

// Mode selects the cipher used by the pipeline.
type Mode string

const (
	// ModeAuthenticated is the primary mode: PBKDF2 key derivation feeding
	// XChaCha20-Poly1305.
	ModeAuthenticated Mode = "AEAD"

	// ModeXOR is the degraded fallback: a repeating SHA-256 keystream XORed
	// over the compressed plaintext.
	ModeXOR Mode = "XOR"
)

// Key derivation parameters. The iteration count is in the OWASP-recommended
// range for PBKDF2-HMAC-SHA256.
const (
	kdfIterations = 390_000
	keySize       = 32
)

const compressionLevel = 5

var (
	ErrMissingSecret    = errors.New("codec: missing shared secret")
	ErrMissingStudentID = errors.New("codec: missing student id")
	ErrUnknownMode      = errors.New("codec: unknown encryption mode")
	ErrDecryptFailed    = errors.New("codec: decryption failed")
	ErrCorruptBlob      = errors.New("codec: corrupt blob")
)

// Valid reports whether m names a supported cipher mode.
func (m Mode) Valid() bool {
	return m == ModeAuthenticated || m == ModeXOR
}

// Degraded reports whether the mode carries no tamper resistance. This is a
// security-relevant, user-visible condition.
func (m Mode) Degraded() bool {
	return m == ModeXOR
}

// SecurityContext carries the two strings every cryptographic operation is
// bound to. The host must supply it before any log mutation; its absence is
// a hard precondition failure.
type SecurityContext struct {
	SharedSecret string
	StudentID    string
	Mode         Mode
}

// Validate checks the context preconditions.
func (sc SecurityContext) Validate() error {
	if sc.SharedSecret == "" {
		return ErrMissingSecret
	}
	if sc.StudentID == "" {
		return ErrMissingStudentID
	}
	if !sc.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, sc.Mode)
	}
	return nil
}

// Codec runs the serialization pipeline for one security context. The
// derived key is cached after the first authenticated operation, since the
// KDF is deliberately expensive.
type Codec struct {
	sec     SecurityContext
	aeadKey []byte
}

// New creates a codec, failing fast on an incomplete security context.
func New(sec SecurityContext) (*Codec, error) {
	if err := sec.Validate(); err != nil {
		return nil, err
	}
	return &Codec{sec: sec}, nil
}

// Mode returns the context's cipher mode.
func (c *Codec) Mode() Mode {
	return c.sec.Mode
}

// Degraded reports whether the codec operates without tamper resistance.
func (c *Codec) Degraded() bool {
	return c.sec.Mode.Degraded()
}

// Encode runs entries through the full pipeline using the context mode.
func (c *Codec) Encode(entries []chain.Entry) (string, error) {
	if entries == nil {
		entries = []chain.Entry{}
	}
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("codec: marshal entries: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, compressionLevel)
	if err != nil {
		return "", fmt.Errorf("codec: init compressor: %w", err)
	}
	if _, err := zw.Write(plaintext); err != nil {
		return "", fmt.Errorf("codec: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("codec: compress: %w", err)
	}

	switch c.sec.Mode {
	case ModeAuthenticated:
		sealed, err := c.seal(buf.Bytes())
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(sealed), nil
	case ModeXOR:
		return base64.StdEncoding.EncodeToString(xorKeystream(buf.Bytes(), c.sec.SharedSecret)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, c.sec.Mode)
	}
}

// Decode reverses the pipeline using the context mode.
func (c *Codec) Decode(blob string) ([]chain.Entry, error) {
	return c.DecodeWithMode(blob, c.sec.Mode)
}

// DecodeWithMode reverses the pipeline with an explicit mode, for blobs whose
// persisted mode tag differs from the context. Decoding with the wrong mode
// or wrong key fails loudly; it never yields a parseable-but-wrong chain.
func (c *Codec) DecodeWithMode(blob string, mode Mode) ([]chain.Entry, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCorruptBlob, err)
	}

	var compressed []byte
	switch mode {
	case ModeAuthenticated:
		compressed, err = c.open(raw)
		if err != nil {
			return nil, err
		}
	case ModeXOR:
		compressed = xorKeystream(raw, c.sec.SharedSecret)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		// A wrong XOR key lands here: the keystream mismatch destroys the
		// zlib header.
		return nil, fmt.Errorf("%w: inflate: %v", ErrCorruptBlob, err)
	}
	defer zr.Close()

	plaintext, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrCorruptBlob, err)
	}

	var entries []chain.Entry
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, fmt.Errorf("%w: parse entries: %v", ErrCorruptBlob, err)
	}
	return entries, nil
}

func (c *Codec) seal(compressed []byte) ([]byte, error) {
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("codec: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, compressed, nil), nil
}

func (c *Codec) open(raw []byte) ([]byte, error) {
	aead, err := c.aead()
	if err != nil {
		return nil, err
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: blob shorter than nonce", ErrDecryptFailed)
	}
	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	compressed, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return compressed, nil
}

func (c *Codec) aead() (cipher.AEAD, error) {
	if c.aeadKey == nil {
		c.aeadKey = deriveKey(c.sec.SharedSecret, c.sec.StudentID)
	}
	return chacha20poly1305.NewX(c.aeadKey)
}

// deriveKey stretches the shared secret into a cipher key. The password is
// the hex SHA-256 of the secret and the salt is the student id, binding the
// key to the same pair as the genesis hash.
func deriveKey(secret, studentID string) []byte {
	hashed := sha256.Sum256([]byte(secret))
	password := hex.EncodeToString(hashed[:])
	return pbkdf2.Key([]byte(password), []byte(studentID), kdfIterations, keySize, sha256.New)
}

// xorKeystream applies a repeating SHA-256(secret) keystream. Symmetric:
// applying it twice restores the input.
func xorKeystream(data []byte, secret string) []byte {
	key := sha256.Sum256([]byte(secret))
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
