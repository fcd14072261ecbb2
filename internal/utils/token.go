package utils // package utils provides helpers for opaque token material

import (
    "crypto/rand"     // secure random source for secrets and ids
    "crypto/sha256"   // digest of refresh tokens
    "crypto/subtle"   // constant-time comparison
    "encoding/base64" // url-safe secret encoding
    "encoding/hex"    // digest encoding
    "sync"
    "time"

    "github.com/oklog/ulid/v2"
)

var (
    entropyMu sync.Mutex
    entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewTokenID returns a sortable identifier for a refresh token.
func NewTokenID() string {
    entropyMu.Lock()
    defer entropyMu.Unlock()
    return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ValidTokenID reports whether s is a well-formed token identifier.
func ValidTokenID(s string) bool {
    _, err := ulid.ParseStrict(s)
    return err == nil
}

// RandomSecret returns n bytes of secure random data, base64url encoded
// without padding.
func RandomSecret(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DigestToken returns the hex SHA-256 of salt followed by the raw token.
// Only this digest is ever persisted.
func DigestToken(salt, raw string) string {
    h := sha256.New()
    h.Write([]byte(salt))
    h.Write([]byte(raw))
    return hex.EncodeToString(h.Sum(nil))
}

// ConstantTimeEqual compares a and b without branching on their content.
// Lengths are checked first; only equal-length inputs reach the
// byte-wise constant-time comparison.
func ConstantTimeEqual(a, b string) bool {
    if len(a) != len(b) {
        return false
    }
    return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
