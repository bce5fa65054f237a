package utils // package utils provides helper functions for token creation and hashing

import (
    "crypto/rand"   // secure random number generation
    "crypto/sha256" // SHA‑256 hashing for refresh tokens
    "encoding/hex"  // hex encoding of random bytes and digests
    "errors"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT and its expiry.
type AccessToken struct {
    Token string
    Exp   time.Time
}

// RefreshToken is the raw long-lived token handed to the client.  Only its
// SHA‑256 hash is stored.
type RefreshToken struct {
    Raw string
    Exp time.Time
}

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
    Role string `json:"role"`
    Name string `json:"name,omitempty"`
    jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c AccessClaims) UserID() (uint64, error) {
    return strconv.ParseUint(c.Subject, 10, 64)
}

// ErrInvalidToken is returned for any token that fails to parse or verify.
var ErrInvalidToken = errors.New("invalid token")

// NewAccessToken builds and signs an HS256 JWT for a user, valid for ttl
// starting at now.
func NewAccessToken(secret string, userID uint64, role, name string, ttl time.Duration, now time.Time) (AccessToken, error) {
    exp := now.UTC().Add(ttl)
    claims := AccessClaims{
        Role: role,
        Name: name,
        RegisteredClaims: jwt.RegisteredClaims{
            Subject:   strconv.FormatUint(userID, 10),
            IssuedAt:  jwt.NewNumericDate(now.UTC()),
            ExpiresAt: jwt.NewNumericDate(exp),
        },
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseAccessToken verifies the signature and expiry of raw and returns its
// claims.  Only HMAC signing methods are accepted.
func ParseAccessToken(secret, raw string) (AccessClaims, error) {
    var claims AccessClaims
    tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, ErrInvalidToken
        }
        return []byte(secret), nil
    })
    if err != nil || !tok.Valid {
        return AccessClaims{}, ErrInvalidToken
    }
    if _, err := claims.UserID(); err != nil {
        return AccessClaims{}, ErrInvalidToken
    }
    return claims, nil
}

// NewRefreshToken returns a random token valid for ttl starting at now.
func NewRefreshToken(ttl time.Duration, now time.Time) (RefreshToken, error) {
    raw, err := randomHex(48) // 96 hex chars
    if err != nil {
        return RefreshToken{}, err
    }
    return RefreshToken{Raw: raw, Exp: now.UTC().Add(ttl)}, nil
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as hex.
func HashRefreshRaw(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}
