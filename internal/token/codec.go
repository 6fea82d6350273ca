package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the token claims. Kept to the minimum needed; no secret
// material ever rides in claims. Degraded marks tokens minted from
// cached credential metadata during a vault outage; it is internal and
// never surfaces in vendor responses.
type Claims struct {
	Permissions []string `json:"permissions,omitempty"`
	Degraded    bool     `json:"degraded,omitempty"`
	jwt.RegisteredClaims
}

// Status classifies a verification outcome.
type Status int

const (
	StatusValid Status = iota
	StatusExpired
	StatusInvalid
)

// Result is a verification outcome. Claims are populated for Valid and
// Expired results (an expired token's claims feed the renewal path);
// Reason is set for Invalid.
type Result struct {
	Status Status
	Claims *Claims
	Reason string
}

// Codec mints and verifies tokens against the keyring.
type Codec struct {
	keyring     *Keyring
	issuer      string
	audience    string
	maxLifetime time.Duration
	revocations *Revocations
	now         func() time.Time
}

// CodecOption configures the codec.
type CodecOption func(*Codec)

// WithClock overrides the codec's time source. For tests.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec. maxLifetime caps mint lifetimes; lifetimes
// above the cap are clamped.
func NewCodec(keyring *Keyring, issuer, audience string, maxLifetime time.Duration, revocations *Revocations, opts ...CodecOption) *Codec {
	if maxLifetime <= 0 {
		maxLifetime = time.Hour
	}
	c := &Codec{
		keyring:     keyring,
		issuer:      issuer,
		audience:    audience,
		maxLifetime: maxLifetime,
		revocations: revocations,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mint creates a signed token for subject with a fresh jti. Lifetime is
// clamped to the configured maximum so exp-iat never exceeds it.
func (c *Codec) Mint(subject string, permissions []string, lifetime time.Duration, degraded bool) (string, *Claims, error) {
	if subject == "" {
		return "", nil, fmt.Errorf("minting token: empty subject")
	}
	if lifetime <= 0 || lifetime > c.maxLifetime {
		lifetime = c.maxLifetime
	}

	now := c.now()
	claims := &Claims{
		Permissions: permissions,
		Degraded:    degraded,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			ID:        uuid.NewString(),
		},
	}

	var signed string
	err := c.keyring.withCurrent(func(kid string, key []byte) error {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tok.Header["kid"] = kid
		var signErr error
		signed, signErr = tok.SignedString(key)
		return signErr
	})
	if err != nil {
		return "", nil, fmt.Errorf("minting token for %s: %w", subject, err)
	}
	return signed, claims, nil
}

// Verify checks a token string: well-formedness, signature under the
// current or previous key, issuer membership, audience, expiry, and the
// revocation set.
func (c *Codec) Verify(tokenString, expectedAudience string, allowedIssuers []string) Result {
	claims := &Claims{}

	keyfunc := func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		kid, _ := tok.Header["kid"].(string)
		return c.keyring.lookup(kid)
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, keyfunc,
		jwt.WithTimeFunc(c.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrSignatureInvalid) {
			// Signature checked out; only the clock condemned it. Expired
			// claims feed the renewal path.
			if reason, ok := c.checkStaticClaims(claims, expectedAudience, allowedIssuers); !ok {
				return Result{Status: StatusInvalid, Reason: reason}
			}
			return Result{Status: StatusExpired, Claims: claims}
		}
		return Result{Status: StatusInvalid, Reason: verifyReason(err)}
	}

	if reason, ok := c.checkStaticClaims(claims, expectedAudience, allowedIssuers); !ok {
		return Result{Status: StatusInvalid, Reason: reason}
	}
	if c.revocations != nil && c.revocations.IsRevoked(claims.ID) {
		return Result{Status: StatusInvalid, Reason: "token revoked"}
	}
	return Result{Status: StatusValid, Claims: claims}
}

func (c *Codec) checkStaticClaims(claims *Claims, expectedAudience string, allowedIssuers []string) (string, bool) {
	issuerOK := false
	for _, iss := range allowedIssuers {
		if claims.Issuer == iss {
			issuerOK = true
			break
		}
	}
	if !issuerOK {
		return "issuer not allowed", false
	}

	audienceOK := false
	for _, aud := range claims.Audience {
		if aud == expectedAudience {
			audienceOK = true
			break
		}
	}
	if !audienceOK {
		return "audience mismatch", false
	}

	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return "missing time claims", false
	}
	if !claims.ExpiresAt.After(claims.IssuedAt.Time) {
		return "exp not after iat", false
	}
	if claims.ID == "" {
		return "missing jti", false
	}
	return "", true
}

func verifyReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return "signature invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token not yet valid"
	default:
		return "token invalid"
	}
}
