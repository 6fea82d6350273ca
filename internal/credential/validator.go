package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters. Fixed for the whole deployment; the encoded hash
// records them so they can be raised without invalidating old records.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashSecret derives an argon2id hash of the raw secret with a fresh
// salt. The encoded form is
// argon2id$v=19$m=<mem>,t=<time>,p=<threads>$<salt>$<hash> with base64
// raw encoding, matching the reference argon2 string format closely
// enough to be operator-recognizable.
func HashSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// parseHash extracts parameters, salt, and digest from an encoded hash.
func parseHash(encoded string) (memory uint32, time uint32, threads uint8, salt, digest []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return 0, 0, 0, nil, nil, fmt.Errorf("malformed credential hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, fmt.Errorf("unsupported hash version")
	}
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("malformed hash parameters")
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("malformed hash salt")
	}
	digest, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("malformed hash digest")
	}
	return memory, time, threads, salt, digest, nil
}

// Validate compares a presented secret against a stored record in
// constant time over the KDF output. Records whose status is not ACTIVE
// short-circuit to false unless acceptDeprecated widens the check to
// DEPRECATED records during a rotation's overlap window. The presented
// secret never appears in logs or errors.
func Validate(presentedSecret string, record *Credential, acceptDeprecated bool) bool {
	if record == nil {
		return false
	}
	switch record.Status {
	case StatusActive:
	case StatusDeprecated:
		if !acceptDeprecated {
			return false
		}
	default:
		return false
	}

	memory, time, threads, salt, digest, err := parseHash(record.HashedSecret)
	if err != nil {
		return false
	}
	candidate := argon2.IDKey([]byte(presentedSecret), salt, time, memory, threads, uint32(len(digest)))
	return subtle.ConstantTimeCompare(candidate, digest) == 1
}

// GenerateSecret produces a fresh high-entropy client secret for
// rotation. 32 random bytes, URL-safe base64.
func GenerateSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
