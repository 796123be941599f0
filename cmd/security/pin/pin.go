package pin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Version = 19 // argon2.Version is 0x13 (19)
	hashPrefix    = "$argon2id$"
)

// Hash validates pin and returns its encoded Argon2id hash.
func (c Config) Hash(pin string) (string, error) {
	if err := c.Validate(pin); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(pin),
		salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// IsHash reports whether stored looks like an encoded Argon2id hash (not a legacy plaintext PIN).
func IsHash(stored string) bool {
	return strings.HasPrefix(stored, hashPrefix)
}

// Verify checks candidate against the stored value.
//
// Returns (true, false, nil) for a hash match and (false, false, nil) for a mismatch.
// A stored legacy plaintext PIN is compared in constant time; a match returns
// needsRehash=true so the caller can replace it with Hash(candidate).
// Malformed or unsupported stored values return ErrInvalidHash.
func (c Config) Verify(stored, candidate string) (ok bool, needsRehash bool, err error) {
	if !IsHash(stored) {
		if allDigits(stored) && len(stored) >= minDigits && len(stored) <= maxDigits {
			match := subtle.ConstantTimeCompare([]byte(stored), []byte(candidate)) == 1
			return match, match, nil
		}
		return false, false, ErrInvalidHash
	}

	params, salt, expected, err := decode(stored)
	if err != nil {
		return false, false, err
	}

	if !withinReasonableBounds(params, c.Params) {
		return false, false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(candidate),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- bounded by decode().
	)

	return subtle.ConstantTimeCompare(key, expected) == 1, false, nil
}

func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	// Older/smaller settings still verify; wildly larger ones are refused.
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

// decode parses the encoded hash and returns params, salt and expected key.
func decode(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),
		SaltLength:  uint32(len(salt)), // #nosec G115 -- base64 decoded, bounded below.
		KeyLength:   uint32(len(hash)), // #nosec G115 -- base64 decoded, bounded below.
	}, salt, hash, nil
}
