package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19 // argon2.Version (0x13)

// phcHash is a decoded $argon2id$ string.
type phcHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func (h phcHash) String() string {
	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		h.params.MemoryKiB,
		h.params.Iterations,
		h.params.Parallelism,
		b64.EncodeToString(h.salt),
		b64.EncodeToString(h.key),
	)
}

// Hash validates password against the policy and returns its PHC encoding.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	h := phcHash{
		params: c.Params,
		salt:   salt,
		key:    derive(password, salt, c.Params.Iterations, c.Params.MemoryKiB, c.Params.Parallelism, c.Params.KeyLength),
	}
	return h.String(), nil
}

// PlaceholderHash returns a well-formed hash under the configured parameters
// that no password matches. Verifying against it costs the same as a real
// hash, which keeps lookup misses as slow as wrong passwords.
func (c Config) PlaceholderHash() string {
	return phcHash{
		params: c.Params,
		salt:   make([]byte, min(max(c.Params.SaltLength, 8), 64)),
		key:    make([]byte, min(max(c.Params.KeyLength, 16), 128)),
	}.String()
}

// ErrInvalidHash is returned by Verify for hashes it cannot decode or will not run.
var ErrInvalidHash = errors.New("invalid password hash")

// Verify reports whether password matches encodedHash.
// Returns (false, ErrInvalidHash) for malformed or out-of-bounds hashes.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	h, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	if !withinReasonableBounds(h.params, c.Params) {
		return false, ErrInvalidHash
	}

	// #nosec G115 -- key length is bounded by withinReasonableBounds.
	got := derive(password, h.salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether encodedHash was produced with parameters that
// differ from the current configuration. Malformed hashes always need a rehash.
func (c Config) NeedsRehash(encodedHash string) bool {
	h, err := decode(encodedHash)
	if err != nil {
		return true
	}
	p := h.params
	return p.MemoryKiB != c.Params.MemoryKiB ||
		p.Iterations != c.Params.Iterations ||
		p.Parallelism != c.Params.Parallelism ||
		p.KeyLength != c.Params.KeyLength
}

func derive(password string, salt []byte, iterations, memoryKiB uint32, parallelism uint8, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), salt, iterations, memoryKiB, parallelism, keyLen)
}

// withinReasonableBounds accepts hashes made with older or smaller settings
// and rejects anything wildly above the configured cost.
func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	switch {
	case got.MemoryKiB > limits.MemoryKiB*2:
		return false
	case got.Iterations > limits.Iterations*2:
		return false
	case got.Parallelism > limits.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

func decode(encoded string) (phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phcHash{}, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2Version) {
		return phcHash{}, ErrInvalidHash
	}
	if !strings.HasPrefix(parts[3], "m=") {
		return phcHash{}, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return phcHash{}, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return phcHash{}, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}

	return phcHash{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  it,
			Parallelism: uint8(par),
			SaltLength:  uint32(len(salt)), // #nosec G115 -- bounded by base64 input length.
			KeyLength:   uint32(len(key)),  // #nosec G115 -- bounded by base64 input length.
		},
		salt: salt,
		key:  key,
	}, nil
}
