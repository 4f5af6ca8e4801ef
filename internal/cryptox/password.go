package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

// PasswordHasher turns a password into a stored digest and checks candidates
// against it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// Hasher names accepted by NewPasswordHasher.
const (
	HasherSHA256   = "sha256"
	HasherArgon2id = "argon2id"
)

// NewPasswordHasher returns the hasher registered under name. An empty name
// selects HasherSHA256.
func NewPasswordHasher(name string) (PasswordHasher, error) {
	switch name {
	case "", HasherSHA256:
		return SHA256Hasher{}, nil
	case HasherArgon2id:
		return NewArgon2Hasher(DefaultArgon2Params), nil
	default:
		return nil, fmt.Errorf("%w: unknown password hasher %q", common.ErrorConfiguration, name)
	}
}

// SHA256Hasher is a single unsalted SHA-256 pass, hex encoded. Same input,
// same digest.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(password string) (string, error) {
	return sha256Hex(password), nil
}

func (SHA256Hasher) Verify(password, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(sha256Hex(password)), []byte(digest)) == 1
}

func sha256Hex(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Argon2Params tunes argon2id. Memory is in KiB.
type Argon2Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params matches the master key derivation settings used elsewhere
// in the project.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024,
	Time:        1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// Ceilings on cost parameters read back from stored digests.
const (
	maxArgon2Memory    = 1 << 20 // KiB, 1 GiB
	maxArgon2Time      = 16
	maxArgon2KeyLength = 1024
)

// Argon2Hasher produces PHC strings: $argon2id$v=19$m=..,t=..,p=..$salt$hash.
// Verify also accepts legacy SHA256Hasher digests.
type Argon2Hasher struct {
	params Argon2Params
}

func NewArgon2Hasher(p Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{params: p}
}

func (a *Argon2Hasher) Hash(password string) (string, error) {
	salt := make([]byte, a.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, a.params.Time, a.params.Memory, a.params.Parallelism, a.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		HasherArgon2id,
		argon2.Version,
		a.params.Memory,
		a.params.Time,
		a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a *Argon2Hasher) Verify(password, digest string) bool {
	if !strings.HasPrefix(digest, "$"+HasherArgon2id+"$") {
		return SHA256Hasher{}.Verify(password, digest)
	}

	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, time uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &parallelism); err != nil {
		return false
	}
	// argon2.IDKey panics on zero cost parameters
	if memory == 0 || time == 0 || parallelism == 0 {
		return false
	}
	if memory > maxArgon2Memory || time > maxArgon2Time {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > maxArgon2KeyLength {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
