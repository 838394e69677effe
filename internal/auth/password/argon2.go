package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

type Argon2id struct {
	params Argon2Params
}

func NewArgon2id(params Argon2Params) *Argon2id {
	return &Argon2id{params: params}
}

func (a *Argon2id) Hash(plain string) (string, error) {
	if err := validatePlain(plain); err != nil {
		return "", err
	}
	salt := make([]byte, a.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(plain), salt, a.params.Time, a.params.Memory, a.params.Threads, a.params.KeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, a.params.Memory, a.params.Time, a.params.Threads, saltB64, hashB64), nil
}

func (a *Argon2id) Verify(encoded, plain string) (bool, error) {
	decoded, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	check := argon2.IDKey([]byte(plain), decoded.salt, decoded.params.Time, decoded.params.Memory,
		decoded.params.Threads, uint32(len(decoded.hash)))
	return subtle.ConstantTimeCompare(decoded.hash, check) == 1, nil
}

func (a *Argon2id) Handles(encoded string) bool {
	return strings.HasPrefix(encoded, "$argon2id$")
}

func (a *Argon2id) NeedsRehash(encoded string) bool {
	decoded, err := decodeArgon2(encoded)
	if err != nil {
		return true
	}
	return decoded.params.Memory < a.params.Memory ||
		decoded.params.Time < a.params.Time ||
		decoded.params.Threads < a.params.Threads
}

type argon2Hash struct {
	params Argon2Params
	salt   []byte
	hash   []byte
}

func decodeArgon2(encoded string) (*argon2Hash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return nil, ErrUnsupportedHash
	}

	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return nil, ErrUnsupportedHash
	}
	m, okM := strings.CutPrefix(params[0], "m=")
	t, okT := strings.CutPrefix(params[1], "t=")
	p, okP := strings.CutPrefix(params[2], "p=")
	if !okM || !okT || !okP {
		return nil, ErrUnsupportedHash
	}

	m64, err := strconv.ParseUint(m, 10, 32)
	if err != nil {
		return nil, ErrUnsupportedHash
	}
	t64, err := strconv.ParseUint(t, 10, 32)
	if err != nil {
		return nil, ErrUnsupportedHash
	}
	p64, err := strconv.ParseUint(p, 10, 8)
	if err != nil {
		return nil, ErrUnsupportedHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, ErrUnsupportedHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, ErrUnsupportedHash
	}

	return &argon2Hash{
		params: Argon2Params{
			Memory:  uint32(m64),
			Time:    uint32(t64),
			Threads: uint8(p64),
		},
		salt: salt,
		hash: hash,
	}, nil
}
