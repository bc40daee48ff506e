// Package otp implements the HMAC one-time password engine described in
// RFC 4226 (HOTP) and RFC 6238 (TOTP), plus the base32 codec used for
// shared secrets.
package otp

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidAlgorithm is returned for hash names outside the supported set.
	ErrInvalidAlgorithm = errors.New("invalid algorithm")
	// ErrInvalidDigits is returned when the digit count is outside 6..9.
	ErrInvalidDigits = errors.New("invalid digit count")
)

const (
	// MinDigits and MaxDigits bound the code length.
	MinDigits = 6
	MaxDigits = 9

	// DefaultDigits is used when a URI omits the digits parameter.
	DefaultDigits = 6
)

// Kind distinguishes counter based from time based tokens.
type Kind string

const (
	HOTP Kind = "hotp"
	TOTP Kind = "totp"
)

// ParseKind maps a URI host to a Kind, ignoring case.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case string(HOTP):
		return HOTP, true
	case string(TOTP):
		return TOTP, true
	}
	return "", false
}

// Algorithm is the keyed hash used by the engine.
type Algorithm int

const (
	SHA1 Algorithm = iota
	MD5
	SHA224
	SHA256
	SHA384
	SHA512
)

var algorithmNames = map[Algorithm]string{
	MD5:    "MD5",
	SHA1:   "SHA1",
	SHA224: "SHA224",
	SHA256: "SHA256",
	SHA384: "SHA384",
	SHA512: "SHA512",
}

// ParseAlgorithm matches name case-insensitively against the supported hashes.
func ParseAlgorithm(name string) (Algorithm, error) {
	for a, n := range algorithmNames {
		if strings.EqualFold(n, name) {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, name)
}

// String returns the canonical upper-case name used in otpauth URIs.
func (a Algorithm) String() string {
	if n, ok := algorithmNames[a]; ok {
		return n
	}
	return "Algorithm(" + strconv.Itoa(int(a)) + ")"
}

// Valid reports whether a is one of the supported hashes.
func (a Algorithm) Valid() bool {
	_, ok := algorithmNames[a]
	return ok
}

// Size is the digest length in bytes.
func (a Algorithm) Size() int {
	switch a {
	case MD5:
		return md5.Size
	case SHA224:
		return sha256.Size224
	case SHA256:
		return sha256.Size
	case SHA384:
		return sha512.Size384
	case SHA512:
		return sha512.Size
	default:
		return sha1.Size
	}
}

func (a Algorithm) hash() func() hash.Hash {
	switch a {
	case MD5:
		return md5.New
	case SHA224:
		return sha256.New224
	case SHA256:
		return sha256.New
	case SHA384:
		return sha512.New384
	case SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

// MarshalText encodes the algorithm by name so persisted records stay
// readable across enum reordering.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlgorithm, int(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (a *Algorithm) UnmarshalText(b []byte) error {
	v, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ValidDigits reports whether n is an accepted code length.
func ValidDigits(n int) bool {
	return n >= MinDigits && n <= MaxDigits
}

// Code is a single one-time password together with its validity window.
type Code struct {
	Value string    `json:"value"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// Engine computes HOTP values. It is immutable and safe for concurrent use.
type Engine struct {
	algorithm Algorithm
	digits    int
	secret    []byte
	modulo    uint32
}

// NewEngine validates the configuration and returns an engine.
func NewEngine(secret []byte, algorithm Algorithm, digits int) (*Engine, error) {
	if !algorithm.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlgorithm, int(algorithm))
	}
	if !ValidDigits(digits) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDigits, digits)
	}

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &Engine{algorithm: algorithm, digits: digits, secret: key, modulo: mod}, nil
}

// NewEngineByName is NewEngine with the algorithm given by name.
func NewEngineByName(secret []byte, algorithm string, digits int) (*Engine, error) {
	alg, err := ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	return NewEngine(secret, alg, digits)
}

// Algorithm returns the configured hash.
func (e *Engine) Algorithm() Algorithm { return e.algorithm }

// Digits returns the configured code length.
func (e *Engine) Digits() int { return e.digits }

// Code returns the zero-padded HOTP value for counter.
func (e *Engine) Code(counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(e.algorithm.hash(), e.secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	return fmt.Sprintf("%0*d", e.digits, truncate(sum)%e.modulo)
}

// truncate implements dynamic truncation, RFC 4226 section 5.3. MD5 digests
// are only 16 bytes long, so offsets past the end wrap around to the start.
func truncate(sum []byte) uint32 {
	off := int(sum[len(sum)-1] & 0x0f)
	if off+4 <= len(sum) {
		return binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff
	}
	var b [4]byte
	for i := range b {
		b[i] = sum[(off+i)%len(sum)]
	}
	return binary.BigEndian.Uint32(b[:]) & 0x7fffffff
}

// TOTP returns the code for the window containing t together with the
// window bounds.
func (e *Engine) TOTP(t time.Time, period uint64) Code {
	window := uint64(t.Unix()) / period
	from := time.Unix(int64(window*period), 0)
	return Code{
		Value: e.Code(window),
		From:  from,
		To:    from.Add(time.Duration(period) * time.Second),
	}
}
