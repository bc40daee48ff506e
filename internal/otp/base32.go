package otp

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is returned when a secret is not valid RFC 4648 base32 text.
var ErrDecode = errors.New("invalid base32 secret")

var rawBase32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// DecodeBase32 decodes an RFC 4648 base32 secret. Trailing '=' padding is
// optional and letters may be in either case.
func DecodeBase32(text string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.TrimSpace(text), "="))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '2' || c > '7') {
			return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrDecode, c, i)
		}
	}

	// 5-bit groups only ever leave 0, 2, 4, 5 or 7 trailing characters.
	switch len(s) % 8 {
	case 1, 3, 6:
		return nil, fmt.Errorf("%w: length %d is not a valid group alignment", ErrDecode, len(s))
	}

	out, err := rawBase32.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out, nil
}

// EncodeBase32 encodes b as standard base32 padded with '=' to a multiple of
// eight characters.
func EncodeBase32(b []byte) string {
	return base32.StdEncoding.EncodeToString(b)
}
