// Package otpuri parses, validates and serializes otpauth:// URIs.
//
// The wire format interoperates with other authenticator apps:
//
//	otpauth://{hotp|totp}/[issuer:]label?secret=BASE32&algorithm=SHA1&digits=6&period=30
//
// Fields that only describe how a token was edited locally (issuerorig,
// nameorig, imageorig) are honoured in ModeLoad only.
package otpuri

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/atinyakov/GophOTP/internal/otp"
)

const (
	// Scheme is the only accepted URI scheme.
	Scheme = "otpauth"

	// DefaultPeriod is the TOTP step in seconds.
	DefaultPeriod uint64 = 30
	// MinPeriod is the smallest accepted period.
	MinPeriod uint64 = 5
	// MaxPeriod is the largest period whose window still fits a
	// time.Duration.
	MaxPeriod = uint64(math.MaxInt64 / int64(time.Second))

	legacyDefaultImage = "/FreeOTP.app/default.png"
)

var (
	ErrMalformedURI   = errors.New("malformed otpauth uri")
	ErrMissingSecret  = errors.New("missing secret")
	ErrInvalidPeriod  = errors.New("invalid period")
	ErrInvalidCounter = errors.New("invalid counter")
	ErrInvalidDigits  = otp.ErrInvalidDigits
)

// Mode selects how shadow fields are treated by Parse.
type Mode int

const (
	// ModeFresh is used for scanned or typed URIs. The *orig fields are
	// ignored and the baseline is captured from the current values.
	ModeFresh Mode = iota
	// ModeLoad is used when reading back a previously saved record.
	ModeLoad
)

// URI is the structured form of an otpauth URI.
type URI struct {
	Kind      otp.Kind
	Issuer    string
	Label     string
	Secret    []byte
	Algorithm otp.Algorithm
	Digits    int
	Period    uint64
	Counter   uint64
	Lock      bool

	Image string
	Icon  string
	Color string

	// IssuerOverride is the explicit issuer query parameter. It takes part
	// in the identity key but not in display.
	IssuerOverride string

	IssuerOrig string
	LabelOrig  string
	ImageOrig  string
}

// Parse decodes raw into a URI.
func Parse(raw string, mode Mode) (*URI, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}
	kind, label, err := header(u)
	if err != nil {
		return nil, err
	}

	q, err := firstValues(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}

	out := &URI{
		Kind:      kind,
		Issuer:    label.Issuer,
		Label:     label.Account,
		Algorithm: otp.SHA1,
		Digits:    otp.DefaultDigits,
		Period:    DefaultPeriod,
	}

	secret := q["secret"]
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if out.Secret, err = otp.DecodeBase32(secret); err != nil {
		return nil, err
	}
	if len(out.Secret) == 0 {
		return nil, ErrMissingSecret
	}

	if v, ok := q["algorithm"]; ok && v != "" {
		if out.Algorithm, err = otp.ParseAlgorithm(v); err != nil {
			return nil, err
		}
	}

	if v, ok := q["digits"]; ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || !otp.ValidDigits(n) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDigits, v)
		}
		out.Digits = n
	}

	if v, ok := q["period"]; ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n < MinPeriod || n > MaxPeriod {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, v)
		}
		out.Period = n
	}

	if v, ok := q["counter"]; ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCounter, v)
		}
		if kind == otp.HOTP {
			out.Counter = n
		}
	}

	out.Lock = parseLock(q["lock"])
	out.Image = q["image"]
	out.Icon = q["icon"]
	out.Color = q["color"]
	out.IssuerOverride = q["issuer"]

	if mode == ModeLoad {
		out.IssuerOrig = q["issuerorig"]
		out.LabelOrig = q["nameorig"]
		out.ImageOrig = q["imageorig"]

		// Older builds persisted an absolute URL to the bundled icon, which
		// moves whenever the app container does.
		if isLegacyDefaultImage(out.Image) {
			out.Image = ""
		}
		if isLegacyDefaultImage(out.ImageOrig) {
			out.ImageOrig = ""
		}
		if _, ok := q["issuerorig"]; !ok {
			out.IssuerOrig = out.Issuer
		}
		if _, ok := q["nameorig"]; !ok {
			out.LabelOrig = out.Label
		}
	} else {
		out.IssuerOrig = out.Issuer
		out.LabelOrig = out.Label
		out.ImageOrig = out.Image
	}

	return out, nil
}

// Validate is a cheap pre-check used for scanner feedback: scheme, host,
// path and a non-empty secret parameter.
func Validate(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if _, _, err := header(u); err != nil {
		return false
	}
	q, err := firstValues(u.RawQuery)
	if err != nil {
		return false
	}
	return q["secret"] != ""
}

// String serializes the URI. Parsing the result in ModeLoad yields an
// equivalent value.
func (u *URI) String() string {
	q := url.Values{}
	q.Set("secret", strings.TrimRight(otp.EncodeBase32(u.Secret), "="))
	q.Set("algorithm", u.Algorithm.String())
	q.Set("digits", strconv.Itoa(u.Digits))
	q.Set("period", strconv.FormatUint(u.Period, 10))
	if u.Kind == otp.HOTP {
		q.Set("counter", strconv.FormatUint(u.Counter, 10))
	}
	if u.Lock {
		q.Set("lock", "true")
	}
	setIf(q, "image", u.Image)
	setIf(q, "icon", u.Icon)
	setIf(q, "color", u.Color)
	setIf(q, "issuer", u.IssuerOverride)
	q.Set("issuerorig", u.IssuerOrig)
	q.Set("nameorig", u.LabelOrig)
	setIf(q, "imageorig", u.ImageOrig)

	return Scheme + "://" + string(u.Kind) + "/" + encodePath(u.Issuer, u.Label) + "?" + q.Encode()
}

func header(u *url.URL) (otp.Kind, Label, error) {
	if u.Scheme != Scheme {
		return "", Label{}, fmt.Errorf("%w: scheme %q", ErrMalformedURI, u.Scheme)
	}
	kind, ok := otp.ParseKind(u.Host)
	if !ok {
		return "", Label{}, fmt.Errorf("%w: type %q", ErrMalformedURI, u.Host)
	}
	label, ok := splitPath(u)
	if !ok {
		return "", Label{}, fmt.Errorf("%w: empty label", ErrMalformedURI)
	}
	return kind, label, nil
}

// firstValues decodes a query string keeping the first value seen for each
// lower-cased key.
func firstValues(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		key = strings.ToLower(key)
		if _, seen := out[key]; !seen {
			out[key] = val
		}
	}
	return out, nil
}

func parseLock(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "off", "false":
		return false
	}
	return true
}

func isLegacyDefaultImage(s string) bool {
	return strings.HasPrefix(s, "file:") && strings.HasSuffix(s, legacyDefaultImage)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func encodePath(issuer, label string) string {
	l := url.PathEscape(label)
	if issuer != "" || strings.Contains(label, ":") {
		// A leading separator keeps a colon inside a label-only path from
		// being read back as an issuer.
		return strings.ReplaceAll(url.PathEscape(issuer), ":", "%3A") + ":" + l
	}
	return l
}
