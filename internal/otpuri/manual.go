package otpuri

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/atinyakov/GophOTP/internal/otp"
)

// ManualInput holds the fields of the manual-entry form.
type ManualInput struct {
	Kind      otp.Kind `validate:"required,oneof=hotp totp"`
	Issuer    string
	Label     string `validate:"required"`
	Secret    string `validate:"required"`
	Algorithm string `validate:"omitempty,oneof=MD5 SHA1 SHA224 SHA256 SHA384 SHA512 md5 sha1 sha224 sha256 sha384 sha512"`
	Digits    int    `validate:"omitempty,min=6,max=9"`
	Period    uint64 `validate:"omitempty,min=5"`
	Locked    bool
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Raw renders the form as an otpauth URI string. The result still has to go
// through Parse, which performs the authoritative checks.
func (m ManualInput) Raw() (string, error) {
	if err := formValidator().Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "", fmt.Errorf("%w: field %s failed %q", ErrMalformedURI, verrs[0].Field(), verrs[0].Tag())
		}
		return "", fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}

	alg := strings.ToUpper(m.Algorithm)
	if alg == "" {
		alg = otp.SHA1.String()
	}
	digits := m.Digits
	if digits == 0 {
		digits = otp.DefaultDigits
	}
	period := m.Period
	if period == 0 {
		period = DefaultPeriod
	}

	var b strings.Builder
	b.WriteString(Scheme + "://" + string(m.Kind) + "/" + encodePath(m.Issuer, m.Label))
	b.WriteString("?algorithm=" + alg)
	b.WriteString("&secret=" + strings.ToUpper(strings.ReplaceAll(m.Secret, " ", "")))
	b.WriteString("&digits=" + strconv.Itoa(digits))
	b.WriteString("&period=" + strconv.FormatUint(period, 10))
	if m.Locked {
		b.WriteString("&lock=true")
	}
	return b.String(), nil
}

// URI is Raw followed by Parse in ModeFresh.
func (m ManualInput) URI() (*URI, error) {
	raw, err := m.Raw()
	if err != nil {
		return nil, err
	}
	return Parse(raw, ModeFresh)
}
