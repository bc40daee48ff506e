// Package client holds the pieces of the local command-line client: the
// interactive shell, manual token entry, QR export and the companion
// client that talks to the server over mutual TLS.
package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/otpuri"
)

// ErrInputClosed is returned when the input ends in the middle of a prompt.
var ErrInputClosed = errors.New("input closed")

// Prompter reads answers line by line from in and writes questions to out.
type Prompter struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPrompter returns a Prompter over in and out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewScanner(in), out: out}
}

// Ask prints question and returns the trimmed answer.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", ErrInputClosed
	}
	return strings.TrimSpace(p.in.Text()), nil
}

// ManualInput asks for the fields of a token typed in by hand. Empty
// answers keep the defaults.
func (p *Prompter) ManualInput() (otpuri.ManualInput, error) {
	var in otpuri.ManualInput

	kind, err := p.Ask("Type (totp/hotp) [totp]: ")
	if err != nil {
		return in, err
	}
	in.Kind = otp.TOTP
	if kind != "" {
		in.Kind = otp.Kind(strings.ToLower(kind))
	}

	if in.Issuer, err = p.Ask("Issuer: "); err != nil {
		return in, err
	}
	if in.Label, err = p.Ask("Account name: "); err != nil {
		return in, err
	}
	if in.Secret, err = p.Ask("Secret (base32): "); err != nil {
		return in, err
	}
	if in.Algorithm, err = p.Ask("Algorithm [SHA1]: "); err != nil {
		return in, err
	}

	digits, err := p.Ask("Digits [6]: ")
	if err != nil {
		return in, err
	}
	if digits != "" {
		if in.Digits, err = strconv.Atoi(digits); err != nil {
			return in, fmt.Errorf("%w: digits %q", otpuri.ErrMalformedURI, digits)
		}
	}

	if in.Kind == otp.TOTP {
		period, err := p.Ask("Period in seconds [30]: ")
		if err != nil {
			return in, err
		}
		if period != "" {
			if in.Period, err = strconv.ParseUint(period, 10, 64); err != nil {
				return in, fmt.Errorf("%w: period %q", otpuri.ErrMalformedURI, period)
			}
		}
	}

	lock, err := p.Ask("Require PIN for codes (y/N): ")
	if err != nil {
		return in, err
	}
	in.Locked = yes(lock)
	return in, nil
}

// Edit asks for new display values. Empty answers restore the values the
// token was added with.
func (p *Prompter) Edit() (issuer, label, image string, err error) {
	if issuer, err = p.Ask("New issuer (empty to reset): "); err != nil {
		return
	}
	if label, err = p.Ask("New account name (empty to reset): "); err != nil {
		return
	}
	image, err = p.Ask("New image URL (empty to reset): ")
	return
}

func yes(s string) bool {
	switch strings.ToLower(s) {
	case "y", "yes":
		return true
	}
	return false
}
