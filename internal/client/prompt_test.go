package client

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/otpuri"
)

func TestPrompter_ManualInputTOTP(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("\nACME\nbob\njbsw y3dp ehpk 3pxp\nsha256\n8\n60\ny\n"), &out)

	in, err := p.ManualInput()
	if err != nil {
		t.Fatalf("ManualInput error: %v", err)
	}
	want := otpuri.ManualInput{
		Kind:      otp.TOTP,
		Issuer:    "ACME",
		Label:     "bob",
		Secret:    "jbsw y3dp ehpk 3pxp",
		Algorithm: "sha256",
		Digits:    8,
		Period:    60,
		Locked:    true,
	}
	if in != want {
		t.Errorf("ManualInput = %+v; want %+v", in, want)
	}
	if !strings.Contains(out.String(), "Period in seconds") {
		t.Errorf("period was not asked: %q", out.String())
	}
}

func TestPrompter_ManualInputHOTPSkipsPeriod(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("HOTP\n\nalice\nJBSWY3DPEHPK3PXP\n\n\nn\n"), &out)

	in, err := p.ManualInput()
	if err != nil {
		t.Fatalf("ManualInput error: %v", err)
	}
	if in.Kind != otp.HOTP {
		t.Errorf("Kind = %q; want hotp", in.Kind)
	}
	if in.Locked {
		t.Error("Locked = true; want false")
	}
	if strings.Contains(out.String(), "Period") {
		t.Errorf("period asked for a HOTP token: %q", out.String())
	}

	u, err := in.URI()
	if err != nil {
		t.Fatalf("URI error: %v", err)
	}
	if u.Label != "alice" || u.Digits != otp.DefaultDigits {
		t.Errorf("URI = %+v", u)
	}
}

func TestPrompter_ManualInputBadNumber(t *testing.T) {
	p := NewPrompter(strings.NewReader("totp\nACME\nbob\nJBSWY3DPEHPK3PXP\n\nsix\n"), &bytes.Buffer{})

	_, err := p.ManualInput()
	if !errors.Is(err, otpuri.ErrMalformedURI) {
		t.Errorf("err = %v; want ErrMalformedURI", err)
	}
}

func TestPrompter_InputClosed(t *testing.T) {
	p := NewPrompter(strings.NewReader("totp\nACME\n"), &bytes.Buffer{})

	_, err := p.ManualInput()
	if !errors.Is(err, ErrInputClosed) {
		t.Errorf("err = %v; want ErrInputClosed", err)
	}
}

func TestPrompter_Edit(t *testing.T) {
	p := NewPrompter(strings.NewReader("New Co\n\nhttps://example.com/i.png\n"), &bytes.Buffer{})

	issuer, label, image, err := p.Edit()
	if err != nil {
		t.Fatalf("Edit error: %v", err)
	}
	if issuer != "New Co" || label != "" || image != "https://example.com/i.png" {
		t.Errorf("Edit = %q, %q, %q", issuer, label, image)
	}
}
