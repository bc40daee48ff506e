package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/atinyakov/GophOTP/internal/otp"
	"github.com/atinyakov/GophOTP/internal/otpuri"
)

// Token is the display and counter state of a token.
type Token struct {
	Account string   `json:"account"`
	Kind    otp.Kind `json:"kind"`

	Issuer string `json:"issuer"`
	Label  string `json:"label"`
	Image  string `json:"image,omitempty"`
	Icon   string `json:"icon,omitempty"`
	Color  string `json:"color,omitempty"`

	// The *Orig fields are the values captured when the token was added.
	// Clearing a current value falls back to them.
	IssuerOrig string `json:"issuer_orig"`
	LabelOrig  string `json:"label_orig"`
	ImageOrig  string `json:"image_orig,omitempty"`

	IssuerOverride string `json:"issuer_override,omitempty"`

	Counter uint64 `json:"counter"`
	Period  uint64 `json:"period"`
	Locked  bool   `json:"locked"`
}

// TokenSummary is the part of a token shown to callers. It never carries
// the secret.
type TokenSummary struct {
	Account string   `json:"account"`
	UID     string   `json:"uid"`
	Kind    otp.Kind `json:"kind"`
	Issuer  string   `json:"issuer"`
	Label   string   `json:"label"`
	Image   string   `json:"image,omitempty"`
	Icon    string   `json:"icon,omitempty"`
	Color   string   `json:"color,omitempty"`
	Locked  bool     `json:"locked"`
}

// AccountID implements Storable.
func (t Token) AccountID() string { return t.Account }

// UID is the identity key used for deduplication. Edits to the current
// issuer or label do not change it.
func (t Token) UID() string {
	issuer := t.IssuerOverride
	if issuer == "" {
		issuer = t.IssuerOrig
	}
	return issuer + ":" + t.LabelOrig
}

// SetOrReset returns value, or fallback when value is empty.
func SetOrReset(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// SetIssuer stores issuer; an empty value restores IssuerOrig.
func (t *Token) SetIssuer(issuer string) { t.Issuer = SetOrReset(issuer, t.IssuerOrig) }

// SetLabel stores label; an empty value restores LabelOrig.
func (t *Token) SetLabel(label string) { t.Label = SetOrReset(label, t.LabelOrig) }

// SetImage stores image; an empty value restores ImageOrig.
func (t *Token) SetImage(image string) { t.Image = SetOrReset(image, t.ImageOrig) }

// Reset restores every display field to its baseline.
func (t *Token) Reset() {
	t.SetIssuer("")
	t.SetLabel("")
	t.SetImage("")
}

// Summary returns the display view of t.
func (t Token) Summary() TokenSummary {
	return TokenSummary{
		Account: t.Account,
		UID:     t.UID(),
		Kind:    t.Kind,
		Issuer:  t.Issuer,
		Label:   t.Label,
		Image:   t.Image,
		Icon:    t.Icon,
		Color:   t.Color,
		Locked:  t.Locked,
	}
}

// Codes computes the codes visible at now.
//
// A TOTP token yields the active window and the one after it. A HOTP token
// yields a single code valid for Period seconds from now and advances
// Counter; the caller must persist t before handing the code out.
func (t *Token) Codes(e *otp.Engine, now time.Time) []otp.Code {
	if t.Kind == otp.HOTP {
		c := otp.Code{
			Value: e.Code(t.Counter),
			From:  now,
			To:    now.Add(time.Duration(t.Period) * time.Second),
		}
		t.Counter++
		return []otp.Code{c}
	}

	cur := e.TOTP(now, t.Period)
	next := e.TOTP(cur.To, t.Period)
	return []otp.Code{cur, next}
}

// NewFromURI splits a parsed URI into its two records under a fresh
// account id.
func NewFromURI(u *otpuri.URI) (OTP, Token) {
	account := uuid.NewString()

	o := OTP{
		Account:   account,
		Secret:    append([]byte(nil), u.Secret...),
		Algorithm: u.Algorithm,
		Digits:    u.Digits,
	}
	t := Token{
		Account:        account,
		Kind:           u.Kind,
		IssuerOrig:     u.IssuerOrig,
		LabelOrig:      u.LabelOrig,
		ImageOrig:      u.ImageOrig,
		IssuerOverride: u.IssuerOverride,
		Icon:           u.Icon,
		Color:          u.Color,
		Counter:        u.Counter,
		Period:         u.Period,
		Locked:         u.Lock,
	}
	t.SetIssuer(u.Issuer)
	t.SetLabel(u.Label)
	t.SetImage(u.Image)
	return o, t
}

// ToURI rebuilds the URI of a stored token.
func ToURI(o OTP, t Token) *otpuri.URI {
	return &otpuri.URI{
		Kind:           t.Kind,
		Issuer:         t.Issuer,
		Label:          t.Label,
		Secret:         append([]byte(nil), o.Secret...),
		Algorithm:      o.Algorithm,
		Digits:         o.Digits,
		Period:         t.Period,
		Counter:        t.Counter,
		Lock:           t.Locked,
		Image:          t.Image,
		Icon:           t.Icon,
		Color:          t.Color,
		IssuerOverride: t.IssuerOverride,
		IssuerOrig:     t.IssuerOrig,
		LabelOrig:      t.LabelOrig,
		ImageOrig:      t.ImageOrig,
	}
}
