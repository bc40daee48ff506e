package otpuri

import (
	"net/url"
	"strings"
)

// Label is the issuer/account pair carried in the URI path.
type Label struct {
	Issuer  string
	Account string
}

// splitPath splits the path on the first literal separator. A colon inside
// the issuer travels as %3A; when the escaped path holds no literal colon
// the decoded form is split instead, so labels like "Example%3Aalice" from
// other apps still carry an issuer.
func splitPath(u *url.URL) (Label, bool) {
	escaped := strings.TrimLeft(u.EscapedPath(), "/")
	if escaped == "" {
		return Label{}, false
	}
	if issuer, account, found := strings.Cut(escaped, ":"); found {
		i, err := url.PathUnescape(issuer)
		if err != nil {
			return Label{}, false
		}
		a, err := url.PathUnescape(account)
		if err != nil {
			return Label{}, false
		}
		return Label{Issuer: i, Account: a}, true
	}

	path := strings.TrimLeft(u.Path, "/")
	if path == "" {
		return Label{}, false
	}
	issuer, account, found := strings.Cut(path, ":")
	if !found {
		return Label{Account: path}, true
	}
	return Label{Issuer: issuer, Account: account}, true
}

// LabelOf returns the issuer and account encoded in the path of raw.
func LabelOf(raw string) (Label, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Label{}, false
	}
	return splitPath(u)
}

// AccountUnset reports whether raw carries no issuer prefix in its path.
// ok is false when the path is empty or unparseable.
func AccountUnset(raw string) (unset, ok bool) {
	l, ok := LabelOf(raw)
	if !ok {
		return false, false
	}
	return l.Issuer == "", true
}

// ParamUnset reports whether the query parameter name is absent or empty.
func ParamUnset(raw, name string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return true
	}
	q, err := firstValues(u.RawQuery)
	if err != nil {
		return true
	}
	return q[strings.ToLower(name)] == ""
}

// BoolParamUnset reports whether name is absent or holds anything other
// than "true" or "false".
func BoolParamUnset(raw, name string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return true
	}
	q, err := firstValues(u.RawQuery)
	if err != nil {
		return true
	}
	v := q[strings.ToLower(name)]
	return v != "true" && v != "false"
}
