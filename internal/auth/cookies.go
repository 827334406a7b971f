// Package auth holds the platform credentials used by the search connector:
// the static session cookies supplied by the operator and the short-lived
// www claim fetched from the platform.
package auth

import (
	"errors"
	"strings"
)

// ErrCookiesMissing indicates the session or csrf cookie is not configured.
var ErrCookiesMissing = errors.New("platform session cookies not configured")

// Cookies are opaque session values supplied through the environment.
type Cookies struct {
	SessionID string
	MID       string
	IGDID     string
	Datr      string
	DSUserID  string
	CSRFToken string
	RUR       string
	DPR       string
}

// Validate checks that the cookies required for authenticated calls are set.
func (c Cookies) Validate() error {
	if c.SessionID == "" || c.CSRFToken == "" {
		return ErrCookiesMissing
	}
	return nil
}

// DeviceID is the identifier reported by mobile API headers.
func (c Cookies) DeviceID() string {
	if c.IGDID != "" {
		return c.IGDID
	}
	return c.MID
}

// Header renders the Cookie header value, skipping empty entries.
func (c Cookies) Header() string {
	dpr := c.DPR
	if dpr == "" {
		dpr = "1"
	}

	pairs := [][2]string{
		{"sessionid", c.SessionID},
		{"mid", c.MID},
		{"ig_did", c.IGDID},
		{"datr", c.Datr},
		{"ds_user_id", c.DSUserID},
		{"csrftoken", c.CSRFToken},
		{"rur", c.RUR},
		{"dpr", dpr},
		{"ig_nrcb", "1"},
		{"ps_l", "1"},
		{"ps_n", "1"},
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		parts = append(parts, p[0]+"="+p[1])
	}
	return strings.Join(parts, "; ")
}
