// Package identifier validates DNS names before they reach the
// network: wildcard shape, IDNA normalization, and a public-suffix
// sanity check. publicsuffix-go's publicsuffix.Domain tells an eTLD+1
// from a bare public suffix; this package uses that same distinction
// to reject a bare suffix (e.g. "co.uk") as a name to request a
// certificate for, since no CA would issue for one.
package identifier

import (
	"strings"

	"golang.org/x/net/idna"

	"github.com/weppos/publicsuffix-go/publicsuffix"

	"github.com/acmevault/acmevault/acmeerr"
)

// Validate checks a single DNS name (primary or SAN) — wildcard shape,
// IDNA round-trip, not a bare public suffix — and returns its
// normalized ASCII form.
func Validate(name string) (string, error) {
	if name == "" {
		return "", acmeerr.New(acmeerr.Malformed, "identifier must not be empty")
	}

	base := name
	wildcard := false
	if strings.HasPrefix(name, "*.") {
		wildcard = true
		base = name[2:]
	}
	if strings.Count(base, "*") > 0 {
		return "", acmeerr.New(acmeerr.Malformed, "identifier %q has a wildcard label other than a leading '*.'", name)
	}
	if base == "" {
		return "", acmeerr.New(acmeerr.Malformed, "identifier %q has no name after the wildcard label", name)
	}

	ascii, err := idna.Lookup.ToASCII(base)
	if err != nil {
		return "", acmeerr.Wrap(acmeerr.Malformed, err, "identifier %q does not round-trip through IDNA", name)
	}

	if _, err := publicsuffix.Domain(ascii); err != nil {
		return "", acmeerr.New(acmeerr.Malformed, "identifier %q is itself a public suffix", name)
	}

	if wildcard {
		return "*." + ascii, nil
	}
	return ascii, nil
}

// ValidateSet validates a primary identifier and its SAN set,
// enforcing that the primary is distinct from every SAN entry, and
// returns the normalized primary plus normalized SANs.
func ValidateSet(primary string, sans []string) (string, []string, error) {
	normalizedPrimary, err := Validate(primary)
	if err != nil {
		return "", nil, err
	}

	out := make([]string, 0, len(sans))
	for _, san := range sans {
		normalized, err := Validate(san)
		if err != nil {
			return "", nil, err
		}
		if normalized == normalizedPrimary {
			return "", nil, acmeerr.New(acmeerr.Malformed, "SAN %q duplicates the primary identifier", san)
		}
		out = append(out, normalized)
	}
	return normalizedPrimary, out, nil
}
