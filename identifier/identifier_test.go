package identifier

import (
	"testing"

	"github.com/acmevault/acmevault/acmeerr"
)

func TestValidateAccepts(t *testing.T) {
	cases := []struct{ in, want string }{
		{"example.com", "example.com"},
		{"example.co.uk", "example.co.uk"},
		{"*.example.com", "*.example.com"},
	}
	for _, c := range cases {
		got, err := Validate(c.in)
		if err != nil {
			t.Errorf("Validate(%q): %s", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("Validate(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidateRejectsBarePublicSuffix(t *testing.T) {
	for _, name := range []string{"com", "co.uk"} {
		if _, err := Validate(name); !acmeerr.Is(err, acmeerr.Malformed) {
			t.Errorf("Validate(%q) = %v, want Malformed", name, err)
		}
	}
}

func TestValidateRejectsMultipleWildcards(t *testing.T) {
	if _, err := Validate("*.*.example.com"); !acmeerr.Is(err, acmeerr.Malformed) {
		t.Errorf("expected Malformed for double-wildcard name, got %v", err)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	if _, err := Validate(""); !acmeerr.Is(err, acmeerr.Malformed) {
		t.Errorf("expected Malformed for empty identifier, got %v", err)
	}
}

func TestValidateSetRejectsPrimaryDuplicatedInSAN(t *testing.T) {
	_, _, err := ValidateSet("example.com", []string{"www.example.com", "example.com"})
	if !acmeerr.Is(err, acmeerr.Malformed) {
		t.Errorf("expected Malformed when SAN duplicates primary, got %v", err)
	}
}

func TestValidateSetNormalizesEach(t *testing.T) {
	primary, sans, err := ValidateSet("example.com", []string{"www.example.com", "api.example.com"})
	if err != nil {
		t.Fatalf("ValidateSet: %s", err)
	}
	if primary != "example.com" {
		t.Errorf("primary = %s", primary)
	}
	if len(sans) != 2 {
		t.Errorf("sans = %v, want 2 entries", sans)
	}
}
