// Package directory fetches and normalizes an ACME directory document.
// The legacy pre-standardization wire format names its endpoints
// differently from the modern RFC 8555 directory — new-reg vs
// newAccount, and so on — and only the legacy format requires this
// client to synthesize a few endpoints (account/authz/order) that the
// server itself never advertises.
package directory

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/acmevault/acmevault/acmeerr"
)

// Dialect selects which ACME wire dialect a CA speaks.
type Dialect string

const (
	DialectACME1Boulder Dialect = "acme1-boulder"
	DialectACME2Boulder Dialect = "acme2-boulder"
	DialectACME1        Dialect = "acme1"
)

// Directory is the normalized set of resource URLs this client acts
// on, regardless of which wire dialect the CA spoke.
type Directory struct {
	NewAccount      string
	NewAuthz        string
	NewOrder        string
	KeyChange       string
	RevokeCert      string
	TermsOfService  string
	Account         string
	Authz           string
	Order           string
}

// legacyField is the raw shape of a boulder-v1-style directory
// document: resource name -> URL, plus a nested meta object.
type legacyField struct {
	NewReg     string `json:"new-reg"`
	NewAuthz   string `json:"new-authz"`
	NewCert    string `json:"new-cert"`
	KeyChange  string `json:"key-change"`
	RevokeCert string `json:"revoke-cert"`
	Meta       struct {
		TermsOfService string `json:"terms-of-service"`
	} `json:"meta"`
}

// modernField is the RFC 8555 directory shape: every field is copied
// verbatim, field names match 1:1.
type modernField struct {
	NewAccount string `json:"newAccount"`
	NewAuthz   string `json:"newAuthz"`
	NewOrder   string `json:"newOrder"`
	KeyChange  string `json:"keyChange"`
	RevokeCert string `json:"revokeCert"`
	Meta       struct {
		TermsOfService string `json:"termsOfService"`
	} `json:"meta"`
}

// Fetch retrieves and normalizes the directory document at url for
// the given dialect.
func Fetch(client *http.Client, url string, dialect Dialect) (*Directory, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.DirectoryFetchFailed, err, "GET %s", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.DirectoryFetchFailed, err, "read directory body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, acmeerr.New(acmeerr.DirectoryFetchFailed, "directory fetch %s returned %d", url, resp.StatusCode)
	}

	switch dialect {
	case DialectACME1Boulder, DialectACME1:
		var f legacyField
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, acmeerr.Wrap(acmeerr.DirectoryFetchFailed, err, "parse legacy directory")
		}
		return &Directory{
			NewAccount:     f.NewReg,
			NewAuthz:       f.NewAuthz,
			NewOrder:       f.NewCert,
			KeyChange:      f.KeyChange,
			RevokeCert:     f.RevokeCert,
			TermsOfService: f.Meta.TermsOfService,
			Account:        synthesize(f.NewReg, "reg/"),
			Authz:          synthesize(f.NewAuthz, "authz/"),
			Order:          synthesize(f.NewCert, "cert/"),
		}, nil
	default:
		var f modernField
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, acmeerr.Wrap(acmeerr.DirectoryFetchFailed, err, "parse directory")
		}
		return &Directory{
			NewAccount:     f.NewAccount,
			NewAuthz:       f.NewAuthz,
			NewOrder:       f.NewOrder,
			KeyChange:      f.KeyChange,
			RevokeCert:     f.RevokeCert,
			TermsOfService: f.Meta.TermsOfService,
		}, nil
	}
}

// synthesize builds the account/authz/order URL by replacing the
// trailing path segment of a "new-" URL with its non-"new-"
// counterpart: new-reg -> reg/, new-authz -> authz/, new-cert -> cert/.
// If the "new-" URL is absent (the CA didn't advertise that resource
// at all) the synthesized URL is empty too.
func synthesize(newURL, replacement string) string {
	if newURL == "" {
		return ""
	}
	idx := strings.LastIndex(newURL, "/")
	if idx < 0 {
		return ""
	}
	return newURL[:idx+1] + replacement
}
