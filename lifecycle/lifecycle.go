// Package lifecycle implements the reuse/renew/reissue decision and
// signing flow: pick the most recent matching CertificateRecord for a
// friendly name, compare it against the current policy and remaining
// validity, and decide whether this run needs to do anything at all.
package lifecycle

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"sort"
	"time"

	"github.com/acmevault/acmevault/acmeerr"
	"github.com/acmevault/acmevault/csr"
	"github.com/acmevault/acmevault/keystore"
)

// Decision is the outcome of Verify.
type Decision string

const (
	Reuse   Decision = "reuse"
	Renew   Decision = "renew"
	Reissue Decision = "reissue"
)

// Policy is the configured issuance policy Verify compares a prior
// certificate against.
type Policy struct {
	KeyAlg     keystore.Algorithm
	KeyBits    int
	RenewDays  int
	MustStaple bool
}

// FriendlyName builds the CertificateRecord lookup tag used to group
// every certificate issued for the same primary domain against the
// same CA: "<primary-domain> - <hash(CA-URL)>".
func FriendlyName(primary, caURL string) string {
	sum := sha256.Sum256([]byte(caURL))
	return primary + " - " + base64.RawURLEncoding.EncodeToString(sum[:8])
}

// Verify compares the latest certificate on file for (primary, caURL)
// against the requested name set and policy, returning Reuse only when
// the key policy, DNS-name bag, and remaining validity all still
// satisfy what's configured.
func Verify(store keystore.CertStore, primary string, sans []string, caURL string, policy Policy, now time.Time) (Decision, *keystore.CertificateRecord, error) {
	friendly := FriendlyName(primary, caURL)
	records, err := store.FindByFriendlyName(friendly)
	if err != nil {
		return "", nil, err
	}
	if len(records) == 0 {
		return Reissue, nil, nil
	}

	// Already sorted NotAfter-desc, Thumbprint-asc by the store.
	latest := records[0]

	cert, err := x509.ParseCertificate(latest.DERCert)
	if err != nil {
		return Reissue, nil, nil
	}

	if !sameNameBag(cert, primary, sans) {
		return Reissue, &latest, nil
	}

	if !algMatches(cert, policy) {
		return Reissue, &latest, nil
	}

	if cert.NotAfter.Before(now.AddDate(0, 0, policy.RenewDays)) {
		return Renew, &latest, nil
	}

	return Reuse, &latest, nil
}

func sameNameBag(cert *x509.Certificate, primary string, sans []string) bool {
	want := append([]string{primary}, sans...)
	got := append([]string(nil), cert.DNSNames...)
	if len(want) != len(got) {
		return false
	}
	sort.Strings(want)
	sort.Strings(got)
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// algMatches reports whether cert's public key satisfies policy's
// configured algorithm and size.
func algMatches(cert *x509.Certificate, policy Policy) bool {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return policy.KeyAlg == keystore.RSA && pub.N.BitLen() == policy.KeyBits
	case *ecdsa.PublicKey:
		switch policy.KeyAlg {
		case keystore.ECDSAP256:
			return pub.Curve.Params().BitSize == 256
		case keystore.ECDSAP384:
			return pub.Curve.Params().BitSize == 384
		default:
			return false
		}
	default:
		return false
	}
}

// Sign produces the CSR for a pending issuance: on reissue, a fresh
// key and CSR; on renew, a CSR built against the requested name set,
// inheriting the prior private key unless rotation was requested.
func Sign(store keystore.Store, keyName string, decision Decision, prior *keystore.CertificateRecord, primary string, sans []string, policy Policy, rotateKey bool) ([]byte, keystore.Handle, error) {
	req := csr.Request{
		Primary:    primary,
		SANs:       sans,
		KeyAlg:     policy.KeyAlg,
		KeyBits:    policy.KeyBits,
		MustStaple: policy.MustStaple,
	}

	switch decision {
	case Reissue:
		return csr.Build(store, keyName, req)
	case Renew:
		if prior == nil {
			return csr.Build(store, keyName, req)
		}
		if rotateKey {
			if err := store.Delete(keyName); err != nil {
				return nil, nil, err
			}
		}
		return csr.Build(store, keyName, req)
	default:
		return nil, nil, acmeerr.New(acmeerr.InternalError, "Sign called with decision %q, which needs no signing", decision)
	}
}

// Install binds the CA's issued DER certificate to keyName in store,
// recording it as the current CertificateRecord for this friendly
// name.
func Install(store keystore.CertStore, primary, caURL, keyName string, derCert []byte, thumbprint string) error {
	cert, err := x509.ParseCertificate(derCert)
	if err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "parse issued certificate")
	}
	rec := keystore.CertificateRecord{
		FriendlyName: FriendlyName(primary, caURL),
		KeyName:      keyName,
		DERCert:      derCert,
		NotAfter:     cert.NotAfter.Unix(),
		Thumbprint:   thumbprint,
	}
	return store.Install(rec)
}
