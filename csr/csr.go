// Package csr builds the PKCS#10 certificate request issuance needs: a
// fresh per-certificate key from the same keystore mechanism the
// account key uses, CN/SAN/KeyUsage/EKU/Must-Staple extensions, signed
// with the algorithm-appropriate hash. The accepted key algorithms —
// RSA, ECDSA P-256, ECDSA P-384 — match the three this client's
// keystore package knows how to generate.
package csr

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"

	"github.com/acmevault/acmevault/acmeerr"
	"github.com/acmevault/acmevault/der"
	"github.com/acmevault/acmevault/keystore"
)

var (
	oidKeyUsage       = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidExtKeyUsage    = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidOCSPMustStaple = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 24}
	derOIDServerAuth  = []byte{0x06, 0x08, 0x2b, 0x06, 0x01, 0x05, 0x05, 0x07, 0x03, 0x01}
	derOIDClientAuth  = []byte{0x06, 0x08, 0x2b, 0x06, 0x01, 0x05, 0x05, 0x07, 0x03, 0x02}
)

// Request is the input to Build: the identifiers to bind and the
// per-certificate key policy.
type Request struct {
	Primary    string
	SANs       []string
	KeyAlg     keystore.Algorithm
	KeyBits    int
	MustStaple bool
}

// Build generates (or reuses, when the lifecycle decision calls for
// keeping a prior key) a private key in store under keyName, and
// returns its DER PKCS#10 bytes alongside the keystore handle it was
// signed with.
func Build(store keystore.Store, keyName string, req Request) ([]byte, keystore.Handle, error) {
	handle, err := store.OpenOrCreate(keyName, req.KeyAlg, req.KeyBits)
	if err != nil {
		return nil, nil, err
	}

	csrDER, err := buildWithSigner(handle.Signer(), req)
	if err != nil {
		return nil, nil, err
	}
	return csrDER, handle, nil
}

func buildWithSigner(signer crypto.Signer, req Request) ([]byte, error) {
	extensions, err := buildExtensions(req.MustStaple)
	if err != nil {
		return nil, err
	}

	sigAlg, err := signatureAlgorithm(signer)
	if err != nil {
		return nil, err
	}

	template := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: req.Primary},
		DNSNames:           append([]string{req.Primary}, req.SANs...),
		SignatureAlgorithm: sigAlg,
		ExtraExtensions:    extensions,
	}

	return x509.CreateCertificateRequest(rand.Reader, template, signer)
}

// signatureAlgorithm picks SHA-256 for RSA and ECDSA-P256, SHA-384 for
// ECDSA-P384 — the hash strength each curve/key size was designed to
// pair with.
func signatureAlgorithm(signer crypto.Signer) (x509.SignatureAlgorithm, error) {
	switch pub := signer.Public().(type) {
	case *rsa.PublicKey:
		return x509.SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		switch pub.Curve.Params().BitSize {
		case 256:
			return x509.ECDSAWithSHA256, nil
		case 384:
			return x509.ECDSAWithSHA384, nil
		default:
			return 0, acmeerr.New(acmeerr.Malformed, "unsupported ECDSA curve size %d", pub.Curve.Params().BitSize)
		}
	default:
		return 0, acmeerr.New(acmeerr.Malformed, "unsupported key type %T", pub)
	}
}

// buildExtensions assembles the critical KeyUsage extension
// (digitalSignature | keyEncipherment), the serverAuth/clientAuth
// ExtKeyUsage extension, and — when requested — the OCSP Must-Staple
// extension. The OID-bearing extension values are built with the
// hand-rolled der package rather than encoding/asn1, for consistency
// with the rest of this client's key/certificate DER construction;
// only the pkix.Extension.Id field itself uses asn1.ObjectIdentifier,
// since that's the type crypto/x509's own API requires there.
func buildExtensions(mustStaple bool) ([]pkix.Extension, error) {
	// digitalSignature (bit 0) | keyEncipherment (bit 2): 1010 0000,
	// 5 significant bits unused in the trailing octet.
	keyUsageValue := der.BitString([]byte{0xa0}, 5)

	extKeyUsageValue := der.Sequence(derOIDServerAuth, derOIDClientAuth)

	extensions := []pkix.Extension{
		{Id: oidKeyUsage, Critical: true, Value: keyUsageValue},
		{Id: oidExtKeyUsage, Critical: false, Value: extKeyUsageValue},
	}

	if mustStaple {
		five, err := der.IntegerFromInt64(5)
		if err != nil {
			return nil, acmeerr.Wrap(acmeerr.InternalError, err, "encode Must-Staple extension")
		}
		extensions = append(extensions, pkix.Extension{
			Id:    oidOCSPMustStaple,
			Value: der.Sequence(five),
		})
	}

	return extensions, nil
}
