// Package der implements the encoding primitives the ACME client needs
// to hand-roll its own wire encodings rather than depend on a
// third-party ASN.1 library: URL-safe base64, PEM framing, and a
// minimal DER encoder sufficient for PKCS#1/RFC 5915 private keys and
// the OCSP Must-Staple extension.
package der

import (
	"encoding/base64"
	"strings"
)

// EncodeB64 encodes b as unpadded URL-safe base64, the form ACME uses
// everywhere (JWS segments, key authorizations, CSR bodies).
func EncodeB64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeB64 decodes unpadded or padded URL-safe base64. Any trailing
// '=' padding is stripped before decoding with base64.RawURLEncoding;
// this thin wrapper exists so call sites never need to think about
// which encoding variant to reach for.
func DecodeB64(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// encodeStdB64 encodes b as standard padded base64, the form PEM
// bodies use.
func encodeStdB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
