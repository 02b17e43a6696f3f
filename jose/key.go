// Package jose implements the JWK/JWS signing engine: JWK
// serialization, JWK thumbprints, and RS256 signing of the {header,
// protected, payload, signature} request bodies the ACME transport
// sends. The account key is always RSA, so this package only needs to
// speak RS256. The wire format is the flattened, non-standard
// {header, protected, payload, signature} object the legacy ACME v1
// dialect uses, not RFC 7515's general or flattened JSON
// serialization, so signing is built directly against that shape
// rather than through a general-purpose JOSE library's own
// serializer.
package jose

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/acmevault/acmevault/der"
)

// PublicJWK is the RSA public-key JWK shape the ACME wire format
// requires: exactly {kty, e, n}, nothing more, since it is also the
// struct the thumbprint is computed over.
type PublicJWK struct {
	E   string `json:"e"`
	Kty string `json:"kty"`
	N   string `json:"n"`
}

// NewPublicJWK extracts the {kty, e, n} JWK view of an RSA public key.
func NewPublicJWK(pub *rsa.PublicKey) PublicJWK {
	return PublicJWK{
		Kty: "RSA",
		E:   der.EncodeB64(big2bytes(int64(pub.E))),
		N:   der.EncodeB64(pub.N.Bytes()),
	}
}

func big2bytes(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v & 0xff)}, b...)
		v >>= 8
	}
	return b
}

// Thumbprint computes the SHA-256 JWK thumbprint per RFC 7638: the
// canonical JSON `{"e":"…","kty":"RSA","n":"…"}`, fields in that exact
// order, no whitespace, then url-safe base64.
//
// The field order is written out by hand rather than delegated to
// encoding/json's struct-tag order, so that a reordering of PublicJWK
// above can never silently change the thumbprint.
func Thumbprint(pub *rsa.PublicKey) string {
	jwk := NewPublicJWK(pub)
	canonical := fmt.Sprintf(`{"e":%q,"kty":%q,"n":%q}`, jwk.E, jwk.Kty, jwk.N)
	sum := sha256.Sum256([]byte(canonical))
	return der.EncodeB64(sum[:])
}

// Header is the protected JWS header every signed request sends:
// RS256 with the account key's JWK embedded, plus an optional
// anti-replay nonce.
type Header struct {
	Alg   string    `json:"alg"`
	JWK   PublicJWK `json:"jwk"`
	Nonce string    `json:"nonce,omitempty"`
}

// SignedRequest is the JWS request body shape the legacy ACME v1
// wire format specifies: a non-standard, flattened {header, protected,
// payload, signature} object, not RFC 7515's general or flattened
// JSON serialization.
type SignedRequest struct {
	Header    Header `json:"header"`
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Signer signs requests with a single persistent RSA account key.
type Signer struct {
	key *rsa.PrivateKey
}

// NewSigner wraps an RSA private key for RS256 JWS signing.
func NewSigner(key *rsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Public returns the signer's public key.
func (s *Signer) Public() *rsa.PublicKey {
	return &s.key.PublicKey
}

// Thumbprint returns this signer's account-key JWK thumbprint.
func (s *Signer) Thumbprint() string {
	return Thumbprint(&s.key.PublicKey)
}

// Sign builds the signed request body for payload, adding `resource`
// to the payload and nonce to the protected header when non-empty.
func (s *Signer) Sign(nonce string, resource string, payload interface{}) (*SignedRequest, error) {
	payloadWithResource, err := mergeResource(resource, payload)
	if err != nil {
		return nil, err
	}

	header := Header{
		Alg:   "RS256",
		JWK:   NewPublicJWK(&s.key.PublicKey),
		Nonce: nonce,
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("jose: marshal header: %w", err)
	}
	protected := der.EncodeB64(headerJSON)

	payloadJSON, err := json.Marshal(payloadWithResource)
	if err != nil {
		return nil, fmt.Errorf("jose: marshal payload: %w", err)
	}
	payloadB64 := der.EncodeB64(payloadJSON)

	signingInput := protected + "." + payloadB64
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("jose: sign: %w", err)
	}

	return &SignedRequest{
		Header:    header,
		Protected: protected,
		Payload:   payloadB64,
		Signature: der.EncodeB64(sig),
	}, nil
}

// mergeResource marshals payload to a JSON object and injects
// "resource" into it: payload.resource is always set by the
// transport, not left to each call site to remember.
func mergeResource(resource string, payload interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jose: marshal payload for resource merge: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("jose: payload is not a JSON object: %w", err)
	}
	if m == nil {
		m = map[string]interface{}{}
	}
	m["resource"] = resource
	return m, nil
}
