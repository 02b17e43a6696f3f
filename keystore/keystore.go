// Package keystore provides named persistent key containers:
// create-if-absent, open-by-name, delete-by-name, and (where the
// backend allows it) export of the private material. Two backends are
// provided: a file-backed store (the portable default, PEM files on
// disk) and an HSM-backed store over PKCS#11 (hsm_store.go).
package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"

	"github.com/acmevault/acmevault/acmeerr"
)

// Algorithm identifies a key algorithm/curve: RSA at a configurable
// size, or one of two fixed-size ECDSA curves.
type Algorithm string

const (
	RSA        Algorithm = "RSA"
	ECDSAP256  Algorithm = "ECDSA-P256"
	ECDSAP384  Algorithm = "ECDSA-P384"
)

// Handle is a named key inside a Store. Signer returns the crypto
// primitive needed to sign a CSR or a JWS; Algorithm/Bits describe the
// policy the key was created under, used by the lifecycle manager's
// reuse/reissue decision.
type Handle interface {
	Name() string
	Signer() crypto.Signer
	Algorithm() Algorithm
	Bits() int
}

// Store is the keystore contract: OpenOrCreate returns the named key
// if one already exists, else creates it with the given algorithm and
// size. Export returns the private key material only if the backend's
// policy allows plaintext export; HSM handles never do, since the
// whole point of a hardware-backed key is that it never leaves the
// token.
type Store interface {
	OpenOrCreate(name string, alg Algorithm, bits int) (Handle, error)
	Delete(name string) error
	Export(h Handle) (crypto.Signer, error)
}

type fileHandle struct {
	name   string
	signer crypto.Signer
	alg    Algorithm
	bits   int
}

func (h *fileHandle) Name() string          { return h.name }
func (h *fileHandle) Signer() crypto.Signer { return h.signer }
func (h *fileHandle) Algorithm() Algorithm  { return h.alg }
func (h *fileHandle) Bits() int             { return h.bits }

func generateKey(alg Algorithm, bits int) (crypto.Signer, error) {
	switch alg {
	case RSA:
		if bits < 2048 || bits > 4096 || bits%64 != 0 {
			return nil, acmeerr.New(acmeerr.Malformed, "RSA key size %d must be a multiple of 64 in [2048, 4096]", bits)
		}
		return rsa.GenerateKey(rand.Reader, bits)
	case ECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	default:
		return nil, acmeerr.New(acmeerr.Malformed, "unsupported key algorithm %q", alg)
	}
}

func keyBits(alg Algorithm, bits int) int {
	switch alg {
	case ECDSAP256:
		return 256
	case ECDSAP384:
		return 384
	default:
		return bits
	}
}
