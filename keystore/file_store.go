package keystore

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/acmevault/acmevault/acmeerr"
	"github.com/acmevault/acmevault/der"
)

// FileStore is the portable reference Store implementation: each
// named key is a PEM file (mode 0600) under Dir, framed with
// der.EncodeRSAPrivateKeyPEM / der.EncodeECPrivateKeyPEM. It stands in
// for a platform credential manager on targets that don't have one.
type FileStore struct {
	Dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if
// necessary.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "create keystore directory %s", dir)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.Dir, name+".key.pem")
}

// OpenOrCreate returns the named key if present on disk, creating one
// of the given algorithm/size otherwise.
func (s *FileStore) OpenOrCreate(name string, alg Algorithm, bits int) (Handle, error) {
	path := s.path(name)
	if data, err := os.ReadFile(path); err == nil {
		signer, gotAlg, gotBits, parseErr := parsePEMKey(data)
		if parseErr != nil {
			return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, parseErr, "parse existing key %s", name)
		}
		return &fileHandle{name: name, signer: signer, alg: gotAlg, bits: gotBits}, nil
	} else if !os.IsNotExist(err) {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "read key %s", name)
	}

	signer, err := generateKey(alg, bits)
	if err != nil {
		return nil, err
	}
	pemBytes, err := encodeKeyPEM(signer)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "encode new key %s", name)
	}
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "write new key %s", name)
	}
	return &fileHandle{name: name, signer: signer, alg: alg, bits: keyBits(alg, bits)}, nil
}

// Delete removes the named key's file. Deleting an absent key is not
// an error: callers use Delete to clean up on key rotation, where the
// prior key may already be gone.
func (s *FileStore) Delete(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "delete key %s", name)
	}
	return nil
}

// Export returns the handle's private key material. The file store
// always permits export; only the HSM backend refuses.
func (s *FileStore) Export(h Handle) (crypto.Signer, error) {
	fh, ok := h.(*fileHandle)
	if !ok {
		return nil, acmeerr.New(acmeerr.KeystoreOperationFailed, "handle %s was not issued by this FileStore", h.Name())
	}
	return fh.signer, nil
}

func encodeKeyPEM(signer crypto.Signer) ([]byte, error) {
	switch k := signer.(type) {
	case *rsa.PrivateKey:
		return der.EncodeRSAPrivateKeyPEM(k)
	case *ecdsa.PrivateKey:
		return der.EncodeECPrivateKeyPEM(k)
	default:
		return nil, acmeerr.New(acmeerr.KeystoreOperationFailed, "unsupported key type %T", signer)
	}
}

func parsePEMKey(data []byte) (crypto.Signer, Algorithm, int, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, "", 0, acmeerr.New(acmeerr.KeystoreOperationFailed, "no PEM block found")
	}
	switch block.Type {
	case der.LabelRSAPrivateKey:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, "", 0, err
		}
		return key, RSA, key.N.BitLen(), nil
	case der.LabelECPrivateKey:
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, "", 0, err
		}
		alg := ECDSAP256
		bits := 256
		if key.Curve.Params().BitSize == 384 {
			alg = ECDSAP384
			bits = 384
		}
		return key, alg, bits, nil
	default:
		return nil, "", 0, acmeerr.New(acmeerr.KeystoreOperationFailed, "unsupported PEM block type %s", block.Type)
	}
}
