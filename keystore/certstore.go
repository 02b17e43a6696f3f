package keystore

import (
	"crypto/x509"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/acmevault/acmevault/acmeerr"
)

// CertificateRecord is an installed certificate bound to the private
// key it was issued for: enumerate-by-friendly-name,
// install-with-private-key-binding, private-key-handle retrieval.
type CertificateRecord struct {
	FriendlyName string
	KeyName      string
	DERCert      []byte
	NotAfter     int64 // unix seconds, for NotAfter-descending tie-break
	Thumbprint   string
}

// CertStore enumerates and installs CertificateRecords. FileCertStore
// is the only implementation; the interface is kept separate from
// Store because a CertificateRecord names a key (KeyName) rather than
// holding one — the certificate store and the key store are two
// facets of the same durable state, queried differently.
type CertStore interface {
	FindByFriendlyName(friendlyName string) ([]CertificateRecord, error)
	Install(rec CertificateRecord) error
}

// FileCertStore persists CertificateRecords as one JSON sidecar file
// per installed certificate, under Dir/<friendlyName>/<thumbprint>.json.
type FileCertStore struct {
	Dir string
}

// NewFileCertStore returns a FileCertStore rooted at dir.
func NewFileCertStore(dir string) (*FileCertStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "create cert store directory %s", dir)
	}
	return &FileCertStore{Dir: dir}, nil
}

func (s *FileCertStore) friendlyDir(friendlyName string) string {
	return filepath.Join(s.Dir, safeName(friendlyName))
}

// FindByFriendlyName returns every installed record for friendlyName,
// sorted by NotAfter descending then Thumbprint ascending, so callers
// that only want the newest record can take records[0].
func (s *FileCertStore) FindByFriendlyName(friendlyName string) ([]CertificateRecord, error) {
	dir := s.friendlyDir(friendlyName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "list cert store directory %s", dir)
	}

	var records []CertificateRecord
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "read cert record %s", e.Name())
		}
		var rec CertificateRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "parse cert record %s", e.Name())
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].NotAfter != records[j].NotAfter {
			return records[i].NotAfter > records[j].NotAfter
		}
		return records[i].Thumbprint < records[j].Thumbprint
	})
	return records, nil
}

// Install writes rec's sidecar file, binding it to its private key
// (already present in the keystore under rec.KeyName).
func (s *FileCertStore) Install(rec CertificateRecord) error {
	if _, err := x509.ParseCertificate(rec.DERCert); err != nil {
		return acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "install record %s: not a valid certificate", rec.FriendlyName)
	}

	dir := s.friendlyDir(rec.FriendlyName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "create friendly-name directory %s", dir)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "marshal cert record")
	}
	path := filepath.Join(dir, rec.Thumbprint+".json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "write cert record %s", path)
	}
	return nil
}

func safeName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == '/' || c == os.PathSeparator {
			out[i] = '_'
		} else {
			out[i] = c
		}
	}
	return string(out)
}
