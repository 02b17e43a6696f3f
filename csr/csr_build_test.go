package csr

import (
	"crypto/x509"
	"testing"

	"github.com/acmevault/acmevault/keystore"
)

func TestBuildRSA(t *testing.T) {
	store, err := keystore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %s", err)
	}

	csrDER, handle, err := Build(store, "cert-1", Request{
		Primary: "example.com",
		SANs:    []string{"www.example.com"},
		KeyAlg:  keystore.RSA,
		KeyBits: 2048,
	})
	if err != nil {
		t.Fatalf("Build: %s", err)
	}
	if handle.Name() != "cert-1" {
		t.Errorf("handle name = %s", handle.Name())
	}

	parsed, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		t.Fatalf("ParseCertificateRequest: %s", err)
	}
	if parsed.Subject.CommonName != "example.com" {
		t.Errorf("CN = %s, want example.com", parsed.Subject.CommonName)
	}
	if len(parsed.DNSNames) != 2 || parsed.DNSNames[0] != "example.com" || parsed.DNSNames[1] != "www.example.com" {
		t.Errorf("DNSNames = %v", parsed.DNSNames)
	}
	if parsed.SignatureAlgorithm != x509.SHA256WithRSA {
		t.Errorf("SignatureAlgorithm = %v, want SHA256WithRSA", parsed.SignatureAlgorithm)
	}

	foundKeyUsage, foundEKU := false, false
	for _, ext := range parsed.Extensions {
		if ext.Id.Equal(oidKeyUsage) {
			foundKeyUsage = true
			if !ext.Critical {
				t.Error("KeyUsage extension must be critical")
			}
		}
		if ext.Id.Equal(oidExtKeyUsage) {
			foundEKU = true
		}
	}
	if !foundKeyUsage {
		t.Error("missing KeyUsage extension")
	}
	if !foundEKU {
		t.Error("missing ExtKeyUsage extension")
	}
}

func TestBuildECDSAP384UsesSHA384(t *testing.T) {
	store, err := keystore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %s", err)
	}

	csrDER, _, err := Build(store, "cert-ec", Request{
		Primary: "example.org",
		KeyAlg:  keystore.ECDSAP384,
	})
	if err != nil {
		t.Fatalf("Build: %s", err)
	}
	parsed, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		t.Fatalf("ParseCertificateRequest: %s", err)
	}
	if parsed.SignatureAlgorithm != x509.ECDSAWithSHA384 {
		t.Errorf("SignatureAlgorithm = %v, want ECDSAWithSHA384", parsed.SignatureAlgorithm)
	}
}

func TestBuildMustStapleExtension(t *testing.T) {
	store, err := keystore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %s", err)
	}

	csrDER, _, err := Build(store, "cert-staple", Request{
		Primary:    "example.net",
		KeyAlg:     keystore.RSA,
		KeyBits:    2048,
		MustStaple: true,
	})
	if err != nil {
		t.Fatalf("Build: %s", err)
	}
	parsed, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		t.Fatalf("ParseCertificateRequest: %s", err)
	}
	found := false
	for _, ext := range parsed.Extensions {
		if ext.Id.Equal(oidOCSPMustStaple) {
			found = true
			want := []byte{0x30, 0x03, 0x02, 0x01, 0x05}
			if string(ext.Value) != string(want) {
				t.Errorf("Must-Staple value = % x, want % x", ext.Value, want)
			}
		}
	}
	if !found {
		t.Error("missing Must-Staple extension")
	}
}
