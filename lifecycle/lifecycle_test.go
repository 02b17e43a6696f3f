package lifecycle

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/acmevault/acmevault/keystore"
)

func selfSignedCert(t *testing.T, key *rsa.PrivateKey, dnsNames []string, notAfter time.Time) []byte {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: dnsNames[0]},
		DNSNames:     dnsNames,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %s", err)
	}
	return der
}

func thumbprintOf(der []byte) string {
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestVerifyReissueWhenNoPriorCertificate(t *testing.T) {
	store, err := keystore.NewFileCertStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	policy := Policy{KeyAlg: keystore.RSA, KeyBits: 2048, RenewDays: 30}
	decision, prior, err := Verify(store, "example.com", nil, "https://ca.example", policy, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if decision != Reissue {
		t.Errorf("decision = %s, want reissue", decision)
	}
	if prior != nil {
		t.Errorf("prior = %+v, want nil", prior)
	}
}

func TestVerifyReuseWhenFarFromExpiry(t *testing.T) {
	store, err := keystore.NewFileCertStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := selfSignedCert(t, key, []string{"example.com", "www.example.com"}, time.Now().Add(60*24*time.Hour))
	caURL := "https://ca.example"
	rec := keystore.CertificateRecord{
		FriendlyName: FriendlyName("example.com", caURL),
		KeyName:      "cert-1",
		DERCert:      der,
		NotAfter:     time.Now().Add(60 * 24 * time.Hour).Unix(),
		Thumbprint:   thumbprintOf(der),
	}
	if err := store.Install(rec); err != nil {
		t.Fatal(err)
	}

	policy := Policy{KeyAlg: keystore.RSA, KeyBits: 2048, RenewDays: 30}
	decision, prior, err := Verify(store, "example.com", []string{"www.example.com"}, caURL, policy, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if decision != Reuse {
		t.Errorf("decision = %s, want reuse", decision)
	}
	if prior == nil || prior.KeyName != "cert-1" {
		t.Errorf("prior = %+v", prior)
	}
}

func TestVerifyRenewWhenNearExpiry(t *testing.T) {
	store, err := keystore.NewFileCertStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := selfSignedCert(t, key, []string{"example.com"}, time.Now().Add(10*24*time.Hour))
	caURL := "https://ca.example"
	rec := keystore.CertificateRecord{
		FriendlyName: FriendlyName("example.com", caURL),
		KeyName:      "cert-1",
		DERCert:      der,
		NotAfter:     time.Now().Add(10 * 24 * time.Hour).Unix(),
		Thumbprint:   thumbprintOf(der),
	}
	if err := store.Install(rec); err != nil {
		t.Fatal(err)
	}

	policy := Policy{KeyAlg: keystore.RSA, KeyBits: 2048, RenewDays: 30}
	decision, _, err := Verify(store, "example.com", nil, caURL, policy, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if decision != Renew {
		t.Errorf("decision = %s, want renew", decision)
	}
}

func TestVerifyReissueWhenSANsChanged(t *testing.T) {
	store, err := keystore.NewFileCertStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := selfSignedCert(t, key, []string{"example.com"}, time.Now().Add(60*24*time.Hour))
	caURL := "https://ca.example"
	rec := keystore.CertificateRecord{
		FriendlyName: FriendlyName("example.com", caURL),
		KeyName:      "cert-1",
		DERCert:      der,
		NotAfter:     time.Now().Add(60 * 24 * time.Hour).Unix(),
		Thumbprint:   thumbprintOf(der),
	}
	if err := store.Install(rec); err != nil {
		t.Fatal(err)
	}

	policy := Policy{KeyAlg: keystore.RSA, KeyBits: 2048, RenewDays: 30}
	decision, _, err := Verify(store, "example.com", []string{"new.example.com"}, caURL, policy, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if decision != Reissue {
		t.Errorf("decision = %s, want reissue", decision)
	}
}

func TestVerifyReissueWhenKeySizeChanged(t *testing.T) {
	store, err := keystore.NewFileCertStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := selfSignedCert(t, key, []string{"example.com"}, time.Now().Add(60*24*time.Hour))
	caURL := "https://ca.example"
	rec := keystore.CertificateRecord{
		FriendlyName: FriendlyName("example.com", caURL),
		KeyName:      "cert-1",
		DERCert:      der,
		NotAfter:     time.Now().Add(60 * 24 * time.Hour).Unix(),
		Thumbprint:   thumbprintOf(der),
	}
	if err := store.Install(rec); err != nil {
		t.Fatal(err)
	}

	policy := Policy{KeyAlg: keystore.RSA, KeyBits: 4096, RenewDays: 30}
	decision, _, err := Verify(store, "example.com", nil, caURL, policy, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if decision != Reissue {
		t.Errorf("decision = %s, want reissue", decision)
	}
}

func TestSignReuseExistingKeyOnRenew(t *testing.T) {
	keyStore, err := keystore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	policy := Policy{KeyAlg: keystore.RSA, KeyBits: 2048, RenewDays: 30}

	_, handle1, err := Sign(keyStore, "cert-1", Reissue, nil, "example.com", nil, policy, false)
	if err != nil {
		t.Fatalf("Sign reissue: %s", err)
	}

	prior := &keystore.CertificateRecord{KeyName: "cert-1"}
	_, handle2, err := Sign(keyStore, "cert-1", Renew, prior, "example.com", nil, policy, false)
	if err != nil {
		t.Fatalf("Sign renew: %s", err)
	}

	if handle1.Signer().Public().(*rsa.PublicKey).N.Cmp(handle2.Signer().Public().(*rsa.PublicKey).N) != 0 {
		t.Error("renew without rotation should reuse the prior key")
	}
}

func TestInstallBindsRecordToFriendlyName(t *testing.T) {
	certStore, err := keystore.NewFileCertStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := selfSignedCert(t, key, []string{"example.com"}, time.Now().Add(60*24*time.Hour))

	if err := Install(certStore, "example.com", "https://ca.example", "cert-1", der, thumbprintOf(der)); err != nil {
		t.Fatalf("Install: %s", err)
	}

	records, err := certStore.FindByFriendlyName(FriendlyName("example.com", "https://ca.example"))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].KeyName != "cert-1" {
		t.Errorf("records = %+v", records)
	}
}
