// acmeclient is the unattended driver: given a single JSON config
// naming a CA, an account, a challenge deployer, and a list of
// domains, it brings each domain's certificate to the state the
// configured policy demands — reuse, renew, or reissue — exiting
// nonzero if any domain failed. Config is a single JSON file with no
// defaults applied; there is no app-shell wrapper here because this
// client has one command, not a fleet of them sharing flag-parsing
// boilerplate.
package main

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jmhodges/clock"

	"github.com/acmevault/acmevault/acmeerr"
	"github.com/acmevault/acmevault/account"
	"github.com/acmevault/acmevault/alog"
	"github.com/acmevault/acmevault/challenge"
	"github.com/acmevault/acmevault/directory"
	"github.com/acmevault/acmevault/identifier"
	"github.com/acmevault/acmevault/jose"
	"github.com/acmevault/acmevault/keystore"
	"github.com/acmevault/acmevault/lifecycle"
	"github.com/acmevault/acmevault/lock"
	"github.com/acmevault/acmevault/metrics"
	"github.com/acmevault/acmevault/transport"
)

// Config is decoded from a single JSON file. No defaults are applied
// while decoding; the only fallbacks are logLevel (notice when unset
// or unrecognized) and preflightTries (5 when zero or negative, applied
// by the challenge orchestrator). Every other field the run needs must
// be set explicitly.
type Config struct {
	CADirectoryURL string   `json:"caDirectoryURL"`
	Dialect        string   `json:"dialect"`
	AccountDir     string   `json:"accountDir"`
	KeyDir         string   `json:"keyDir"`
	CertDir        string   `json:"certDir"`
	LockPath       string   `json:"lockPath"`
	DisableLock    bool     `json:"disableLock"`
	Contact        []string `json:"contact"`
	AcceptTerms    bool     `json:"acceptTerms"`
	AutoFix        bool     `json:"autoFix"`

	ChallengeType  string `json:"challengeType"`
	DNSPreflight   bool   `json:"dnsPreflight"`
	PreflightTries int    `json:"preflightTries"`

	KeyAlgorithm string `json:"keyAlgorithm"`
	KeyBits      int    `json:"keyBits"`
	RenewDays    int    `json:"renewDays"`
	MustStaple   bool   `json:"mustStaple"`

	HSMModulePath string `json:"hsmModulePath"`
	HSMTokenLabel string `json:"hsmTokenLabel"`
	HSMPIN        string `json:"hsmPIN"`

	Domains [][]string `json:"domains"` // each entry is [primary, san...]

	LogLevel string `json:"logLevel"`
}

func main() {
	configPath := flag.String("config", "", "path to the JSON config file")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "acmeclient: -config is required")
		os.Exit(1)
	}

	data, err := os.ReadFile(*configPath)
	FailOnError(err, "reading config file")

	var cfg Config
	FailOnError(json.Unmarshal(data, &cfg), "parsing config file")

	level := alog.LevelNotice
	switch cfg.LogLevel {
	case "debug":
		level = alog.LevelDebug
	case "warning":
		level = alog.LevelWarning
	}
	alog.Set(alog.New(os.Stderr, level))

	guard := &lock.Guard{Path: cfg.LockPath, Enabled: !cfg.DisableLock}
	FailOnError(guard.Acquire(), "acquiring process lock")

	registry := metrics.NewRegistry()

	exitCode := run(cfg, registry)
	// os.Exit skips deferred calls, so the lock is released explicitly.
	guard.Release()
	os.Exit(exitCode)
}

// run drives every configured domain to its target certificate state
// and returns the process exit code: 0 if every domain succeeded, 1
// if any failed (the first failure does not abort the remaining
// domains, so one bad name doesn't block renewal of the rest).
func run(cfg Config, registry *metrics.Registry) int {
	keyStore, err := keystore.NewFileStore(cfg.KeyDir)
	FailOnError(err, "opening key store")

	var store keystore.Store = keyStore
	if cfg.HSMModulePath != "" {
		hsmStore, err := keystore.NewHSMStore(cfg.HSMModulePath, cfg.HSMTokenLabel, cfg.HSMPIN)
		FailOnError(err, "opening HSM key store")
		store = hsmStore
	}

	certStore, err := keystore.NewFileCertStore(cfg.CertDir)
	FailOnError(err, "opening certificate store")

	dir, err := directory.Fetch(http.DefaultClient, cfg.CADirectoryURL, directory.Dialect(cfg.Dialect))
	FailOnError(err, "fetching CA directory")
	registry.IncDirectoryFetch("success")

	accountHandle, err := store.OpenOrCreate("account", keystore.RSA, 2048)
	FailOnError(err, "opening account key")
	accountKey, ok := accountHandle.Signer().(*rsa.PrivateKey)
	if !ok {
		FailOnError(acmeerr.New(acmeerr.KeystoreOperationFailed, "account key must be RSA"), "account key type")
	}

	signer := jose.NewSigner(accountKey)
	client := transport.New(signer, registry.Scope())

	mgr := &account.Manager{
		Dir:       cfg.AccountDir,
		CAURL:     cfg.CADirectoryURL,
		AccountID: "default",
		Client:    client,
		Directory: dir,
		AutoFix:   cfg.AutoFix,
	}

	acctCfg, err := mgr.EnsureRegistered(cfg.Contact, false)
	FailOnError(err, "ensuring account registration")
	_, err = mgr.EnsureTermsAccepted(acctCfg, cfg.AcceptTerms)
	FailOnError(err, "ensuring terms of service accepted")

	exitCode := 0
	for _, names := range cfg.Domains {
		if len(names) == 0 {
			continue
		}
		if err := processDomain(cfg, registry, store, certStore, dir, client, signer, names[0], names[1:]); err != nil {
			alog.Get().Warning("acmeclient: %s failed: %s", names[0], err)
			exitCode = 1
		}
	}
	return exitCode
}

func processDomain(cfg Config, registry *metrics.Registry, store keystore.Store, certStore keystore.CertStore, dir *directory.Directory, client *transport.Client, signer *jose.Signer, primary string, sans []string) error {
	normalizedPrimary, normalizedSANs, err := identifier.ValidateSet(primary, sans)
	if err != nil {
		return err
	}

	policy := lifecycle.Policy{
		KeyAlg:     keystore.Algorithm(cfg.KeyAlgorithm),
		KeyBits:    cfg.KeyBits,
		RenewDays:  cfg.RenewDays,
		MustStaple: cfg.MustStaple,
	}

	decision, prior, err := lifecycle.Verify(certStore, normalizedPrimary, normalizedSANs, cfg.CADirectoryURL, policy, time.Now())
	if err != nil {
		return err
	}
	if decision == lifecycle.Reuse {
		registry.IncCertificate(string(decision), "success")
		alog.Get().Notice("acmeclient: %s reused existing certificate", normalizedPrimary)
		return nil
	}

	orchestrator := &challenge.Orchestrator{
		Client:         client,
		Signer:         signer,
		Deployer:       deployerFor(cfg),
		Type:           challenge.Type(cfg.ChallengeType),
		Clock:          clock.Default(),
		Preflight:      cfg.DNSPreflight,
		PreflightTries: cfg.PreflightTries,
		Metrics:        registry,
	}

	for _, name := range append([]string{normalizedPrimary}, normalizedSANs...) {
		if err := orchestrator.Authorize(dir.NewAuthz, name); err != nil {
			registry.IncCertificate(string(decision), "failure")
			return err
		}
	}

	keyName := keyNameFor(normalizedPrimary, cfg.CADirectoryURL)
	csrDER, _, err := lifecycle.Sign(store, keyName, decision, prior, normalizedPrimary, normalizedSANs, policy, false)
	if err != nil {
		registry.IncCertificate(string(decision), "failure")
		return err
	}

	derCert, err := client.SignedForBytes(dir.NewAccount, dir.NewOrder, "new-cert", map[string]string{
		"csr": base64.RawURLEncoding.EncodeToString(csrDER),
	})
	if err != nil {
		registry.IncCertificate(string(decision), "failure")
		return err
	}

	thumbprint := certThumbprint(derCert)
	if err := lifecycle.Install(certStore, normalizedPrimary, cfg.CADirectoryURL, keyName, derCert, thumbprint); err != nil {
		registry.IncCertificate(string(decision), "failure")
		return err
	}

	registry.IncCertificate(string(decision), "success")
	alog.Get().Audit("acmeclient: %s: certificate %s installed (%s)", normalizedPrimary, thumbprint, decision)
	return nil
}

func keyNameFor(primary, caURL string) string {
	return lifecycle.FriendlyName(primary, caURL)
}

func certThumbprint(der []byte) string {
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// deployerFor wires the user-supplied challenge deployment mechanism.
// The deployment body itself (publishing a file over SFTP, an API
// call to a DNS provider) is environment-specific and configured
// outside this binary; noopDeployer exists only so the driver
// composes without one configured, and always fails loudly rather
// than silently skipping validation.
func deployerFor(cfg Config) challenge.Deployer {
	return noopDeployer{}
}

type noopDeployer struct{}

func (noopDeployer) Deploy(domain, selector, value string) error {
	return acmeerr.New(acmeerr.InternalError, "no challenge deployer configured for %s", domain)
}

func (noopDeployer) Cleanup(domain, selector, value, status string) {}

// FailOnError exits the process if err is non-nil.
func FailOnError(err error, msg string) {
	if err != nil {
		alog.Get().Audit("%s: %s", msg, err)
		fmt.Fprintf(os.Stderr, "acmeclient: %s: %s\n", msg, err)
		os.Exit(1)
	}
}
