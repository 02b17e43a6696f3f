package keystore

import (
	"crypto"
	"math/big"
	"strings"

	"github.com/letsencrypt/pkcs11key/v4"
	"github.com/miekg/pkcs11"

	"github.com/acmevault/acmevault/acmeerr"
)

// oidNamedCurveP256/P384 DER-encode the curve OID PKCS#11's
// CKA_EC_PARAMS attribute expects, the same encoding der/keys.go uses for
// the EC PRIVATE KEY PEM's named-curve field.
var (
	oidNamedCurveP256 = []byte{0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07}
	oidNamedCurveP384 = []byte{0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x22}
)

// HSMStore implements Store over a PKCS#11 token, for deployments
// where the platform keystore is a hardware module rather than an OS
// credential store. Keys are looked up and generated by CKA_LABEL; the
// label is the Store key name, exactly like FileStore's file name.
type HSMStore struct {
	ModulePath string
	TokenLabel string
	PIN        string

	ctx     *pkcs11.Ctx
	slot    uint
	session pkcs11.SessionHandle
}

// NewHSMStore opens the PKCS#11 module, finds the slot whose token is
// labeled tokenLabel, opens a read-write session on it, and logs in.
func NewHSMStore(modulePath, tokenLabel, pin string) (*HSMStore, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, acmeerr.New(acmeerr.KeystoreOperationFailed, "failed to load PKCS#11 module %s", modulePath)
	}
	if err := ctx.Initialize(); err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "initialize PKCS#11 module %s", modulePath)
	}

	slot, err := findSlotByLabel(ctx, tokenLabel)
	if err != nil {
		return nil, err
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "open PKCS#11 session on token %s", tokenLabel)
	}
	if err := ctx.Login(session, pkcs11.CKU_USER, pin); err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "login to token %s", tokenLabel)
	}

	return &HSMStore{
		ModulePath: modulePath,
		TokenLabel: tokenLabel,
		PIN:        pin,
		ctx:        ctx,
		slot:       slot,
		session:    session,
	}, nil
}

func findSlotByLabel(ctx *pkcs11.Ctx, label string) (uint, error) {
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "list PKCS#11 slots")
	}
	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if strings.TrimRight(info.Label, "\x00 ") == label {
			return slot, nil
		}
	}
	return 0, acmeerr.New(acmeerr.KeystoreOperationFailed, "no PKCS#11 token labeled %q", label)
}

type hsmHandle struct {
	name   string
	signer crypto.Signer
	alg    Algorithm
	bits   int
}

func (h *hsmHandle) Name() string          { return h.name }
func (h *hsmHandle) Signer() crypto.Signer { return h.signer }
func (h *hsmHandle) Algorithm() Algorithm  { return h.alg }
func (h *hsmHandle) Bits() int             { return h.bits }

// OpenOrCreate looks up an existing object labeled name on the token;
// if none is found it generates a fresh key pair of the requested
// algorithm/size directly on the token and labels it name, then opens
// it the same way an already-provisioned key would be opened.
func (s *HSMStore) OpenOrCreate(name string, alg Algorithm, bits int) (Handle, error) {
	exists, err := s.labelExists(name)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := s.generateKeyPair(name, alg, keyBits(alg, bits)); err != nil {
			return nil, err
		}
	}

	signer, err := pkcs11key.New(s.ModulePath, s.TokenLabel, s.PIN, name)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "open PKCS#11 key %s", name)
	}
	return &hsmHandle{name: name, signer: signer, alg: alg, bits: keyBits(alg, bits)}, nil
}

func (s *HSMStore) labelExists(name string) (bool, error) {
	tmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, name),
	}
	if err := s.ctx.FindObjectsInit(s.session, tmpl); err != nil {
		return false, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "find PKCS#11 key %s", name)
	}
	objs, _, err := s.ctx.FindObjects(s.session, 1)
	s.ctx.FindObjectsFinal(s.session)
	if err != nil {
		return false, acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "find PKCS#11 key %s", name)
	}
	return len(objs) > 0, nil
}

func (s *HSMStore) generateKeyPair(name string, alg Algorithm, bits int) error {
	pubTmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, name),
		pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true),
	}
	privTmpl := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, true),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, name),
		pkcs11.NewAttribute(pkcs11.CKA_PRIVATE, true),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}

	var mech []*pkcs11.Mechanism
	switch alg {
	case RSA:
		pubTmpl = append(pubTmpl,
			pkcs11.NewAttribute(pkcs11.CKA_MODULUS_BITS, bits),
			pkcs11.NewAttribute(pkcs11.CKA_PUBLIC_EXPONENT, big.NewInt(65537).Bytes()),
		)
		mech = []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_KEY_PAIR_GEN, nil)}
	case ECDSAP256:
		pubTmpl = append(pubTmpl, pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, oidNamedCurveP256))
		mech = []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)}
	case ECDSAP384:
		pubTmpl = append(pubTmpl, pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, oidNamedCurveP384))
		mech = []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_EC_KEY_PAIR_GEN, nil)}
	default:
		return acmeerr.New(acmeerr.KeystoreOperationFailed, "unsupported key algorithm %q for PKCS#11 generation", alg)
	}

	_, _, err := s.ctx.GenerateKeyPair(s.session, mech, pubTmpl, privTmpl)
	if err != nil {
		return acmeerr.Wrap(acmeerr.KeystoreOperationFailed, err, "generate PKCS#11 key pair %s", name)
	}
	return nil
}

// Delete is not supported: HSM-resident key deletion is a privileged
// token-management operation this client does not perform.
func (s *HSMStore) Delete(name string) error {
	return acmeerr.New(acmeerr.KeystoreOperationFailed, "HSM store does not support key deletion for %s", name)
}

// Export always fails: HSM keys are, by construction, not exportable.
func (s *HSMStore) Export(h Handle) (crypto.Signer, error) {
	return nil, acmeerr.New(acmeerr.KeystoreOperationFailed, "key %s is held in an HSM and cannot be exported", h.Name())
}
