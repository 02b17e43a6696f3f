package der

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
)

// oidNamedCurve DER-encodes (as an OBJECT IDENTIFIER) the curve OID
// for the two ECDSA curves this client supports.
var oidNamedCurve = map[string][]byte{
	// 1.2.840.10045.3.1.7 (prime256v1 / P-256)
	elliptic.P256().Params().Name: {0x06, 0x08, 0x2a, 0x86, 0x48, 0xce, 0x3d, 0x03, 0x01, 0x07},
	// 1.3.132.0.34 (P-384)
	elliptic.P384().Params().Name: {0x06, 0x05, 0x2b, 0x81, 0x04, 0x00, 0x22},
}

// EncodeRSAPrivateKeyPEM emits the PKCS#1 SEQUENCE of
// (version=0, n, e, d, p, q, dp, dq, qinv), PEM-framed as
// "RSA PRIVATE KEY".
func EncodeRSAPrivateKeyPEM(k *rsa.PrivateKey) ([]byte, error) {
	k.Precompute()
	version, err := IntegerFromInt64(0)
	if err != nil {
		return nil, err
	}
	n, err := Integer(k.N.Bytes())
	if err != nil {
		return nil, err
	}
	e, err := IntegerFromInt64(int64(k.E))
	if err != nil {
		return nil, err
	}
	d, err := Integer(k.D.Bytes())
	if err != nil {
		return nil, err
	}
	if len(k.Primes) != 2 {
		return nil, fmt.Errorf("der: only two-prime RSA keys are supported")
	}
	p, err := Integer(k.Primes[0].Bytes())
	if err != nil {
		return nil, err
	}
	q, err := Integer(k.Primes[1].Bytes())
	if err != nil {
		return nil, err
	}
	dp, err := Integer(k.Precomputed.Dp.Bytes())
	if err != nil {
		return nil, err
	}
	dq, err := Integer(k.Precomputed.Dq.Bytes())
	if err != nil {
		return nil, err
	}
	qinv, err := Integer(k.Precomputed.Qinv.Bytes())
	if err != nil {
		return nil, err
	}
	body := Sequence(version, n, e, d, p, q, dp, dq, qinv)
	return EncodePEM(LabelRSAPrivateKey, body), nil
}

// EncodeECPrivateKeyPEM emits the RFC 5915 SEQUENCE of
// (version=1, OCTET STRING d, [0] named-curve OID, [1] BIT STRING
// 0x04||Qx||Qy), PEM-framed as "EC PRIVATE KEY". Only P-256 and P-384
// are supported; this client never generates ECDH keys.
func EncodeECPrivateKeyPEM(k *ecdsa.PrivateKey) ([]byte, error) {
	curveOID, ok := oidNamedCurve[k.Curve.Params().Name]
	if !ok {
		return nil, fmt.Errorf("der: unsupported curve %s", k.Curve.Params().Name)
	}
	version, err := IntegerFromInt64(1)
	if err != nil {
		return nil, err
	}

	byteLen := (k.Curve.Params().BitSize + 7) / 8
	dBytes := make([]byte, byteLen)
	k.D.FillBytes(dBytes)

	pub := make([]byte, 1+2*byteLen)
	pub[0] = 0x04
	k.X.FillBytes(pub[1 : 1+byteLen])
	k.Y.FillBytes(pub[1+byteLen:])

	body := Sequence(
		version,
		OctetString(dBytes),
		ContextTag(0, curveOID),
		ContextTag(1, BitString(pub, 0)),
	)
	return EncodePEM(LabelECPrivateKey, body), nil
}
