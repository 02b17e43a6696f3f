package der

import (
	"bytes"
	"fmt"
)

const pemLineWidth = 64

// EncodePEM frames body under label, wrapping the base64 body at 64
// columns, per RFC 7468's textual encoding.
func EncodePEM(label string, body []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "-----BEGIN %s-----\n", label)
	encoded := encodeStdB64(body)
	for i := 0; i < len(encoded); i += pemLineWidth {
		end := i + pemLineWidth
		if end > len(encoded) {
			end = len(encoded)
		}
		buf.WriteString(encoded[i:end])
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "-----END %s-----\n", label)
	return buf.Bytes()
}

// Labels used by the key/certificate exporters.
const (
	LabelCertificate    = "CERTIFICATE"
	LabelRSAPrivateKey  = "RSA PRIVATE KEY"
	LabelECPrivateKey   = "EC PRIVATE KEY"
	LabelCertRequest    = "CERTIFICATE REQUEST"
)
