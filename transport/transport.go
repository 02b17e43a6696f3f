// Package transport implements the two primitive HTTP calls every
// higher-level ACME operation is built from: fetching a fresh
// anti-replay nonce, and sending a signed JWS request. Both are
// instrumented with Prometheus counters through a metrics.Scope.
package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/acmevault/acmevault/acmeerr"
	"github.com/acmevault/acmevault/jose"
	"github.com/acmevault/acmevault/metrics"
)

// problem is the ACME error-document shape: {type, detail}, per
// RFC 7807's application/problem+json convention.
type problem struct {
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// Client sends nonce and signed requests against a single CA.
type Client struct {
	HTTP   *http.Client
	Signer *jose.Signer
	Scope  metrics.Scope
}

// New returns a Client using http.DefaultClient and a no-op metrics
// scope when scope is nil.
func New(signer *jose.Signer, scope metrics.Scope) *Client {
	if scope == nil {
		scope = metrics.NewNoopScope()
	}
	return &Client{HTTP: http.DefaultClient, Signer: signer, Scope: scope.NewScope("transport")}
}

// Nonce performs a HEAD request against url and returns the
// Replay-Nonce response header. Any URL the CA serves works — callers
// typically pass the directory URL itself.
func (c *Client) Nonce(url string) (string, error) {
	c.Scope.Inc("nonce_requests", 1)
	resp, err := c.HTTP.Head(url)
	if err != nil {
		c.Scope.Inc("nonce_failures", 1)
		return "", acmeerr.Wrap(acmeerr.IssuerUnreachable, err, "HEAD %s", url)
	}
	defer resp.Body.Close()

	n := resp.Header.Get("Replay-Nonce")
	if n == "" {
		c.Scope.Inc("nonce_failures", 1)
		return "", acmeerr.New(acmeerr.NoNonce, "no Replay-Nonce header from %s", url)
	}
	return n, nil
}

// Signed composes a JWS over payload (adding payload.resource),
// POSTs it to url with Content-Type: application/json, and on a
// non-2xx response parses the {type, detail} problem document into a
// typed acmeerr.Error. Every ACME signed call is a POST.
func (c *Client) Signed(nonceURL, url, resource string, payload interface{}, out interface{}) error {
	n, err := c.Nonce(nonceURL)
	if err != nil {
		return err
	}

	req, err := c.Signer.Sign(n, resource, payload)
	if err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "sign %s request", resource)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "marshal signed request")
	}

	c.Scope.Inc("signed_requests", 1)
	httpResp, err := c.HTTP.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		c.Scope.Inc("signed_failures", 1)
		return acmeerr.Wrap(acmeerr.IssuerUnreachable, err, "POST %s", url)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.Scope.Inc("signed_failures", 1)
		return acmeerr.Wrap(acmeerr.IssuerUnreachable, err, "read response from %s", url)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.Scope.Inc("signed_failures", 1)
		return problemToError(respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return acmeerr.Wrap(acmeerr.InternalError, err, "decode response from %s", url)
		}
	}
	return nil
}

// SignedForBytes is Signed's twin for endpoints that return a raw
// body rather than a JSON document — the newOrder/new-cert response
// is the DER bytes of the issued certificate, not JSON.
func (c *Client) SignedForBytes(nonceURL, url, resource string, payload interface{}) ([]byte, error) {
	n, err := c.Nonce(nonceURL)
	if err != nil {
		return nil, err
	}

	req, err := c.Signer.Sign(n, resource, payload)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.InternalError, err, "sign %s request", resource)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.InternalError, err, "marshal signed request")
	}

	c.Scope.Inc("signed_requests", 1)
	httpResp, err := c.HTTP.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		c.Scope.Inc("signed_failures", 1)
		return nil, acmeerr.Wrap(acmeerr.IssuerUnreachable, err, "POST %s", url)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.Scope.Inc("signed_failures", 1)
		return nil, acmeerr.Wrap(acmeerr.IssuerUnreachable, err, "read response from %s", url)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.Scope.Inc("signed_failures", 1)
		return nil, problemToError(respBody)
	}
	return respBody, nil
}

// problemToError maps a {type, detail} ACME problem document to a
// typed acmeerr.Error, dispatching on the portion of type after the
// last ':' (ACME problem URNs are "urn:acme:error:<kind>"). An
// unrecognized kind still carries the CA's detail string, just tagged
// InternalError.
func problemToError(body []byte) error {
	var p problem
	if err := json.Unmarshal(body, &p); err != nil || p.Type == "" {
		return acmeerr.New(acmeerr.InternalError, "non-2xx response with unparseable body: %s", string(body))
	}

	kind := p.Type
	if i := strings.LastIndex(p.Type, ":"); i >= 0 {
		kind = p.Type[i+1:]
	}

	switch kind {
	case "invalidEmail":
		return acmeerr.New(acmeerr.InvalidEmail, "%s", p.Detail)
	case "malformed":
		return acmeerr.New(acmeerr.Malformed, "%s", p.Detail)
	case "unauthorized":
		return acmeerr.New(acmeerr.Unauthorized, "%s", p.Detail)
	case "badNonce":
		return acmeerr.New(acmeerr.BadNonce, "%s", p.Detail)
	default:
		return acmeerr.New(acmeerr.InternalError, "%s: %s", kind, p.Detail)
	}
}
