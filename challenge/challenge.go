// Package challenge implements the per-identifier authorization state
// machine: request an authorization, pick the configured challenge
// type, deploy the response via a user-supplied callback, tell the CA
// to validate, and poll until a terminal status. The Challenge/
// KeyAuthorization wire shapes mirror what a conforming CA's
// authorization and validation endpoints expose; the actual
// validation work happens CA-side — this package only ever deploys
// and waits on it.
package challenge

import (
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmhodges/clock"

	"github.com/acmevault/acmevault/acmeerr"
	"github.com/acmevault/acmevault/alog"
	"github.com/acmevault/acmevault/der"
	"github.com/acmevault/acmevault/jose"
	"github.com/acmevault/acmevault/metrics"
	"github.com/acmevault/acmevault/transport"
)

// Type identifies a challenge validation method.
type Type string

const (
	HTTP01 Type = "http-01"
	DNS01  Type = "dns-01"
)

// Deployer is the user-supplied pair of callbacks that actually
// publish and remove challenge material. For http-01, selector is the
// raw token and value is the key authorization. For dns-01, selector
// is `_acme-challenge.<domain>` and value is
// b64u(SHA-256(keyAuthorization)). Cleanup additionally receives the
// authorization's terminal status string.
type Deployer interface {
	Deploy(domain, selector, value string) error
	Cleanup(domain, selector, value, status string)
}

// authzRequest/authzResponse/wireChallenge mirror the JSON shapes an
// ACME authorization document and its nested challenges expose.
type authzRequest struct {
	Identifier struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"identifier"`
}

type wireChallenge struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	URI    string `json:"uri"`
	Token  string `json:"token"`
}

type authzResponse struct {
	Status     string          `json:"status"`
	Challenges []wireChallenge `json:"challenges"`
}

// Orchestrator drives the authorization state machine for one CA.
type Orchestrator struct {
	Client        *transport.Client
	Signer        *jose.Signer
	Deployer      Deployer
	Type          Type
	Clock         clock.Clock
	Preflight     bool
	PreflightTries int
	Metrics       *metrics.Registry
}

// Authorize runs the full state machine for one domain against
// newAuthzURL, from requesting the authorization through a terminal
// valid or invalid outcome.
func (o *Orchestrator) Authorize(newAuthzURL, domain string) error {
	authz, err := o.requestAuthz(newAuthzURL, domain)
	if err != nil {
		return err
	}

	for _, c := range authz.Challenges {
		if c.Status == "valid" {
			alog.Get().Notice("challenge: cached valid authorization for %s", domain)
			return nil
		}
	}

	selected, err := o.pick(authz.Challenges)
	if err != nil {
		return err
	}

	keyAuth := o.keyAuthorization(selected.Token)

	selector, value := o.deployArgs(domain, selected.Token, keyAuth)
	if err := o.Deployer.Deploy(domain, selector, value); err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "deploy challenge for %s", domain)
	}

	if o.Preflight && o.Type == DNS01 {
		o.preflightDNS(domain, value)
	}

	status, respErr := o.respondAndPoll(selected.URI, keyAuth)

	o.Deployer.Cleanup(domain, selector, value, status)

	if o.Metrics != nil {
		outcome := "valid"
		if respErr != nil {
			outcome = "invalid"
		}
		o.Metrics.ObserveChallenge(string(o.Type), outcome)
	}

	return respErr
}

func (o *Orchestrator) requestAuthz(newAuthzURL, domain string) (*authzResponse, error) {
	req := authzRequest{}
	req.Identifier.Type = "dns"
	req.Identifier.Value = domain

	var resp authzResponse
	if err := o.Client.Signed(newAuthzURL, newAuthzURL, "new-authz", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (o *Orchestrator) pick(challenges []wireChallenge) (*wireChallenge, error) {
	for i := range challenges {
		if Type(challenges[i].Type) == o.Type {
			if challenges[i].Status != "pending" {
				return nil, acmeerr.New(acmeerr.ChallengeNotPending, "challenge %s is %s, not pending", o.Type, challenges[i].Status)
			}
			return &challenges[i], nil
		}
	}
	return nil, acmeerr.New(acmeerr.Malformed, "no %s challenge offered", o.Type)
}

// keyAuthorization builds the key authorization string, token
// concatenated with the account key's JWK thumbprint, per RFC 8555 §8.1.
func (o *Orchestrator) keyAuthorization(token string) string {
	return token + "." + o.Signer.Thumbprint()
}

// deployArgs computes the (selector, value) pair the Deployer
// receives, which differs by challenge type.
func (o *Orchestrator) deployArgs(domain, token, keyAuth string) (selector, value string) {
	switch o.Type {
	case DNS01:
		sum := sha256.Sum256([]byte(keyAuth))
		return "_acme-challenge." + domain, der.EncodeB64(sum[:])
	default:
		return token, keyAuth
	}
}

func (o *Orchestrator) respondAndPoll(challengeURL, keyAuth string) (string, error) {
	if err := o.Client.Signed(challengeURL, challengeURL, "challenge", map[string]string{"keyAuthorization": keyAuth}, nil); err != nil {
		return "invalid", err
	}

	for {
		var c wireChallenge
		resp, err := http.Get(challengeURL)
		if err != nil {
			return "invalid", acmeerr.Wrap(acmeerr.IssuerUnreachable, err, "poll challenge %s", challengeURL)
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&c)
		resp.Body.Close()
		if decodeErr != nil {
			return "invalid", acmeerr.Wrap(acmeerr.InternalError, decodeErr, "decode challenge poll response")
		}

		switch c.Status {
		case "pending":
			o.Clock.Sleep(time.Second)
			continue
		case "valid":
			return "valid", nil
		case "invalid":
			return "invalid", acmeerr.New(acmeerr.ChallengeInvalid, "challenge validation failed for %s", challengeURL)
		default:
			return c.Status, acmeerr.New(acmeerr.ChallengeNotPending, "unexpected terminal challenge status %q", c.Status)
		}
	}
}

// preflightDNS is a diagnostic convenience: it checks the expected TXT
// digest is visible before handing off to the CA's
// own poll loop, retrying a bounded number of times with backoff. A
// failure here is only ever logged — it never blocks or fails
// Authorize, since the CA's own validation (respondAndPoll) is
// authoritative.
func (o *Orchestrator) preflightDNS(domain, expectedDigest string) {
	name := "_acme-challenge." + domain
	tries := o.PreflightTries
	if tries <= 0 {
		tries = 5
	}
	for i := 0; i < tries; i++ {
		values, err := lookupTXT(name)
		if err == nil {
			for _, v := range values {
				if v == expectedDigest {
					alog.Get().Debug("challenge: preflight found expected TXT record for %s", name)
					return
				}
			}
		}
		alog.Get().Notice("challenge: %s not yet propagated, retrying (%d/%d)", name, i+1, tries)
		o.Clock.Sleep(time.Duration(i+1) * 2 * time.Second)
	}
	alog.Get().Warning("challenge: %s did not propagate within preflight budget, deferring to CA poll", name)
}
