// Package account implements the ACME account lifecycle: persisted
// registration state, create/update against the CA, and the
// terms-of-service/contact reconciliation a conforming CA's
// registration handler performs server-side on every accepted update.
// EnsureRegistered below applies the client-side mirror of that merge
// rule before deciding whether an update call is even needed.
package account

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/acmevault/acmevault/acmeerr"
	"github.com/acmevault/acmevault/alog"
	"github.com/acmevault/acmevault/directory"
	"github.com/acmevault/acmevault/transport"
)

// Config is the on-disk account state: server-returned fields passed
// through verbatim, plus the client-enforced agreement URL.
type Config struct {
	ID        string   `json:"id,omitempty"`
	Contact   []string `json:"contact,omitempty"`
	Agreement string   `json:"agreement,omitempty"`
}

// Manager owns one account's persisted Config and talks to the CA
// through a transport.Client.
type Manager struct {
	Dir       string
	CAURL     string
	AccountID string
	Client    *transport.Client
	Directory *directory.Directory
	AutoFix   bool
}

func (m *Manager) nonceSource() string {
	return m.CAURL
}

func (m *Manager) path() string {
	caDir := base64.RawURLEncoding.EncodeToString([]byte(m.CAURL))
	return filepath.Join(m.Dir, caDir, m.AccountID+".json")
}

func (m *Manager) load() (*Config, error) {
	data, err := os.ReadFile(m.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, acmeerr.Wrap(acmeerr.InternalError, err, "read account config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, acmeerr.Wrap(acmeerr.InternalError, err, "parse account config")
	}
	return &cfg, nil
}

func (m *Manager) save(cfg *Config) error {
	path := m.path()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "create account directory")
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "marshal account config")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return acmeerr.Wrap(acmeerr.InternalError, err, "write account config")
	}
	return nil
}

// EnsureTermsAccepted checks the directory's current terms against
// the persisted agreement: if they differ and the caller has set
// acceptTerms, the registration is updated with the new terms;
// otherwise the operation fails with TermsNotAccepted.
func (m *Manager) EnsureTermsAccepted(cfg *Config, acceptTerms bool) (*Config, error) {
	tos := m.Directory.TermsOfService
	if tos == "" || tos == cfg.Agreement {
		return cfg, nil
	}
	if !acceptTerms {
		return nil, acmeerr.New(acmeerr.TermsNotAccepted, "CA terms of service have changed to %s", tos)
	}
	cfg.Agreement = tos
	return m.update(cfg)
}

// EnsureRegistered returns the account this process should use: with
// no local config, or when reset is requested, it registers fresh;
// otherwise it updates only if the caller's contact set differs from
// the persisted one (order-insensitive bag equality).
func (m *Manager) EnsureRegistered(contact []string, reset bool) (*Config, error) {
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}

	if reset || cfg == nil {
		return m.create(contact)
	}

	if !sameContactBag(cfg.Contact, contact) {
		cfg.Contact = contact
		return m.update(cfg)
	}
	return cfg, nil
}

func sameContactBag(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// create posts to newAccount with {agreement, contact?} and persists
// the response, overwriting agreement with the directory's current
// terms.
func (m *Manager) create(contact []string) (*Config, error) {
	req := map[string]interface{}{
		"agreement": m.Directory.TermsOfService,
	}
	if len(contact) > 0 {
		req["contact"] = contact
	}

	var resp Config
	err := m.Client.Signed(m.nonceSource(), m.Directory.NewAccount, "new-reg", req, &resp)
	if err != nil {
		if m.AutoFix && acmeerr.Is(err, acmeerr.InvalidEmail) {
			alog.Get().Warning("account: retrying create with contact cleared after InvalidEmail")
			delete(req, "contact")
			err = m.Client.Signed(m.nonceSource(), m.Directory.NewAccount, "new-reg", req, &resp)
		}
		if err != nil {
			return nil, err
		}
	}

	resp.Agreement = m.Directory.TermsOfService
	resp.Contact = contact
	if err := m.save(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// update posts the current config to account+id and persists the
// response. On Malformed/Unauthorized, when auto-fix is enabled, it
// falls through to a fresh create — discarding the server-side
// account binding, a deliberate but audited hazard.
func (m *Manager) update(cfg *Config) (*Config, error) {
	url := m.Directory.Account + cfg.ID

	var resp Config
	err := m.Client.Signed(m.nonceSource(), url, "reg", cfg, &resp)
	if err != nil {
		if m.AutoFix && (acmeerr.Is(err, acmeerr.Malformed) || acmeerr.Is(err, acmeerr.Unauthorized)) {
			alog.Get().Audit("account: update failed (%s), discarding account binding and falling through to fresh create", err)
			return m.create(cfg.Contact)
		}
		return nil, err
	}

	resp.Agreement = cfg.Agreement
	resp.Contact = cfg.Contact
	if err := m.save(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
