package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AccountMapping binds one aggregator account to a ledger account path and
// selects which transaction date is authoritative for matching.
//
// On disk it is a 2-element array ["<account path>", "<date key>"], the
// shape existing registries already use.
type AccountMapping struct {
	LedgerAccount string
	DateKey       string // "bookingDate" or "valueDate"
}

// MarshalJSON encodes the mapping as a 2-element array.
func (m AccountMapping) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{m.LedgerAccount, m.DateKey})
}

// UnmarshalJSON decodes the 2-element array form.
func (m *AccountMapping) UnmarshalJSON(data []byte) error {
	var pair [2]string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("account mapping must be [path, dateKey]: %w", err)
	}
	m.LedgerAccount = pair[0]
	m.DateKey = pair[1]
	return nil
}

// Registry is the persisted account registry: aggregator credentials plus
// the mapping from ledger file path to its configured aggregator accounts.
// Field order matches the sorted-key order existing registry files use.
type Registry struct {
	Accounts  map[string]map[string]AccountMapping `json:"accounts,omitempty"`
	SecretID  string                               `json:"secret_id,omitempty"`
	SecretKey string                               `json:"secret_key,omitempty"`
	Token     string                               `json:"token,omitempty"`

	path string
	mu   sync.Mutex
}

// DefaultRegistryPath returns the per-user registry location.
func DefaultRegistryPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ledgersync", "registry.json"), nil
}

// LoadRegistry reads the registry from path. A missing file yields an empty
// registry bound to that path, so first runs can register and save.
func LoadRegistry(path string) (*Registry, error) {
	reg := &Registry{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}
	return reg, nil
}

// Save writes the registry back to its path, creating parent directories
// as needed. Sorted keys and 4-space indentation match the existing
// on-disk format.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(r, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o600)
}

// SetAccount records (or replaces) one aggregator-account binding.
func (r *Registry) SetAccount(ledgerFile, accountID, ledgerAccount, dateKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Accounts == nil {
		r.Accounts = make(map[string]map[string]AccountMapping)
	}
	if r.Accounts[ledgerFile] == nil {
		r.Accounts[ledgerFile] = make(map[string]AccountMapping)
	}
	r.Accounts[ledgerFile][accountID] = AccountMapping{
		LedgerAccount: ledgerAccount,
		DateKey:       dateKey,
	}
}

// LedgerFiles returns the configured ledger file paths.
func (r *Registry) LedgerFiles() []string {
	files := make([]string, 0, len(r.Accounts))
	for f := range r.Accounts {
		files = append(files, f)
	}
	return files
}

// AllAccountIDs returns every configured aggregator account id across all
// ledger files.
func (r *Registry) AllAccountIDs() []string {
	var ids []string
	for _, accounts := range r.Accounts {
		for id := range accounts {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetSecrets stores the aggregator API secrets.
func (r *Registry) SetSecrets(secretID, secretKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SecretID = secretID
	r.SecretKey = secretKey
}

// Credentials implements aggregator.CredentialStore.
func (r *Registry) Credentials() (secretID, secretKey, refreshToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SecretID, r.SecretKey, r.Token
}

// SaveRefreshToken implements aggregator.CredentialStore: the refreshed
// token is persisted immediately so the next run can use it.
func (r *Registry) SaveRefreshToken(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Token = token
	return r.saveLocked()
}
