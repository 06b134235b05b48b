// Package aggregator implements the open-banking bank-account-data API
// client: transport, retries, and the bearer-token lifecycle. Callers never
// see tokens; a 401 triggers a refresh and, if the refresh token itself has
// expired, a new token pair obtained from the stored secrets.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is the production bank-account-data API.
const DefaultBaseURL = "https://bankaccountdata.gocardless.com/api/v2/"

// APIError is a non-success response from the aggregator. Fatal: the caller
// aborts the affected account's download.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aggregator: status %d: %s", e.Status, e.Body)
}

// CredentialStore supplies the aggregator secrets and persists refreshed
// tokens. Backed by the JSON account registry on disk.
type CredentialStore interface {
	Credentials() (secretID, secretKey, refreshToken string)
	SaveRefreshToken(token string) error
}

// Client talks to the aggregator API.
type Client struct {
	baseURL string
	http    *http.Client
	creds   CredentialStore
	logger  *slog.Logger

	mu     sync.Mutex
	access string

	// refreshMu serializes token refreshes so concurrent requests that
	// hit a missing or expired token trigger a single refresh.
	refreshMu sync.Mutex
}

// NewClient creates an aggregator client. Transient transport failures are
// retried by the underlying retryable client; HTTP-level auth failures are
// handled by the token lifecycle here.
func NewClient(baseURL string, creds CredentialStore, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/") + "/",
		http:    rc.StandardClient(),
		creds:   creds,
		logger:  logger,
	}
}

// Balances fetches the account's named balance figures.
func (c *Client) Balances(ctx context.Context, accountID string) ([]Balance, error) {
	var out struct {
		Balances []Balance `json:"balances"`
	}
	path := fmt.Sprintf("accounts/%s/balances/", accountID)
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Balances, nil
}

// Transactions fetches the account's booked and pending transactions.
func (c *Client) Transactions(ctx context.Context, accountID string) (TransactionsGroup, error) {
	var out struct {
		Transactions TransactionsGroup `json:"transactions"`
	}
	path := fmt.Sprintf("accounts/%s/transactions/", accountID)
	if err := c.get(ctx, path, nil, &out); err != nil {
		return TransactionsGroup{}, err
	}
	return out.Transactions, nil
}

// Institutions lists the banks available in a country.
func (c *Client) Institutions(ctx context.Context, country string) ([]Institution, error) {
	var out []Institution
	params := url.Values{"country": {country}}
	if err := c.get(ctx, "institutions/", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateRequisition starts an end-user authorization with an institution.
func (c *Client) CreateRequisition(ctx context.Context, institutionID, redirect string) (Requisition, error) {
	body := map[string]string{
		"redirect":       redirect,
		"institution_id": institutionID,
	}
	var out Requisition
	if err := c.post(ctx, "requisitions/", body, &out, true); err != nil {
		return Requisition{}, err
	}
	return out, nil
}

// Requisition fetches a requisition, including the linked account ids.
func (c *Client) Requisition(ctx context.Context, id string) (Requisition, error) {
	var out Requisition
	if err := c.get(ctx, "requisitions/"+id+"/", nil, &out); err != nil {
		return Requisition{}, err
	}
	return out, nil
}

// NewToken obtains a fresh token pair from the secrets and persists the
// refresh token. Used by the token CLI mode and by the automatic recovery
// path when a refresh token has expired.
func (c *Client) NewToken(ctx context.Context, secretID, secretKey string) (TokenPair, error) {
	body := map[string]string{
		"secret_id":  secretID,
		"secret_key": secretKey,
	}
	var pair TokenPair
	if err := c.post(ctx, "token/new/", body, &pair, false); err != nil {
		return TokenPair{}, err
	}

	c.mu.Lock()
	c.access = pair.Access
	c.mu.Unlock()

	if err := c.creds.SaveRefreshToken(pair.Refresh); err != nil {
		return TokenPair{}, fmt.Errorf("failed to persist refresh token: %w", err)
	}
	return pair, nil
}

// refreshAccess exchanges the stored refresh token for an access token.
// A 401 means the refresh token expired; fall back to a new token pair.
// stale is the access token the caller saw fail (empty on a cold start);
// when another request already replaced it, no refresh is issued.
func (c *Client) refreshAccess(ctx context.Context, stale string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if cur := c.accessToken(); cur != stale {
		return nil
	}

	secretID, secretKey, refresh := c.creds.Credentials()

	body := map[string]string{"refresh": refresh}
	var out TokenPair
	err := c.post(ctx, "token/refresh/", body, &out, false)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.logger.Debug("refresh token expired, requesting new token pair")
			_, err = c.NewToken(ctx, secretID, secretKey)
			return err
		}
		return err
	}

	c.mu.Lock()
	c.access = out.Access
	c.mu.Unlock()
	return nil
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.doAuthed(ctx, http.MethodGet, path, params, nil, out)
}

// post issues a POST; authed selects whether the bearer token is attached
// (the token endpoints themselves are unauthenticated).
func (c *Client) post(ctx context.Context, path string, body, out any, authed bool) error {
	if authed {
		return c.doAuthed(ctx, http.MethodPost, path, nil, body, out)
	}
	return c.do(ctx, http.MethodPost, path, nil, body, out, "")
}

// doAuthed runs an authenticated request, refreshing the access token up
// front when none is held yet and once more if the API answers 401.
func (c *Client) doAuthed(ctx context.Context, method, path string, params url.Values, body, out any) error {
	token := c.accessToken()
	if token == "" {
		if err := c.refreshAccess(ctx, ""); err != nil {
			return err
		}
		token = c.accessToken()
	}

	err := c.do(ctx, method, path, params, body, out, token)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		if err := c.refreshAccess(ctx, token); err != nil {
			return err
		}
		return c.do(ctx, method, path, params, body, out, c.accessToken())
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any, bearer string) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
