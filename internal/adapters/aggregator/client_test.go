package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeCreds struct {
	mu        sync.Mutex
	secretID  string
	secretKey string
	refresh   string
	saved     []string
}

func (f *fakeCreds) Credentials() (string, string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.secretID, f.secretKey, f.refresh
}

func (f *fakeCreds) SaveRefreshToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = token
	f.saved = append(f.saved, token)
	return nil
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestClient_BalancesRefreshesAccessToken(t *testing.T) {
	var refreshCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			refreshCalls++
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "refresh-1", body["refresh"])
			writeJSON(t, w, TokenPair{Access: "access-1"})
		case "/accounts/acc-1/balances/":
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			writeJSON(t, w, map[string]any{
				"balances": []Balance{
					{BalanceType: "interimBooked", BalanceAmount: Amount{Amount: "42.00", Currency: "EUR"}},
				},
			})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer server.Close()

	creds := &fakeCreds{secretID: "id", secretKey: "key", refresh: "refresh-1"}
	client := NewClient(server.URL, creds, nil)

	balances, err := client.Balances(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "interimBooked", balances[0].BalanceType)
	assert.Equal(t, 1, refreshCalls)

	// Second call reuses the held access token.
	_, err = client.Balances(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, refreshCalls)
}

func TestClient_ExpiredRefreshFallsBackToNewToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			w.WriteHeader(http.StatusUnauthorized)
		case "/token/new/":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "id", body["secret_id"])
			assert.Equal(t, "key", body["secret_key"])
			writeJSON(t, w, TokenPair{Access: "access-2", Refresh: "refresh-2"})
		case "/accounts/acc-1/transactions/":
			assert.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
			writeJSON(t, w, map[string]any{
				"transactions": TransactionsGroup{
					Booked: []TransactionRecord{{InternalTransactionID: "t1"}},
				},
			})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer server.Close()

	creds := &fakeCreds{secretID: "id", secretKey: "key", refresh: "stale"}
	client := NewClient(server.URL, creds, nil)

	group, err := client.Transactions(context.Background(), "acc-1")
	require.NoError(t, err)
	require.Len(t, group.Booked, 1)

	// The new refresh token was persisted for the next run.
	assert.Equal(t, []string{"refresh-2"}, creds.saved)
}

func TestClient_RetriesOnceAfterMidRun401(t *testing.T) {
	var accessCounter int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			accessCounter++
			writeJSON(t, w, TokenPair{Access: map[int]string{1: "first", 2: "second"}[accessCounter]})
		case "/accounts/acc-1/balances/":
			// The first access token has gone stale server-side.
			if r.Header.Get("Authorization") != "Bearer second" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			writeJSON(t, w, map[string]any{"balances": []Balance{}})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, &fakeCreds{refresh: "r"}, nil)
	_, err := client.Balances(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, accessCounter)
}

// Concurrent requests on a cold start must share one token refresh, not
// each fire their own.
func TestClient_ColdStartRefreshesOnce(t *testing.T) {
	var refreshCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/refresh/":
			refreshCalls.Add(1)
			writeJSON(t, w, TokenPair{Access: "access-1"})
		case "/accounts/acc-1/balances/":
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			writeJSON(t, w, map[string]any{"balances": []Balance{}})
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, &fakeCreds{refresh: "r"}, nil)

	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			_, err := client.Balances(context.Background(), "acc-1")
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, refreshCalls.Load())
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token/refresh/" {
			writeJSON(t, w, TokenPair{Access: "a"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"Not found."}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, &fakeCreds{refresh: "r"}, nil)
	_, err := client.Balances(context.Background(), "nope")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Body, "Not found")
}

func TestAmount_Float(t *testing.T) {
	v, err := Amount{Amount: "-12.34", Currency: "EUR"}.Float()
	require.NoError(t, err)
	assert.Equal(t, -12.34, v)

	_, err = Amount{Amount: "twelve"}.Float()
	assert.Error(t, err)
}

func TestTransactionRecord_Date(t *testing.T) {
	rec := TransactionRecord{BookingDate: "2024-03-10", ValueDate: "2024-03-12"}

	booking, err := rec.Date(DateKeyBooking)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-10", booking.Format("2006-01-02"))

	value, err := rec.Date(DateKeyValue)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-12", value.Format("2006-01-02"))

	_, err = rec.Date("postingDate")
	assert.Error(t, err)
}
